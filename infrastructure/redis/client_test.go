package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/redis"
)

func TestNewClient_EmptyAddress(t *testing.T) {
	t.Parallel()

	client, err := redis.NewClient(redis.Config{})
	if !errors.Is(err, redis.ErrEmptyAddress) {
		t.Errorf("err = %v, want ErrEmptyAddress", err)
	}
	if client != nil {
		t.Error("expected nil client for empty address")
	}
}

func TestNewClient_Connects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := redis.NewClient(redis.Config{Address: mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestNewClient_UnreachableServer(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := redis.NewClient(redis.Config{Address: addr}); err == nil {
		t.Fatal("expected ping error for a closed server")
	}
}
