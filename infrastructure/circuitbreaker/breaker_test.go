package circuitbreaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/circuitbreaker"
)

var errSink = errors.New("kafka unavailable")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newBreaker(t *testing.T, clock *fakeClock, transitions *[]string) *circuitbreaker.Breaker {
	t.Helper()

	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		Now:              clock.Now,
		OnStateChange: func(from, to circuitbreaker.State) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		},
	})
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []string
	b := newBreaker(t, clock, &transitions)

	for range 2 {
		_ = b.Execute(func() error { return errSink })
	}
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the circuit was open")
	}
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []string
	b := newBreaker(t, clock, &transitions)

	for range 2 {
		_ = b.Execute(func() error { return errSink })
	}
	clock.now = clock.now.Add(2 * time.Second)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != circuitbreaker.StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []string
	b := newBreaker(t, clock, &transitions)

	for range 2 {
		_ = b.Execute(func() error { return errSink })
	}
	clock.now = clock.now.Add(2 * time.Second)
	_ = b.Execute(func() error { return errSink })

	if b.State() != circuitbreaker.StateOpen {
		t.Errorf("state = %s, want open", b.State())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []string
	b := newBreaker(t, clock, &transitions)

	_ = b.Execute(func() error { return errSink })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errSink })

	if b.State() != circuitbreaker.StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}
