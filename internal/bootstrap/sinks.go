package bootstrap

import (
	"context"
	"fmt"

	infralogger "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/sink"
)

// setupSinks builds every enabled sink. On error the sinks built so far are
// closed.
func (a *App) setupSinks(ctx context.Context) error {
	cfg := a.cfg.Sinks

	if cfg.Log.IsEnabled() {
		a.sinks = append(a.sinks, sink.NewLogSink(a.log))
	}

	if cfg.Postgres.Enabled {
		db, err := ConnectDatabase(&cfg.Postgres, a.log)
		if err != nil {
			return fmt.Errorf("postgres sink: %w", err)
		}
		a.db = db
		pg := sink.NewPostgresSink(db, a.log, sink.PostgresConfig{
			FlushInterval:  cfg.Postgres.FlushInterval,
			FlushThreshold: cfg.Postgres.FlushThreshold,
		})
		pg.Start()
		a.sinks = append(a.sinks, pg)
	}

	if cfg.Kafka.Enabled {
		writer := sink.NewKafkaWriter(sink.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		a.sinks = append(a.sinks, sink.NewKafkaSink(writer))
		a.log.Info("Kafka sink enabled",
			infralogger.Strings("brokers", cfg.Kafka.Brokers),
			infralogger.String("topic", cfg.Kafka.Topic),
		)
	}

	if cfg.Redis.Enabled {
		client, err := a.redisClient()
		if err != nil {
			return fmt.Errorf("redis sink: %w", err)
		}
		a.sinks = append(a.sinks, sink.NewRedisSink(client, cfg.Redis.Channel))
	}

	if cfg.Archive.Enabled {
		archiveCfg := sink.ArchiveConfig{
			Endpoint:      cfg.Archive.Endpoint,
			AccessKey:     cfg.Archive.AccessKey,
			SecretKey:     cfg.Archive.SecretKey,
			UseSSL:        cfg.Archive.UseSSL,
			Bucket:        cfg.Archive.Bucket,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}
		client, err := sink.NewMinIOClient(archiveCfg)
		if err != nil {
			return fmt.Errorf("archive sink: %w", err)
		}
		archive, err := sink.NewArchiveSink(ctx, client, archiveCfg, a.log)
		if err != nil {
			return fmt.Errorf("archive sink: %w", err)
		}
		archive.Start()
		a.sinks = append(a.sinks, archive)
	}

	for _, s := range a.sinks {
		if err := a.dispatcher.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", s.Name(), err)
		}
	}
	return nil
}

// closeSinks flushes and closes every sink.
func (a *App) closeSinks() {
	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			a.log.Error("Failed to close sink",
				infralogger.String("sink", s.Name()),
				infralogger.Error(err),
			)
		}
	}
}
