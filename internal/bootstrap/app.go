// Package bootstrap handles application initialization and lifecycle management
// for the capture-ingest service.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/circuitbreaker"
	infragin "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/profiling"
	infraredis "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/config"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/dedup"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/dispatcher"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/fingerprint"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/ingest"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/metrics"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/mqttin"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/queue"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/sink"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/validator"
)

// Start initializes and runs the capture-ingest service until SIGINT or SIGTERM.
func Start() error {
	cfg, configErr := LoadConfig()
	if configErr != nil {
		return fmt.Errorf("config: %w", configErr)
	}

	log, logErr := CreateLogger(cfg)
	if logErr != nil {
		return fmt.Errorf("logger: %w", logErr)
	}
	defer func() { _ = log.Sync() }()

	profiling.StartPprofServer(log)
	profiler, profErr := profiling.StartPyroscope(cfg.Service.Name, log)
	if profErr != nil {
		log.Warn("Continuous profiling disabled", infralogger.Error(profErr))
	}
	defer func() { _ = profiler.Stop() }()

	log.Info("Starting Capture Ingest Service",
		infralogger.String("name", cfg.Service.Name),
		infralogger.String("version", cfg.Service.Version),
		infralogger.String("host", cfg.Service.Host),
		infralogger.Int("port", cfg.Service.Port),
	)

	ctx := context.Background()
	app, appErr := NewApp(ctx, cfg, log)
	if appErr != nil {
		return appErr
	}

	if runErr := app.Run(ctx); runErr != nil {
		log.Error("Server error", infralogger.Error(runErr))
		return fmt.Errorf("server: %w", runErr)
	}

	log.Info("Capture Ingest Service stopped")
	return nil
}

// App owns every long-lived component of the service.
type App struct {
	cfg *config.Config
	log infralogger.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	redis *redis.Client
	db    *sql.DB

	store      dedup.Store
	memStore   *dedup.MemoryStore
	queue      *queue.Queue
	service    *ingest.Service
	dispatcher *dispatcher.Dispatcher
	sinks      []sink.Sink
	mqtt       *mqttin.Subscriber
	server     *infragin.Server

	done chan struct{}
}

// NewApp wires the service from cfg. Nothing accepts captures until Run.
func NewApp(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
		done:     make(chan struct{}),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.setup(ctx); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *App) setup(ctx context.Context) error {
	if err := a.setupDedup(); err != nil {
		return fmt.Errorf("dedup: %w", err)
	}

	a.queue = queue.New(a.cfg.Queue.Capacity)
	metrics.RegisterQueueGauges(a.registry, a.queue.Len, a.queue.Cap)

	normalizer := fingerprint.New(fingerprint.Options{
		QuerySensitive: a.cfg.Dedup.IsQuerySensitive(),
		IgnoredParams:  a.cfg.Dedup.IgnoredParams,
	})
	v := validator.New(validator.Config{
		AllowedSchemes:        a.cfg.Ingest.AllowedSchemes,
		ClockSkew:             a.cfg.Ingest.ClockSkew,
		MaxEventAge:           a.cfg.Ingest.MaxEventAge,
		AllowMissingTimestamp: a.cfg.Ingest.AllowMissingTimestamp,
	}, normalizer)
	a.service = ingest.NewService(v, a.store, a.queue, a.metrics, a.log)

	a.dispatcher = dispatcher.New(a.queue, dispatcher.Config{
		BufferSize: a.cfg.Dispatcher.ConsumerBuffer,
		Retry: retry.Config{
			MaxAttempts:  a.cfg.Dispatcher.MaxAttempts,
			InitialDelay: a.cfg.Dispatcher.RetryDelay,
		},
		Breaker: circuitbreaker.Config{
			FailureThreshold: a.cfg.Dispatcher.BreakerFailures,
			Timeout:          a.cfg.Dispatcher.BreakerTimeout,
		},
	}, a.log, a.metrics)

	if err := a.setupSinks(ctx); err != nil {
		return fmt.Errorf("sinks: %w", err)
	}

	if a.cfg.MQTT.Enabled {
		a.mqtt = mqttin.NewSubscriber(mqttin.Config{
			Broker:   a.cfg.MQTT.Broker,
			Topic:    a.cfg.MQTT.Topic,
			ClientID: a.cfg.MQTT.ClientID,
			Username: a.cfg.MQTT.Username,
			Password: a.cfg.MQTT.Password,
			QoS:      a.cfg.MQTT.QoS,
		}, a.service, a.log)
	}

	a.server = a.setupHTTPServer()
	return nil
}

func (a *App) setupDedup() error {
	opts := []dedup.Option{
		dedup.WithLogger(a.log),
		dedup.WithCapacityPressureHook(a.metrics.DedupCapacityPressure.Inc),
		dedup.WithEvictionHook(func(n int) { a.metrics.DedupEvictions.Add(float64(n)) }),
	}

	if a.cfg.Dedup.Backend == config.BackendRedis {
		client, err := a.redisClient()
		if err != nil {
			return err
		}
		a.store = dedup.NewRedisStore(client, a.cfg.Dedup.Window, opts...)
		a.log.Info("Using Redis dedup store", infralogger.String("address", a.cfg.Redis.Address))
		return nil
	}

	a.memStore = dedup.NewMemoryStore(a.cfg.Dedup.Window, a.cfg.Dedup.Capacity, opts...)
	a.memStore.StartSweeper(a.cfg.Dedup.SweepInterval)
	a.store = a.memStore
	return nil
}

// redisClient connects on first use and shares the client afterwards.
func (a *App) redisClient() (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := infraredis.NewClient(a.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = client
	return client, nil
}

// Service returns the ingest service shared by every ingress.
func (a *App) Service() *ingest.Service { return a.service }

// Server returns the HTTP server.
func (a *App) Server() *infragin.Server { return a.server }

// Register adds an extra consumer, such as an in-process ChannelSink. It is
// closed with the built-in sinks. Call before Run.
func (a *App) Register(s sink.Sink) error {
	if err := a.dispatcher.Register(s); err != nil {
		return fmt.Errorf("register %s: %w", s.Name(), err)
	}
	a.sinks = append(a.sinks, s)
	return nil
}

// Run starts dispatching, connects MQTT and serves HTTP until ctx ends or a
// shutdown signal arrives, then drains and releases everything.
func (a *App) Run(ctx context.Context) error {
	// The loop ends when the queue is closed and drained, not when ctx ends.
	a.dispatcher.Start(context.WithoutCancel(ctx))
	a.log.Info("Consumers registered", infralogger.Strings("consumers", a.dispatcher.Consumers()))

	mqttCtx, cancelMQTT := context.WithCancel(ctx)
	defer cancelMQTT()
	if a.mqtt != nil {
		go func() {
			if err := a.mqtt.Connect(mqttCtx, mqttin.InitialBackoff, mqttin.MaxBackoff); err != nil {
				a.log.Warn("MQTT ingress not connected", infralogger.Error(err))
			}
		}()
	}

	serveErr := a.server.RunWithGracefulShutdown(ctx)
	cancelMQTT()

	a.shutdown()
	return serveErr
}

// beginShutdown runs as the HTTP server's shutdown hook, before in-flight
// requests are waited for.
func (a *App) beginShutdown() {
	a.service.BeginShutdown()
	if a.mqtt != nil {
		a.mqtt.Close()
	}
}

func (a *App) shutdown() {
	// Covers the path where the server failed without running its hooks.
	a.beginShutdown()

	a.queue.Close()
	if err := a.dispatcher.Wait(a.cfg.Dispatcher.DrainTimeout); err != nil {
		a.log.Warn("Undelivered captures dropped at shutdown", infralogger.Error(err))
	}

	a.release()
}

// release closes sinks and backends. Safe on a partially built App.
func (a *App) release() {
	a.closeSinks()

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("Failed to release resources", infralogger.Error(err))
	}

	select {
	case <-a.done:
	default:
		close(a.done)
	}
}
