package config

import (
	"fmt"
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/config"
	infraredis "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/fingerprint"
)

// Default configuration values.
const (
	defaultServiceName     = "capture-ingest"
	defaultServiceHost     = "127.0.0.1"
	defaultServicePort     = 8089
	defaultVersion         = "0.1.0"
	defaultShutdownTimeout = 10 * time.Second
	defaultLoggingLevel    = "info"
	defaultLoggingFmt      = "json"

	defaultClockSkew    = 5 * time.Minute
	defaultMaxEventAge  = 24 * time.Hour
	defaultMaxBodyBytes = 64 * 1024

	defaultDedupBackend  = BackendMemory
	defaultDedupWindow   = 60 * time.Second
	defaultDedupCapacity = 10000
	defaultSweepInterval = 30 * time.Second

	defaultQueueCapacity = 1024

	defaultConsumerBuffer  = 256
	defaultMaxAttempts     = 3
	defaultRetryDelay      = 100 * time.Millisecond
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	defaultDrainTimeout    = 10 * time.Second

	defaultMaxRequests     = 600
	defaultRateLimitWindow = time.Minute

	defaultRedisAddress = "localhost:6379"

	defaultDBHost         = "localhost"
	defaultDBPort         = 5432
	defaultDBName         = "capture_ingest"
	defaultDBUser         = "postgres"
	defaultDBSSLMode      = "disable"
	defaultFlushInterval  = 2 * time.Second
	defaultFlushThreshold = 50

	defaultKafkaTopic   = "captures"
	defaultRedisChannel = "captures"

	defaultArchiveBucket   = "captures"
	defaultArchiveBatch    = 500
	defaultArchiveInterval = time.Minute

	defaultMQTTTopic    = "captures/+"
	defaultMQTTClientID = "capture-ingest"
	defaultMQTTQoS      = 1
)

// Dedup backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds the application configuration.
type Config struct {
	Service    ServiceConfig     `yaml:"service"`
	Ingest     IngestConfig      `yaml:"ingest"`
	Dedup      DedupConfig       `yaml:"dedup"`
	Queue      QueueConfig       `yaml:"queue"`
	Dispatcher DispatcherConfig  `yaml:"dispatcher"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	Redis      infraredis.Config `yaml:"redis"`
	Sinks      SinksConfig       `yaml:"sinks"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Host            string        `env:"CAPTURE_INGEST_HOST"      yaml:"host"`
	Port            int           `env:"CAPTURE_INGEST_PORT"      yaml:"port"`
	Debug           bool          `env:"APP_DEBUG"                yaml:"debug"`
	ShutdownTimeout time.Duration `env:"CAPTURE_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`
}

// IngestConfig holds validation limits.
type IngestConfig struct {
	ClockSkew             time.Duration `env:"CAPTURE_CLOCK_SKEW"      yaml:"clock_skew"`
	MaxEventAge           time.Duration `env:"CAPTURE_MAX_EVENT_AGE"   yaml:"max_event_age"`
	AllowedSchemes        []string      `env:"CAPTURE_ALLOWED_SCHEMES" yaml:"allowed_schemes"`
	MaxBodyBytes          int64         `yaml:"max_body_bytes"`
	AllowMissingTimestamp bool          `yaml:"allow_missing_timestamp"`
}

// DedupConfig holds the dedup window and store settings.
type DedupConfig struct {
	Backend        string        `env:"DEDUP_BACKEND"         yaml:"backend"`
	Window         time.Duration `env:"DEDUP_WINDOW"          yaml:"window"`
	Capacity       int           `env:"DEDUP_CAPACITY"        yaml:"capacity"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	QuerySensitive *bool         `env:"DEDUP_QUERY_SENSITIVE" yaml:"query_sensitive"`
	IgnoredParams  []string      `yaml:"ignored_params"`
}

// IsQuerySensitive reports whether the query string takes part in the
// fingerprint. Unset means true.
func (d *DedupConfig) IsQuerySensitive() bool {
	return d.QuerySensitive == nil || *d.QuerySensitive
}

// QueueConfig holds ingestion queue settings.
type QueueConfig struct {
	Capacity int `env:"QUEUE_CAPACITY" yaml:"capacity"`
}

// DispatcherConfig holds fan-out settings.
type DispatcherConfig struct {
	ConsumerBuffer  int           `env:"CONSUMER_BUFFER_SIZE" yaml:"consumer_buffer"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

// RateLimitConfig holds per-sender rate limiting configuration.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// SinksConfig enables and configures consumers.
type SinksConfig struct {
	Log      LogSinkConfig      `yaml:"log"`
	Postgres PostgresSinkConfig `yaml:"postgres"`
	Kafka    KafkaSinkConfig    `yaml:"kafka"`
	Redis    RedisSinkConfig    `yaml:"redis"`
	Archive  ArchiveSinkConfig  `yaml:"archive"`
}

// LogSinkConfig toggles the log sink.
type LogSinkConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the log sink runs. Unset means true.
func (l *LogSinkConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// PostgresSinkConfig holds PostgreSQL connection and batching configuration.
type PostgresSinkConfig struct {
	Enabled        bool          `env:"POSTGRES_CAPTURE_ENABLED"  yaml:"enabled"`
	Host           string        `env:"POSTGRES_CAPTURE_HOST"     yaml:"host"`
	Port           int           `env:"POSTGRES_CAPTURE_PORT"     yaml:"port"`
	User           string        `env:"POSTGRES_CAPTURE_USER"     yaml:"user"`
	Password       string        `env:"POSTGRES_CAPTURE_PASSWORD" yaml:"password"`
	Database       string        `env:"POSTGRES_CAPTURE_DB"       yaml:"database"`
	SSLMode        string        `env:"POSTGRES_CAPTURE_SSLMODE"  yaml:"sslmode"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	FlushThreshold int           `yaml:"flush_threshold"`
}

// DSN returns the PostgreSQL connection string.
func (d *PostgresSinkConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KafkaSinkConfig configures the Kafka producer.
type KafkaSinkConfig struct {
	Enabled bool     `env:"KAFKA_ENABLED" yaml:"enabled"`
	Brokers []string `env:"KAFKA_BROKERS" yaml:"brokers"`
	Topic   string   `env:"KAFKA_TOPIC"   yaml:"topic"`
}

// RedisSinkConfig configures Redis pub/sub publishing.
type RedisSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `env:"CAPTURE_REDIS_CHANNEL" yaml:"channel"`
}

// ArchiveSinkConfig configures the MinIO archive.
type ArchiveSinkConfig struct {
	Enabled       bool          `env:"MINIO_ENABLED"    yaml:"enabled"`
	Endpoint      string        `env:"MINIO_ENDPOINT"   yaml:"endpoint"`
	AccessKey     string        `env:"MINIO_ACCESS_KEY" yaml:"access_key"`
	SecretKey     string        `env:"MINIO_SECRET_KEY" yaml:"secret_key"`
	UseSSL        bool          `env:"MINIO_USE_SSL"    yaml:"use_ssl"`
	Bucket        string        `env:"MINIO_BUCKET"     yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MQTTConfig configures MQTT ingress.
type MQTTConfig struct {
	Enabled  bool   `env:"MQTT_ENABLED"   yaml:"enabled"`
	Broker   string `env:"MQTT_BROKER"    yaml:"broker"`
	Topic    string `env:"MQTT_TOPIC"     yaml:"topic"`
	ClientID string `env:"MQTT_CLIENT_ID" yaml:"client_id"`
	Username string `env:"MQTT_USERNAME"  yaml:"username"`
	Password string `env:"MQTT_PASSWORD"  yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	return infraconfig.LoadWithDefaults[Config](path, setDefaults)
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setIngestDefaults(&cfg.Ingest)
	setDedupDefaults(&cfg.Dedup)
	setQueueDefaults(&cfg.Queue)
	setDispatcherDefaults(&cfg.Dispatcher)
	setRateLimitDefaults(&cfg.RateLimit)
	setRedisDefaults(&cfg.Redis)
	setSinkDefaults(&cfg.Sinks)
	setMQTTDefaults(&cfg.MQTT)
	setLoggingDefaults(&cfg.Logging)
}

// setServiceDefaults applies default values to ServiceConfig.
func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Version == "" {
		svc.Version = defaultVersion
	}
	if svc.Host == "" {
		svc.Host = defaultServiceHost
	}
	if svc.Port == 0 {
		svc.Port = defaultServicePort
	}
	if svc.ShutdownTimeout == 0 {
		svc.ShutdownTimeout = defaultShutdownTimeout
	}
}

func setIngestDefaults(in *IngestConfig) {
	if in.ClockSkew == 0 {
		in.ClockSkew = defaultClockSkew
	}
	if in.MaxEventAge == 0 {
		in.MaxEventAge = defaultMaxEventAge
	}
	if len(in.AllowedSchemes) == 0 {
		in.AllowedSchemes = []string{"http", "https"}
	}
	if in.MaxBodyBytes == 0 {
		in.MaxBodyBytes = defaultMaxBodyBytes
	}
}

func setDedupDefaults(d *DedupConfig) {
	if d.Backend == "" {
		d.Backend = defaultDedupBackend
	}
	if d.Window == 0 {
		d.Window = defaultDedupWindow
	}
	if d.Capacity == 0 {
		d.Capacity = defaultDedupCapacity
	}
	if d.SweepInterval == 0 {
		d.SweepInterval = defaultSweepInterval
	}
	if d.IgnoredParams == nil {
		d.IgnoredParams = fingerprint.DefaultIgnoredParams
	}
}

func setQueueDefaults(q *QueueConfig) {
	if q.Capacity == 0 {
		q.Capacity = defaultQueueCapacity
	}
}

func setDispatcherDefaults(d *DispatcherConfig) {
	if d.ConsumerBuffer == 0 {
		d.ConsumerBuffer = defaultConsumerBuffer
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = defaultMaxAttempts
	}
	if d.RetryDelay == 0 {
		d.RetryDelay = defaultRetryDelay
	}
	if d.BreakerFailures == 0 {
		d.BreakerFailures = defaultBreakerFailures
	}
	if d.BreakerTimeout == 0 {
		d.BreakerTimeout = defaultBreakerTimeout
	}
	if d.DrainTimeout == 0 {
		d.DrainTimeout = defaultDrainTimeout
	}
}

func setRateLimitDefaults(rl *RateLimitConfig) {
	if rl.MaxRequests == 0 {
		rl.MaxRequests = defaultMaxRequests
	}
	if rl.Window == 0 {
		rl.Window = defaultRateLimitWindow
	}
}

func setRedisDefaults(r *infraredis.Config) {
	if r.Address == "" {
		r.Address = defaultRedisAddress
	}
}

func setSinkDefaults(s *SinksConfig) {
	pg := &s.Postgres
	if pg.Host == "" {
		pg.Host = defaultDBHost
	}
	if pg.Port == 0 {
		pg.Port = defaultDBPort
	}
	if pg.User == "" {
		pg.User = defaultDBUser
	}
	if pg.Database == "" {
		pg.Database = defaultDBName
	}
	if pg.SSLMode == "" {
		pg.SSLMode = defaultDBSSLMode
	}
	if pg.FlushInterval == 0 {
		pg.FlushInterval = defaultFlushInterval
	}
	if pg.FlushThreshold == 0 {
		pg.FlushThreshold = defaultFlushThreshold
	}

	if s.Kafka.Topic == "" {
		s.Kafka.Topic = defaultKafkaTopic
	}
	if s.Redis.Channel == "" {
		s.Redis.Channel = defaultRedisChannel
	}

	if s.Archive.Bucket == "" {
		s.Archive.Bucket = defaultArchiveBucket
	}
	if s.Archive.BatchSize == 0 {
		s.Archive.BatchSize = defaultArchiveBatch
	}
	if s.Archive.FlushInterval == 0 {
		s.Archive.FlushInterval = defaultArchiveInterval
	}
}

func setMQTTDefaults(m *MQTTConfig) {
	if m.Topic == "" {
		m.Topic = defaultMQTTTopic
	}
	if m.ClientID == "" {
		m.ClientID = defaultMQTTClientID
	}
	if m.QoS == 0 {
		m.QoS = defaultMQTTQoS
	}
}

// setLoggingDefaults applies default values to LoggingConfig.
func setLoggingDefaults(log *LoggingConfig) {
	if log.Level == "" {
		log.Level = defaultLoggingLevel
	}
	if log.Format == "" {
		log.Format = defaultLoggingFmt
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	checks := []error{
		infraconfig.ValidatePort("service.port", c.Service.Port),
		infraconfig.ValidatePositiveDuration("ingest.clock_skew", c.Ingest.ClockSkew),
		infraconfig.ValidatePositiveDuration("ingest.max_event_age", c.Ingest.MaxEventAge),
		infraconfig.ValidatePositiveDuration("dedup.window", c.Dedup.Window),
		infraconfig.ValidatePositive("dedup.capacity", c.Dedup.Capacity),
		infraconfig.ValidatePositive("queue.capacity", c.Queue.Capacity),
		infraconfig.ValidatePositive("dispatcher.consumer_buffer", c.Dispatcher.ConsumerBuffer),
		infraconfig.ValidatePositive("dispatcher.max_attempts", c.Dispatcher.MaxAttempts),
		infraconfig.ValidateLogLevel(c.Logging.Level),
		infraconfig.ValidateLogFormat(c.Logging.Format),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.Dedup.Backend != BackendMemory && c.Dedup.Backend != BackendRedis {
		return &infraconfig.ValidationError{
			Field:   "dedup.backend",
			Message: "must be memory or redis",
		}
	}

	return c.validateSinks()
}

func (c *Config) validateSinks() error {
	if c.Sinks.Kafka.Enabled && len(c.Sinks.Kafka.Brokers) == 0 {
		return &infraconfig.ValidationError{Field: "sinks.kafka.brokers", Message: "is required when kafka is enabled"}
	}
	if c.Sinks.Archive.Enabled {
		if err := infraconfig.ValidateRequired("sinks.archive.endpoint", c.Sinks.Archive.Endpoint); err != nil {
			return err
		}
	}
	if c.MQTT.Enabled {
		if err := infraconfig.ValidateRequired("mqtt.broker", c.MQTT.Broker); err != nil {
			return err
		}
		if c.MQTT.QoS > 2 {
			return &infraconfig.ValidationError{Field: "mqtt.qos", Message: "must be 0, 1 or 2"}
		}
	}
	return nil
}
