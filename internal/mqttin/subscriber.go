// Package mqttin feeds captures published over MQTT into the ingest service.
package mqttin

import (
	"context"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/ingest"
)

const (
	keepAlive            = 30 * time.Second
	pingTimeout          = 10 * time.Second
	connectTimeout       = 10 * time.Second
	disconnectQuiesceMS  = 250

	// InitialBackoff and MaxBackoff bound Connect's retry delay.
	InitialBackoff = time.Second
	MaxBackoff     = 30 * time.Second
)

// Ingester is the ingest.Service surface used by the subscriber.
type Ingester interface {
	IngestJSON(ctx context.Context, body []byte, ingress string) (ingest.Result, error)
}

// Config holds broker connection settings.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Subscriber owns one MQTT client subscribed to the capture topic.
type Subscriber struct {
	cfg      Config
	ingester Ingester
	log      logger.Logger
	client   mqtt.Client
	ctx      context.Context
	cancel   context.CancelFunc
	closed   sync.Once
}

// Option customizes a Subscriber.
type Option func(*Subscriber)

// WithClient replaces the paho client built from Config.
func WithClient(c mqtt.Client) Option {
	return func(s *Subscriber) { s.client = c }
}

// NewSubscriber builds the client. Nothing connects until Connect.
func NewSubscriber(cfg Config, ing Ingester, log logger.Logger, opts ...Option) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		cfg:      cfg,
		ingester: ing,
		log:      log.With(logger.String("ingress", ingest.IngressMQTT)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = mqtt.NewClient(s.clientOptions())
	}
	return s
}

func (s *Subscriber) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(keepAlive).
		SetPingTimeout(pingTimeout).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}

	// Subscribing on every connect restores the subscription after a reconnect.
	opts.OnConnect = func(c mqtt.Client) {
		s.log.Info("MQTT connected", logger.String("broker", s.cfg.Broker))
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.HandleMessage)
		if token.Wait() && token.Error() != nil {
			s.log.Error("MQTT subscribe failed",
				logger.String("topic", s.cfg.Topic),
				logger.Error(token.Error()),
			)
			return
		}
		s.log.Info("MQTT subscribed",
			logger.String("topic", s.cfg.Topic),
			logger.Int("qos", int(s.cfg.QoS)),
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.log.Warn("MQTT connection lost", logger.Error(err))
	}
	return opts
}

// HandleMessage ingests one MQTT payload. There is no reply channel, so
// outcomes are only logged; metrics are counted by the ingest service.
func (s *Subscriber) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	result, err := s.ingester.IngestJSON(s.ctx, msg.Payload(), ingest.IngressMQTT)
	switch {
	case err == nil && result.Verdict == domain.VerdictAccepted:
		s.log.Debug("MQTT capture accepted",
			logger.String("topic", msg.Topic()),
			logger.Uint64("sequence", result.Item.Sequence),
		)
	case err == nil:
		s.log.Debug("MQTT capture duplicate", logger.String("fingerprint", result.Event.Fingerprint))
	case domain.KindOf(err) != "":
		s.log.Warn("MQTT capture rejected",
			logger.String("topic", msg.Topic()),
			logger.String("kind", string(domain.KindOf(err))),
			logger.Int("bytes", len(msg.Payload())),
		)
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, domain.ErrShutdownInProgress):
		s.log.Warn("MQTT capture dropped", logger.String("topic", msg.Topic()), logger.Error(err))
	default:
		s.log.Error("MQTT capture failed", logger.String("topic", msg.Topic()), logger.Error(err))
	}
}

// Connect retries with exponential backoff from start up to maxBackoff until
// the broker accepts the connection or ctx ends.
func (s *Subscriber) Connect(ctx context.Context, start, maxBackoff time.Duration) error {
	backoff := start
	for {
		err := waitToken(ctx, s.client.Connect())
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("MQTT connect failed",
			logger.Error(err),
			logger.Duration("retry_in", backoff),
		)

		select {
		case <-time.After(backoff):
			if backoff < maxBackoff {
				backoff = min(backoff*2, maxBackoff)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitToken blocks until the token completes or ctx ends.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects and stops handing messages to the ingester. Later calls
// do nothing.
func (s *Subscriber) Close() {
	s.closed.Do(func() {
		if s.client.IsConnected() {
			s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
			s.client.Disconnect(disconnectQuiesceMS)
		}
		s.cancel()
		s.log.Info("MQTT ingress stopped")
	})
}
