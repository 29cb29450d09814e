// Package validator turns untrusted wire captures into CaptureEvents.
package validator

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/fingerprint"
)

// Default validation limits.
const (
	DefaultClockSkew    = 5 * time.Minute
	DefaultMaxEventAge  = 24 * time.Hour
	DefaultMaxURLLength = 8 * 1024
)

// DefaultAllowedSchemes are the schemes accepted when none are configured.
var DefaultAllowedSchemes = []string{"http", "https"}

// Config holds validation limits.
type Config struct {
	AllowedSchemes []string
	// ClockSkew is how far in the future a sender timestamp may be.
	ClockSkew time.Duration
	// MaxEventAge is how far in the past a sender timestamp may be.
	MaxEventAge  time.Duration
	MaxURLLength int
	// AllowMissingTimestamp stamps timestamp-less captures with the receive
	// time instead of rejecting them. The intercepting proxy sends none.
	AllowMissingTimestamp bool
}

// Validator checks captures and builds events. Safe for concurrent use.
type Validator struct {
	cfg        Config
	schemes    map[string]struct{}
	normalizer *fingerprint.Normalizer
	now        func() time.Time
	newID      func() string
}

// Option customizes a Validator.
type Option func(*Validator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(v *Validator) { v.newID = newID }
}

// New creates a Validator. Zero config fields take the package defaults.
func New(cfg Config, normalizer *fingerprint.Normalizer, opts ...Option) *Validator {
	if len(cfg.AllowedSchemes) == 0 {
		cfg.AllowedSchemes = DefaultAllowedSchemes
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.MaxEventAge <= 0 {
		cfg.MaxEventAge = DefaultMaxEventAge
	}
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}

	v := &Validator{
		cfg:        cfg,
		schemes:    make(map[string]struct{}, len(cfg.AllowedSchemes)),
		normalizer: normalizer,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, s := range cfg.AllowedSchemes {
		v.schemes[strings.ToLower(s)] = struct{}{}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks url presence, then url shape, then timestamp, and returns
// the first failure as a *domain.ValidationError.
func (v *Validator) Validate(raw domain.RawCapture) (domain.CaptureEvent, error) {
	receivedAt := v.now()

	rawURL, parsed, err := v.checkURL(raw.URL)
	if err != nil {
		return domain.CaptureEvent{}, err
	}

	observedAt, err := v.checkTimestamp(raw.Timestamp, receivedAt)
	if err != nil {
		return domain.CaptureEvent{}, err
	}

	normalized, fp := v.normalizer.Fingerprint(parsed)

	return domain.CaptureEvent{
		ID:            v.newID(),
		URL:           rawURL,
		OriginURL:     strings.TrimSpace(raw.PageOrigin()),
		ObservedAt:    observedAt,
		ReceivedAt:    receivedAt,
		Fingerprint:   fp,
		NormalizedURL: normalized,
		MediaKind:     domain.ClassifyMedia(parsed),
	}, nil
}

func (v *Validator) checkURL(field json.RawMessage) (string, *url.URL, error) {
	if isAbsent(field) {
		return "", nil, domain.NewValidationError(domain.KindMissingField, "url", "")
	}

	var s string
	if err := json.Unmarshal(field, &s); err != nil {
		return "", nil, domain.NewValidationError(domain.KindMalformedURL, "url", "not a string")
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, domain.NewValidationError(domain.KindMissingField, "url", "empty")
	}
	if len(s) > v.cfg.MaxURLLength {
		return "", nil, domain.NewValidationError(domain.KindMalformedURL, "url", "too long")
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return "", nil, domain.NewValidationError(domain.KindMalformedURL, "url", "unparseable")
	}
	if !parsed.IsAbs() || parsed.Hostname() == "" {
		return "", nil, domain.NewValidationError(domain.KindMalformedURL, "url", "not an absolute url")
	}
	if _, ok := v.schemes[parsed.Scheme]; !ok {
		return "", nil, domain.NewValidationError(domain.KindMalformedURL, "url", "scheme not allowed: "+parsed.Scheme)
	}

	return s, parsed, nil
}

func (v *Validator) checkTimestamp(field json.RawMessage, now time.Time) (time.Time, error) {
	if isAbsent(field) {
		if v.cfg.AllowMissingTimestamp {
			return now, nil
		}
		return time.Time{}, outOfRange("missing")
	}

	// Only bare JSON numbers; "123" in quotes is rejected.
	trimmed := bytes.TrimSpace(field)
	if trimmed[0] != '-' && (trimmed[0] < '0' || trimmed[0] > '9') {
		return time.Time{}, outOfRange("not a number")
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return time.Time{}, outOfRange("not a number")
	}
	ms, err := n.Int64()
	if err != nil {
		return time.Time{}, outOfRange("not an integer")
	}
	if ms <= 0 {
		return time.Time{}, outOfRange("not positive")
	}

	observedAt := time.UnixMilli(ms)
	switch {
	case observedAt.After(now.Add(v.cfg.ClockSkew)):
		return time.Time{}, outOfRange("in the future")
	case observedAt.Before(now.Add(-v.cfg.MaxEventAge)):
		return time.Time{}, outOfRange("too old")
	}

	return observedAt, nil
}

func outOfRange(reason string) error {
	return domain.NewValidationError(domain.KindTimestampOutOfRange, "timestamp", reason)
}

func isAbsent(field json.RawMessage) bool {
	trimmed := bytes.TrimSpace(field)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
