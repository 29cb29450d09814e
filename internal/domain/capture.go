// Package domain contains the core domain models for the capture ingestion service.
package domain

import (
	"encoding/json"
	"time"
)

// RawCapture is a capture event as it arrives on the wire. Nothing in it has
// been checked yet.
type RawCapture struct {
	URL json.RawMessage `json:"url"`
	// TabURL is sent by the browser extension.
	TabURL string `json:"tabUrl"`
	// OriginURL is the canonical name for the page URL.
	OriginURL string `json:"originUrl"`
	// PageURL is sent by the intercepting proxy (taken from Referer).
	PageURL   string          `json:"page_url"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// PageOrigin returns the first non-empty page URL alias.
func (r *RawCapture) PageOrigin() string {
	for _, candidate := range []string{r.OriginURL, r.TabURL, r.PageURL} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// CaptureEvent is a validated capture. It is passed by value and never
// modified after the validator builds it.
type CaptureEvent struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	OriginURL     string    `json:"origin_url,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
	ReceivedAt    time.Time `json:"received_at"`
	Fingerprint   string    `json:"fingerprint"`
	NormalizedURL string    `json:"normalized_url"`
	MediaKind     MediaKind `json:"media_kind"`
}

// QueueItem is a capture event plus the position the ingestion queue gave it.
type QueueItem struct {
	Sequence   uint64       `json:"sequence"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	Event      CaptureEvent `json:"event"`
}

// Verdict is the dedup store's answer for a fingerprint.
type Verdict int

const (
	// VerdictAccepted means the fingerprint was not seen within the window
	// and has now been recorded.
	VerdictAccepted Verdict = iota
	// VerdictDuplicate means the fingerprint was accepted earlier within the window.
	VerdictDuplicate
)

func (v Verdict) String() string {
	if v == VerdictDuplicate {
		return "duplicate"
	}
	return "accepted"
}
