package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/ingest"
)

// DefaultMaxBodyBytes caps a capture request body.
const DefaultMaxBodyBytes = 64 * 1024

// retryAfterSeconds is sent with 503 QueueFull.
const retryAfterSeconds = "1"

// Ingester is the ingest.Service surface used by the handler.
type Ingester interface {
	IngestJSON(ctx context.Context, body []byte, ingress string) (ingest.Result, error)
}

// CaptureHandler serves POST /capture.
type CaptureHandler struct {
	ingester     Ingester
	logger       logger.Logger
	maxBodyBytes int64
}

// NewCaptureHandler creates a CaptureHandler.
func NewCaptureHandler(ingester Ingester, log logger.Logger, maxBodyBytes int64) *CaptureHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &CaptureHandler{
		ingester:     ingester,
		logger:       log,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleCapture ingests one capture. It answers once the capture is queued
// and never waits for consumers.
func (h *CaptureHandler) HandleCapture(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		h.logger.Debug("Unreadable capture body", logger.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.KindMalformedBody})
		return
	}

	result, err := h.ingester.IngestJSON(c.Request.Context(), body, ingest.IngressHTTP)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if result.Verdict == domain.VerdictDuplicate {
		c.JSON(http.StatusOK, gin.H{
			"status":      "duplicate",
			"fingerprint": result.Event.Fingerprint,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "accepted",
		"id":          result.Event.ID,
		"sequence":    result.Item.Sequence,
		"fingerprint": result.Event.Fingerprint,
	})
}

func (h *CaptureHandler) writeError(c *gin.Context, err error) {
	if kind := domain.KindOf(err); kind != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": kind})
		return
	}

	switch {
	case errors.Is(err, domain.ErrQueueFull):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": domain.ErrQueueFull.Error()})
	case errors.Is(err, domain.ErrShutdownInProgress):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": domain.ErrShutdownInProgress.Error()})
	default:
		logger.FromContext(c.Request.Context()).Error("Capture ingestion failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "InternalError"})
	}
}
