// Package api implements the HTTP endpoints: media retrieval, metadata
// lookup, and health. Handlers receive their collaborators as interfaces so
// tests can substitute fakes without processes or databases.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sambrabizz-star/thevideo/internal/media"
	"github.com/sambrabizz-star/thevideo/internal/observability/metrics"
	"github.com/sambrabizz-star/thevideo/internal/quota"
)

// DefaultQuotaLimit is the number of counted operations an identity gets per
// hour bucket.
const DefaultQuotaLimit = 30

// TokenVerifier validates a bearer token and returns the caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Prober fetches source metadata without downloading.
type Prober interface {
	Probe(ctx context.Context, url string) (media.Metadata, error)
}

// Streamer runs the retrieval pipelines.
type Streamer interface {
	StreamVideo(ctx context.Context, url string, dst io.Writer) (int64, error)
	PrepareAudio(ctx context.Context, url string) (*media.AudioFile, error)
}

type Handler struct {
	Verifier   TokenVerifier
	Ledger     quota.Ledger
	Prober     Prober
	Streamer   Streamer
	QuotaLimit int64
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

func NewHandler(verifier TokenVerifier, ledger quota.Ledger, prober Prober, streamer Streamer) *Handler {
	return &Handler{
		Verifier:   verifier,
		Ledger:     ledger,
		Prober:     prober,
		Streamer:   streamer,
		QuotaLimit: DefaultQuotaLimit,
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

func (h *Handler) limit() int64 {
	if h.QuotaLimit > 0 {
		return h.QuotaLimit
	}
	return DefaultQuotaLimit
}

// consumeQuota records one unit of usage and writes the rejection when the
// identity is over its limit. The increment always happens first; a ledger
// that cannot count denies the request outright rather than waving it
// through uncounted.
func (h *Handler) consumeQuota(ctx context.Context, w http.ResponseWriter, identity string) bool {
	usage, err := h.Ledger.Increment(ctx, identity)
	if err != nil {
		h.metrics().QuotaDecision("error")
		h.logger().Error("quota ledger unavailable", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, errors.New("usage tracking unavailable"))
		return false
	}
	if usage.Count > h.limit() {
		h.metrics().QuotaDecision("rejected")
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":    "quota exceeded",
			"limit":    h.limit(),
			"reset_at": usage.ResetAt().UTC().Format(time.RFC3339),
		})
		return false
	}
	h.metrics().QuotaDecision("allowed")
	return true
}

// writeMediaError maps pipeline failures to responses. Detail stays in the
// server logs; clients get a stable, generic message per failure class.
func (h *Handler) writeMediaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, media.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, errors.New("media processing timed out"))
	case errors.Is(err, media.ErrEncode):
		writeError(w, http.StatusConflict, errors.New("audio conversion failed"))
	case errors.Is(err, media.ErrCancelled):
		// The client is gone; there is nobody to answer.
	default:
		writeError(w, http.StatusInternalServerError, errors.New("media retrieval failed"))
	}
}
