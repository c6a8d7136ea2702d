package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Metadata describes a source item as reported by the extraction tool
// without downloading it. Size is advisory: the source does not always
// report one, and SizeKnown is false in that case.
type Metadata struct {
	Title           string
	DurationSeconds float64
	Size            int64
	SizeKnown       bool
}

// ProberConfig configures the metadata prober. Zero values fall back to the
// tool on PATH, the default user agent, and a one minute deadline.
type ProberConfig struct {
	Binary    string
	UserAgent string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Prober fetches source metadata by running the extraction tool in
// dump-only mode.
type Prober struct {
	binary    string
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewProber(cfg ProberConfig) *Prober {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Prober{
		binary:    cfg.Binary,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger.With(slog.String("component", "media.prober")),
	}
}

// Probe runs the extraction tool against the URL and parses the metadata it
// prints. Certificate verification is disabled to match the source's mobile
// CDN endpoints, which rotate certificates aggressively.
func (p *Prober) Probe(ctx context.Context, rawURL string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"--dump-json",
		"--skip-download",
		"--no-warnings",
		"--no-check-certificates",
		"--user-agent", p.userAgent,
		rawURL,
	)
	stderr := newLimitedBuffer()
	cmd.Stderr = stderr

	started := time.Now()
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			p.logger.Warn("probe deadline exceeded", slog.String("url", rawURL), slog.Duration("elapsed", time.Since(started)))
			return Metadata{}, fmt.Errorf("%w: probe exceeded %s", ErrTimeout, p.timeout)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return Metadata{}, fmt.Errorf("%w: probe interrupted", ErrCancelled)
		}
		p.logger.Warn("probe failed", slog.String("url", rawURL), slog.String("stderr", stderr.Summary()))
		return Metadata{}, fmt.Errorf("%w: extractor exited: %v", ErrExtraction, err)
	}

	var payload struct {
		Title          string   `json:"title"`
		Duration       float64  `json:"duration"`
		Filesize       *int64   `json:"filesize"`
		FilesizeApprox *float64 `json:"filesize_approx"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		p.logger.Warn("probe output unparseable", slog.String("url", rawURL), slog.Any("error", err))
		return Metadata{}, fmt.Errorf("%w: metadata unparseable", ErrExtraction)
	}

	meta := Metadata{
		Title:           payload.Title,
		DurationSeconds: payload.Duration,
	}
	switch {
	case payload.Filesize != nil && *payload.Filesize > 0:
		meta.Size = *payload.Filesize
		meta.SizeKnown = true
	case payload.FilesizeApprox != nil && *payload.FilesizeApprox > 0:
		meta.Size = int64(*payload.FilesizeApprox)
		meta.SizeKnown = true
	}
	p.logger.Debug("probe complete",
		slog.String("title", meta.Title),
		slog.Bool("size_known", meta.SizeKnown),
		slog.Duration("elapsed", time.Since(started)))
	return meta, nil
}
