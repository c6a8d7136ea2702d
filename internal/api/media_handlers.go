package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sambrabizz-star/thevideo/internal/auth"
	"github.com/sambrabizz-star/thevideo/internal/media"
)

type mediaRequest struct {
	URL string `json:"url"`
}

func (h *Handler) decodeMediaRequest(w http.ResponseWriter, r *http.Request) (mediaRequest, bool) {
	var req mediaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("request body must be a JSON object with a url field"))
		return mediaRequest{}, false
	}
	if !media.IsSupportedURL(req.URL) {
		writeError(w, http.StatusBadRequest, media.ErrUnsupportedURL)
		return mediaRequest{}, false
	}
	return req, true
}

func identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return "", false
	}
	return id, true
}

// setAttachmentHeaders marks the response as a non-resumable one-shot
// download. Ranges are refused because the upstream extractor cannot seek.
func setAttachmentHeaders(w http.ResponseWriter, contentType, filename string, size int64, sizeKnown bool) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Accept-Ranges", "none")
	if sizeKnown {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
}

// MediaStream retrieves the source video and relays it to the client as it
// downloads. When the probe reports no size the response falls back to
// chunked transfer instead of failing; the content is still complete.
func (h *Handler) MediaStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	id, ok := identity(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeMediaRequest(w, r)
	if !ok {
		return
	}
	if !h.consumeQuota(r.Context(), w, id) {
		return
	}

	meta, err := h.Prober.Probe(r.Context(), req.URL)
	if err != nil {
		h.writeMediaError(w, err)
		return
	}

	filename := media.AttachmentFilename(meta.Title, "video", "mp4")
	setAttachmentHeaders(w, "video/mp4", filename, meta.Size, meta.SizeKnown)
	w.WriteHeader(http.StatusOK)

	// Headers are on the wire; any failure past this point can only be
	// logged and the connection dropped.
	if n, err := h.Streamer.StreamVideo(r.Context(), req.URL, w); err != nil {
		h.logger().Warn("video stream aborted",
			slog.String("identity", id),
			slog.Int64("bytes_sent", n),
			slog.Any("error", err))
	}
}

// MediaInfo returns probe metadata without downloading anything. Lookups are
// free: they do not consume quota.
func (h *Handler) MediaInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if _, ok := identity(w, r); !ok {
		return
	}
	req, ok := h.decodeMediaRequest(w, r)
	if !ok {
		return
	}

	meta, err := h.Prober.Probe(r.Context(), req.URL)
	if err != nil {
		h.writeMediaError(w, err)
		return
	}

	var size *int64
	if meta.SizeKnown {
		size = &meta.Size
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"title":           meta.Title,
		"durationSeconds": meta.DurationSeconds,
		"sizeBytes":       size,
	})
}

// MediaAudio downloads the source, transcodes it to MP3, and serves the
// finished file. Unlike the video path nothing is written until the encode
// succeeds, so every failure here still gets a proper error response.
func (h *Handler) MediaAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	id, ok := identity(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeMediaRequest(w, r)
	if !ok {
		return
	}
	if !h.consumeQuota(r.Context(), w, id) {
		return
	}

	meta, err := h.Prober.Probe(r.Context(), req.URL)
	if err != nil {
		h.writeMediaError(w, err)
		return
	}

	audio, err := h.Streamer.PrepareAudio(r.Context(), req.URL)
	if err != nil {
		h.writeMediaError(w, err)
		return
	}
	defer audio.Close()

	filename := media.AttachmentFilename(meta.Title, "audio", "mp3")
	setAttachmentHeaders(w, "audio/mpeg", filename, audio.Size, true)
	w.WriteHeader(http.StatusOK)

	if n, err := audio.Stream(r.Context(), w); err != nil {
		h.logger().Warn("audio stream aborted",
			slog.String("identity", id),
			slog.Int64("bytes_sent", n),
			slog.Any("error", err))
	}
}
