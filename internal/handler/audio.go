package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/learnlive/learnlive/internal/audio"
	"github.com/learnlive/learnlive/internal/model"
)

// AudioStore keeps uploaded recordings.
type AudioStore interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
}

// AudioResponse is the body returned by POST /api/audio.
type AudioResponse struct {
	URL string `json:"url"`
}

// handleAudio stores the multipart "audio" file of the signed-in student.
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	if h.audio == nil {
		writeError(w, http.StatusServiceUnavailable, "Audio storage is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxAudioBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxAudioBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "Recording is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Expected a multipart form")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing audio file")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/webm"
	}
	id := model.IdentityFromContext(r.Context())
	name := audio.ObjectName(id.ID, contentType)

	url, err := h.audio.Upload(r.Context(), name, file, header.Size, contentType)
	if err != nil {
		slog.Error("audio upload failed", "error", err)
		writeError(w, http.StatusBadGateway, "Upload failed")
		return
	}
	slog.Info("stored recording", "student", id.ID, "object", name, "bytes", header.Size)
	writeJSON(w, http.StatusOK, AudioResponse{URL: url})
}
