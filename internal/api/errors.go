package api

import (
	"errors"
	"net/http"

	"github.com/trogers1052/nepse-sentiment/internal/models"
	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

type errorResponse struct {
	Error          string          `json:"error"`
	MissingSectors []models.Sector `json:"missing_sectors,omitempty"`
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	var (
		ve *sentiment.ValidationError
		nf *sentiment.NotFoundError
		iw *sentiment.IncompleteDataWarning
		se *sentiment.StorageError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &iw):
		return http.StatusConflict
	case errors.As(err, &se) && se.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var iw *sentiment.IncompleteDataWarning
	if errors.As(err, &iw) {
		resp.MissingSectors = iw.Missing
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			resp.Error = "internal error"
		}
	}
	respondJSON(w, status, resp)
}
