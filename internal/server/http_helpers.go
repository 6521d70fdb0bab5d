package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/sessiond/internal/session"
)

// Messages returned to clients. Security failures never say which check failed.
const (
	msgInvalidCredentials = "invalid credentials"
	msgInvalidSession     = "invalid session"
	msgUnavailable        = "service temporarily unavailable"
	msgInternal           = "internal error"
	msgInvalidRequest     = "invalid request body"
)

type errorResponse struct {
	Error string `json:"error"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func respondBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Rejected malformed request body")

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		respondError(w, http.StatusRequestEntityTooLarge, msgInvalidRequest)
		return
	}
	if errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "request body required")
		return
	}
	respondError(w, http.StatusBadRequest, msgInvalidRequest)
}

// respondSessionError maps a session error kind to a response. securityMsg is
// the generic message used for every authentication failure.
func (s *Server) respondSessionError(w http.ResponseWriter, r *http.Request, err error, securityMsg string) {
	log := zerolog.Ctx(r.Context())

	switch {
	case session.IsSecurityError(err):
		log.Info().Err(err).Msg("Authentication failed")
		respondError(w, http.StatusUnauthorized, securityMsg)

	case session.IsRetriable(err):
		log.Warn().Err(err).Msg("Session store unavailable")
		seconds := int(math.Ceil(s.cfg.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
		respondError(w, http.StatusServiceUnavailable, msgUnavailable)

	default:
		log.Error().Err(err).Msg("Session operation failed")
		respondError(w, http.StatusInternalServerError, msgInternal)
	}
}
