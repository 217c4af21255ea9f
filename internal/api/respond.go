package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/punchamoorthee/parimutuel/internal/domain"
	"github.com/punchamoorthee/parimutuel/internal/service"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondWithError(w http.ResponseWriter, code int, errCode, message string) {
	respondWithJSON(w, code, errorBody{Error: errCode, Message: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// statusFor maps an engine error to its HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput, domain.KindArithmetic:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidState, domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondWithEngineError writes err as a typed error response. Anything that
// is not a domain error is logged and hidden behind a generic 500.
func (h *Handler) respondWithEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if de, ok := domain.AsError(err); ok {
		respondWithError(w, statusFor(de.Kind), de.Code, de.Message)
		return
	}
	if errors.Is(err, service.ErrArchiveDisabled) {
		respondWithError(w, http.StatusServiceUnavailable, "archive_disabled", "market archive is not configured")
		return
	}
	h.log.Error("request failed",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, "internal", "Internal Server Error")
}
