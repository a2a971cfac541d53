package web

// errors.go turns handler errors into JSON responses.
//
// The technical error is logged with the request ID; the client gets the
// mapped user message and its code from core.MapError.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/ndbmedicine/internal/codec"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/JonMunkholm/ndbmedicine/internal/extract"
	"github.com/JonMunkholm/ndbmedicine/internal/logging"
	"github.com/JonMunkholm/ndbmedicine/internal/store"
)

var (
	errRateLimited  = errors.New("rate limit exceeded")
	errInvalidRunID = errors.New("invalid run id")
	errMirrorOff    = errors.New("mirror has no destination")
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the mapped user message with status.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// respondErr picks the status from the error kind.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrUnsupportedLayout),
		errors.Is(err, codec.ErrUnsupportedFormat),
		errors.Is(err, errInvalidRunID):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, extract.ErrRunNotFinished):
		return http.StatusConflict
	case errors.Is(err, extract.ErrTooManyExtractions):
		return http.StatusServiceUnavailable
	case errors.Is(err, extract.ErrSinkDisabled), errors.Is(err, errMirrorOff):
		return http.StatusNotImplemented
	case errors.Is(err, core.ErrRetrieval):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
