package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/handsomefox/watchwise/internal/catalog"
	"github.com/handsomefox/watchwise/internal/logger"
	"github.com/handsomefox/watchwise/internal/store"
	"github.com/handsomefox/watchwise/internal/tracking"
)

const (
	codeUpstream = "UPSTREAM_ERROR"
	codeInternal = "INTERNAL"
)

type HandlerWithErr func(w http.ResponseWriter, r *http.Request) error

type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Message + " code=" + strconv.FormatInt(int64(e.Status), 10)
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func Adapt(h HandlerWithErr) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		e := toHTTPError(err)
		rid := RequestIDFromContext(r.Context())
		if e.Status >= http.StatusInternalServerError {
			slog.Error("request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("request_id", rid),
				slog.Int("status", e.Status),
				logger.Error(err))
		}
		writeJSON(w, e.Status, &errorResponse{Error: errorBody{
			Code:      e.Code,
			Message:   e.Message,
			Details:   e.Details,
			RequestID: rid,
		}})
	})
}

func toHTTPError(err error) *Error {
	var statusErr *Error
	if errors.As(err, &statusErr) {
		return statusErr
	}

	var te *tracking.Error
	if errors.As(err, &te) {
		e := &Error{Status: kindStatus(te.Kind), Code: string(te.Kind), Message: te.Message}
		if te.Kind == tracking.KindStorage {
			e.Message = "storage error"
		}
		if e.Message == "" {
			e.Message = http.StatusText(e.Status)
		}
		if len(te.Fields) > 0 {
			e.Details = map[string]any{"fields": te.Fields}
		}
		return e
	}

	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return &Error{Status: http.StatusConflict, Code: string(tracking.KindConflict),
			Message: "email already registered", Details: map[string]any{"fields": []string{"email"}}}
	case errors.Is(err, tracking.ErrVersionConflict):
		return &Error{Status: http.StatusConflict, Code: string(tracking.KindConflict), Message: "document changed concurrently, try again"}
	case errors.Is(err, store.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: string(tracking.KindNotFound), Message: "user not found"}
	case errors.Is(err, catalog.ErrInvalidID):
		return &Error{Status: http.StatusBadRequest, Code: string(tracking.KindInvalidInput),
			Message: "invalid catalog id", Details: map[string]any{"fields": []string{"id"}}}
	case errors.Is(err, catalog.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: string(tracking.KindNotFound), Message: "title not found"}
	case errors.Is(err, catalog.ErrUnsupported):
		return &Error{Status: http.StatusBadRequest, Code: string(tracking.KindInvalidInput),
			Message: "not supported for this media type", Details: map[string]any{"fields": []string{"mediaType"}}}
	case errors.Is(err, catalog.ErrUpstream), errors.Is(err, catalog.ErrNotConfigured):
		return &Error{Status: http.StatusBadGateway, Code: codeUpstream, Message: "catalog unavailable"}
	}
	return &Error{Status: http.StatusInternalServerError, Code: codeInternal, Message: "internal server error"}
}

func kindStatus(k tracking.Kind) int {
	switch k {
	case tracking.KindInvalidInput:
		return http.StatusBadRequest
	case tracking.KindUnauthorized:
		return http.StatusUnauthorized
	case tracking.KindNotFound:
		return http.StatusNotFound
	case tracking.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
