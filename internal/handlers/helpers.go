package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gookit/validate"

	"github.com/handsomefox/watchwise/internal/auth"
	"github.com/handsomefox/watchwise/internal/logger"
	"github.com/handsomefox/watchwise/internal/tracking"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if payload == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("write json failed", logger.Error(err))
	}
}

// decodeJSON reads one JSON object into dst. Failures come back as
// INVALID_INPUT errors naming the offending field when there is one.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return badRequest("request body must be a single json object")
	}
	return nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var sizeErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return invalidField(typeErr.Field, typeErr.Field+" cannot be a json "+typeErr.Value)
	case errors.As(err, &sizeErr):
		return badRequest("request body too large")
	}
	if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		name = strings.Trim(name, `"`)
		return invalidField(name, "unknown field "+name)
	}
	return badRequest("malformed json")
}

func invalidField(field, msg string) error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    string(tracking.KindInvalidInput),
		Message: msg,
		Details: map[string]any{"fields": []string{field}},
	}
}

// validateRequest runs the struct's validate tags and reports failures as
// INVALID_INPUT with one message per field.
func validateRequest(dst any) error {
	v := validate.Struct(dst)
	if v.Validate() {
		return nil
	}
	fields := make(map[string]any, len(v.Errors))
	names := make([]string, 0, len(v.Errors))
	for field, msgs := range v.Errors {
		name := lowerFirst(field)
		fields[name] = msgs.One()
		names = append(names, name)
	}
	slices.Sort(names)
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    string(tracking.KindInvalidInput),
		Message: "validation failed",
		Details: map[string]any{"fields": names, "errors": fields},
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func queryInt(r *http.Request, key string, fallback, minVal, maxVal int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minVal || n > maxVal {
		return 0, invalidField(key, key+" must be between "+strconv.Itoa(minVal)+" and "+strconv.Itoa(maxVal))
	}
	return n, nil
}

func userID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func badRequest(msg string) error {
	return &Error{Status: http.StatusBadRequest, Code: string(tracking.KindInvalidInput), Message: msg}
}

func unauthorized(msg string) error {
	return &Error{Status: http.StatusUnauthorized, Code: string(tracking.KindUnauthorized), Message: msg}
}

func notFound(msg string) error {
	return &Error{Status: http.StatusNotFound, Code: string(tracking.KindNotFound), Message: msg}
}
