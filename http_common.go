package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/apperr"
)

// --- Response helpers ---
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorCode is the snake_case body code for an apperr code.
func errorCode(c apperr.Code) string {
	switch c {
	case apperr.CodeInvalidArgument:
		return "invalid_request"
	case apperr.CodeNotFound:
		return "not_found"
	case apperr.CodeAlreadyExists:
		return "already_exists"
	case apperr.CodeUnauthenticated:
		return "unauthorized"
	case apperr.CodePermissionDenied:
		return "forbidden"
	case apperr.CodeUnavailable:
		return "store_unavailable"
	default:
		return "internal_error"
	}
}

// writeAppError answers with the status and code carried by err. Server
// side failures are logged; the cause never reaches the client.
func writeAppError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	body := map[string]string{"error": errorCode(code)}
	var ae *apperr.Error
	if errors.As(err, &ae) && status < http.StatusInternalServerError {
		body["message"] = ae.Message
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid json body")
	}
	return nil
}

// splitParam splits a comma separated query value, dropping blanks.
func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return splitList(raw)
}
