package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"drivegate/internal/filesystem"
	"drivegate/internal/resolver"
)

const jsonContentType = "application/json; charset=utf-8"

// ErrorResponse is the body of every failed gateway request
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// statusFor maps a dispatch error to an HTTP status and detail message
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, resolver.ErrInvalidID):
		return http.StatusBadRequest, "Bad Request: " + err.Error()
	case errors.Is(err, filesystem.ErrNotADirectory):
		return http.StatusBadRequest, "Bad Request: " + err.Error()
	case errors.Is(err, filesystem.ErrNotFound), errors.Is(err, filesystem.ErrLinkGeneration):
		return http.StatusNotFound, "Not Found"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(statusCode)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		log.Warnf("Failed to encode response: %v", err)
	}
}

func sendError(w http.ResponseWriter, statusCode int, detail string) {
	sendJSON(w, statusCode, ErrorResponse{Detail: detail})
}
