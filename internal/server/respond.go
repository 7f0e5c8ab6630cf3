package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/epdrelay/internal/device"
	"github.com/joshp123/epdrelay/internal/rate"
	"github.com/joshp123/epdrelay/internal/relay"
	"github.com/joshp123/epdrelay/internal/uploads"
)

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

type successResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Device      string `json:"deviceIp,omitempty"`
	QueueLength *int   `json:"queueLength,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: message})
}

func writeReceipt(w http.ResponseWriter, receipt relay.Receipt) {
	depth := receipt.QueueLength
	writeJSON(w, http.StatusOK, successResponse{
		Success:     true,
		Message:     receipt.Message,
		Device:      receipt.Device,
		QueueLength: &depth,
	})
}

// writeThrottled answers 429 with the wait in both the Retry-After header
// (seconds) and the body (milliseconds).
func writeThrottled(w http.ResponseWriter, err error, now time.Time) {
	var wait time.Duration
	var throttled rate.ThrottledError
	if errors.As(err, &throttled) {
		wait = throttled.RetryAfter(now)
	}
	secs := int64((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:      "Polling too frequently",
		RetryAfter: wait.Milliseconds(),
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrAddressRequired),
		errors.Is(err, relay.ErrTextRequired),
		errors.Is(err, relay.ErrTextTooLong),
		errors.Is(err, relay.ErrNoTargetConfigured),
		errors.Is(err, relay.ErrUnsupportedImageType),
		errors.Is(err, relay.ErrImageRequired),
		errors.Is(err, device.ErrInvalidAddress),
		errors.Is(err, errMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, uploads.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, rate.ErrThrottled):
		return http.StatusTooManyRequests
	default:
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	}
}

// messageFor renders the client-facing text for err.
func (a *API) messageFor(err error) string {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, relay.ErrAddressRequired):
		return "IP address is required"
	case errors.Is(err, device.ErrInvalidAddress):
		return "Invalid IP address format"
	case errors.Is(err, device.ErrUnknownDevice):
		return "Device not registered"
	case errors.Is(err, relay.ErrTextRequired):
		return "Text is required"
	case errors.Is(err, relay.ErrTextTooLong):
		return fmt.Sprintf("Text is too long. Maximum length is %d characters.", a.relay.MaxTextLength())
	case errors.Is(err, relay.ErrNoTargetConfigured):
		return "No device IP specified or set"
	case errors.Is(err, relay.ErrImageRequired):
		return "Image is required"
	case errors.Is(err, relay.ErrUnsupportedImageType):
		return "Invalid image type. Allowed types: " + strings.Join(a.relay.AllowedImageTypes(), ", ")
	case errors.Is(err, uploads.ErrTooLarge), errors.As(err, &maxBytes):
		return "Image is too large"
	case errors.Is(err, errMalformedBody):
		return "Malformed request body"
	case errors.Is(err, relay.ErrRenderFailed):
		return "Error processing image: " + renderCause(err)
	default:
		return "Internal server error"
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		writeThrottled(w, err, a.now())
		return
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Msg("request failed")
	}
	writeError(w, a.messageFor(err), status)
}

// renderCause strips the relay prefix from a render failure.
func renderCause(err error) string {
	msg := err.Error()
	return strings.TrimPrefix(msg, relay.ErrRenderFailed.Error()+": ")
}
