package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"slackgate/internal/auth"
	"slackgate/internal/domain"
	"slackgate/internal/slackapi"
)

// statusFor maps an error to the HTTP status returned to Slack.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsAuthError(err),
		errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, auth.ErrInvalidState),
		errors.Is(err, slackapi.ErrCodeRejected):
		return http.StatusBadRequest
	default:
		// ErrSecretUnavailable, ErrPublish and anything unexpected.
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": ...}. Server-side failures do not leak detail.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
}

func writeChallenge(w http.ResponseWriter, challenge string) {
	writeJSON(w, http.StatusOK, challengeResponse{Challenge: challenge})
}
