package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/deskflow/authcore"
)

type apiError struct {
	Status            string `json:"status"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
	RetryAfterMinutes *int   `json:"retry_after_minutes,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"status":  "success",
		"message": message,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// writeEngineError renders err with the attempt and retry hints of an
// *authcore.AuthError.
func writeEngineError(w http.ResponseWriter, err error) {
	status, code := mapEngineError(err)
	body := apiError{
		Status:  "error",
		Code:    code,
		Message: authcore.PublicMessage(err),
	}
	var ae *authcore.AuthError
	if errors.As(err, &ae) {
		switch {
		case errors.Is(ae, authcore.ErrAccountLocked):
			m := ae.RemainingMinutes()
			body.RetryAfterMinutes = &m
		case ae.AttemptsRemaining > 0:
			n := ae.AttemptsRemaining
			body.AttemptsRemaining = &n
		}
	}
	writeJSON(w, status, body)
}

func mapEngineError(err error) (int, string) {
	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS"
	case errors.Is(err, authcore.ErrAccountLocked):
		return http.StatusLocked, "ACCOUNT_LOCKED"
	case errors.Is(err, authcore.ErrAccountInactive):
		return http.StatusForbidden, "ACCOUNT_INACTIVE"
	case errors.Is(err, authcore.ErrTokenExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED"
	case errors.Is(err, authcore.ErrTokenRevoked):
		return http.StatusUnauthorized, "TOKEN_REVOKED"
	case errors.Is(err, authcore.ErrTokenMalformed):
		return http.StatusUnauthorized, "TOKEN_MALFORMED"
	case errors.Is(err, authcore.ErrTokenWrongPurpose):
		return http.StatusUnauthorized, "TOKEN_WRONG_PURPOSE"
	case errors.Is(err, authcore.ErrSingleUseTokenInvalid):
		return http.StatusBadRequest, "TOKEN_INVALID"
	case errors.Is(err, authcore.ErrIdentityConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, authcore.ErrIdentityNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, authcore.ErrPasswordReuse):
		return http.StatusBadRequest, "PASSWORD_REUSE"
	case errors.Is(err, authcore.ErrPasswordPolicy):
		return http.StatusBadRequest, "PASSWORD_POLICY"
	case errors.Is(err, authcore.ErrInvalidEmail):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, authcore.ErrExternalDisabled), errors.Is(err, authcore.ErrFeatureDisabled):
		return http.StatusNotFound, "DISABLED"
	case errors.Is(err, authcore.ErrDeliveryFailed):
		return http.StatusBadGateway, "DELIVERY_FAILED"
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	default:
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// clientIP prefers the first X-Forwarded-For hop when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func errorIsUnavailable(err error) bool {
	status, _ := mapEngineError(err)
	return status >= 500
}
