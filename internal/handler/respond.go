// Package handler implements the JSON HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/keyledger/internal/backup"
	"github.com/dukerupert/keyledger/internal/model"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a JSON body into dst and runs its validate tags. On
// failure it writes a 400 response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is empty")
		} else {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:  "validation failed",
				Fields: fieldErrors(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			out[name] = "is required"
		case "email":
			out[name] = "must be a valid email address"
		case "min":
			out[name] = fmt.Sprintf("must be at least %s characters", fe.Param())
		case "max":
			out[name] = fmt.Sprintf("must be at most %s characters", fe.Param())
		case "gte":
			out[name] = fmt.Sprintf("must be at least %s", fe.Param())
		case "lte":
			out[name] = fmt.Sprintf("must be at most %s", fe.Param())
		default:
			out[name] = "is invalid"
		}
	}
	return out
}

// respondError writes the mapped status for err. Unexpected errors are
// logged since the client only sees "internal error".
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, msg)
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

// statusFor maps a service error to an HTTP status and a client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrDuplicateUsername):
		return http.StatusConflict, "username already taken"
	case errors.Is(err, model.ErrDuplicateEmail):
		return http.StatusConflict, "email already in use"
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, model.ErrExpired):
		return http.StatusUnauthorized, "session expired"
	case errors.Is(err, model.ErrInvalidSession):
		return http.StatusUnauthorized, "invalid session"
	case errors.Is(err, model.ErrAlreadyVerified):
		return http.StatusBadRequest, "email already verified"
	case errors.Is(err, model.ErrVerificationExpired):
		return http.StatusBadRequest, "verification link expired"
	case errors.Is(err, model.ErrInvalidToken):
		return http.StatusBadRequest, "invalid verification token"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrUnknownPlan):
		return http.StatusBadRequest, "unknown plan"
	case errors.Is(err, model.ErrCannotDeleteSelf):
		return http.StatusForbidden, "cannot delete own account"
	case errors.Is(err, model.ErrEmailNotVerified):
		return http.StatusForbidden, "email not verified"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, model.ErrInvalidKey):
		return http.StatusNotFound, "license key invalid or already used"
	case errors.Is(err, backup.ErrDisabled):
		return http.StatusServiceUnavailable, "backups not configured"
	case errors.Is(err, backup.ErrInProgress):
		return http.StatusConflict, "backup already in progress"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
