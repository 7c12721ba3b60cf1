package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// base58Pattern matches Solana-style addresses: base58 alphabet, no 0, O, I, l.
var base58Pattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// requestIDMiddleware attaches a request id for error correlation.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// apiError is the uniform error response shape.
type apiError struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errMsg, field, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{
		Error:     errMsg,
		Field:     field,
		Message:   message,
		RequestID: requestID(r),
	})
}

func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusInternalServerError, "Internal server error", "", err.Error())
}

// parseDateParam validates a strict YYYY-MM-DD query parameter. Required
// params with missing values and any malformed value produce an error.
func parseDateParam(r *http.Request, name string, required bool) (time.Time, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		if required {
			return time.Time{}, false, fmt.Errorf("missing required parameter")
		}
		return time.Time{}, false, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil || t.Format("2006-01-02") != raw {
		return time.Time{}, false, fmt.Errorf("must be a valid YYYY-MM-DD date")
	}
	return t, true, nil
}

// parseHoursParam validates an integer hours parameter within [min, max],
// defaulting to def when absent.
func parseHoursParam(r *http.Request, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("hours"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n < min || n > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return n, nil
}

// parseTokensParam splits a comma-separated token list, discarding empties.
func parseTokensParam(r *http.Request) []string {
	raw := r.URL.Query().Get("tokens")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validAddress reports whether s looks like a base58 account address.
func validAddress(s string) bool {
	return base58Pattern.MatchString(s)
}
