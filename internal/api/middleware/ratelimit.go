package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/carebook/pkg/errors"
)

const maxPeekBytes = 64 << 10

// Limiter decides whether another attempt under key is allowed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// KeyFunc derives the rate limit key of a request. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors are logged and the request proceeds.
func RateLimit(limiter Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.LoggerFromContext(r.Context()).Debug().Err(err).Str("key", key).Msg("rate limiter unavailable")
			}
			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "too many attempts, try again later",
					"code":  string(apperrors.ErrorTypeRateLimited),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PatientKey keys booking attempts by patient: the X-Patient-ID header, then
// the patient_id field of a JSON body, then the client address. The body is
// restored for the next handler.
func PatientKey(r *http.Request) string {
	if id := r.Header.Get("X-Patient-ID"); id != "" {
		return "book:patient:" + id
	}

	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
		rest := r.Body
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(raw), rest), rest}

		if err == nil {
			var body struct {
				PatientID string `json:"patient_id"`
			}
			if json.Unmarshal(raw, &body) == nil && body.PatientID != "" {
				return "book:patient:" + body.PatientID
			}
		}
	}

	return "book:addr:" + clientAddr(r)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
