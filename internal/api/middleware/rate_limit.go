package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	apiContext "zyphon/internal/api/context"
	"zyphon/internal/engine/ratelimit"
	"zyphon/internal/pkg/errors"
	"zyphon/internal/platform/models"
)

type Checker interface {
	Check(ctx context.Context, identity, ip, class string) (ratelimit.Result, error)
}

type RateLimiter struct {
	limiter Checker
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRateLimiter(limiter Checker, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		now:     time.Now,
	}
}

// Limit counts the request against class for the authenticated key and the
// client IP. It must run after APIKeyMiddleware.Handle.
func (rl *RateLimiter) Limit(class string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			identity := "anonymous"
			if key, ok := r.Context().Value(apiContext.APIKey).(*models.APIKey); ok && key != nil {
				identity = key.ID
			}
			ip := clientIPFrom(r)

			// store failures admit the request; Check has already logged them
			res, _ := rl.limiter.Check(r.Context(), identity, ip, class)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if res.Limited {
				RecordRejection("rate_limit", class)
				rl.logger.Warn().Str("class", class).Str("identity", identity).Str("ip", ip).Msg("rate limit exceeded")
				h.Set("Retry-After", strconv.Itoa(res.RetryAfter(rl.now())))
				errors.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			ctx := context.WithValue(r.Context(), apiContext.RateLimit, res)
			next(w, r.WithContext(ctx))
		}
	}
}
