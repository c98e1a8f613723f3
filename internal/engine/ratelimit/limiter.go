package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"zyphon/internal/platform/config"
)

// Endpoint classes. Each has its own threshold and window.
const (
	ClassChat   = "chat"
	ClassImage  = "image"
	ClassPDF    = "pdf"
	ClassDesign = "design"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zyphon_rate_limit_decisions_total",
		Help: "Rate limit decisions by endpoint class and outcome",
	},
	[]string{"class", "outcome"},
)

type Result struct {
	Limited   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left in the window, rounded up to whole seconds.
func (r Result) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

type Limiter struct {
	store  Store
	cfg    config.RateLimitConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewLimiter(store Store, cfg config.RateLimitConfig, logger zerolog.Logger) *Limiter {
	classes := make(map[string]config.WindowConfig, len(cfg.Classes))
	for name, w := range cfg.Classes {
		classes[name] = w
	}
	cfg.Classes = classes

	return &Limiter{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "ratelimit").Logger(),
		now:    time.Now,
	}
}

// Check counts one request for identity and ip against class. The Result is
// always usable: when the store fails it admits the request, and the error is
// returned only so callers can tell.
func (l *Limiter) Check(ctx context.Context, identity, ip, class string) (Result, error) {
	cfg := l.cfg.Class(class)
	key := class + ":" + identity + ":" + ip

	w, err := l.store.Hit(ctx, key, cfg.MaxRequests, cfg.Window)
	if err != nil {
		decisionsTotal.WithLabelValues(class, "error").Inc()
		l.logger.Error().Err(err).Str("class", class).Str("identity", identity).Msg("rate limit store failed, admitting request")
		return Result{Limit: cfg.MaxRequests, Remaining: cfg.MaxRequests, ResetAt: l.now().Add(cfg.Window)}, err
	}

	remaining := cfg.MaxRequests - w.Count
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Limited:   !w.Admitted,
		Limit:     cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   w.ResetAt,
	}

	if res.Limited {
		decisionsTotal.WithLabelValues(class, "limited").Inc()
	} else {
		decisionsTotal.WithLabelValues(class, "admitted").Inc()
	}
	return res, nil
}
