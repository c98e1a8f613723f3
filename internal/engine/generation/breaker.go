package generation

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	apperrors "zyphon/internal/pkg/errors"
	"zyphon/internal/platform/config"
)

var (
	ErrUpstream    = apperrors.New(apperrors.KindUpstream, "upstream generation failed")
	ErrCircuitOpen = apperrors.New(apperrors.KindUnavailable, "generation temporarily unavailable")
)

var breakerTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zyphon_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions by upstream",
	},
	[]string{"upstream", "from", "to"},
)

func newBreaker(name string, cfg config.BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 1
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.5
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logger.Warn().Str("upstream", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// guard runs fn through cb and turns breaker rejections into ErrCircuitOpen.
func guard[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrCircuitOpen
		}
		return zero, err
	}
	return out.(T), nil
}
