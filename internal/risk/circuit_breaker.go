// Package risk holds the risk primitives shared by the risk agent: the
// per-day circuit breaker, the position sizer, and the sector map loader.
package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerConfig bounds daily losses and intraday drawdown. Limits
// are fractions, e.g. 0.03 means 3%.
type CircuitBreakerConfig struct {
	DailyLossLimit float64
	MaxDrawdown    float64
	Location       *time.Location
}

// DefaultCircuitBreakerConfig returns stock limits in US market time.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	loc, _ := time.LoadLocation("America/New_York")
	return CircuitBreakerConfig{
		DailyLossLimit: 0.03,
		MaxDrawdown:    0.15,
		Location:       loc,
	}
}

// CircuitBreaker halts buying when the equity series breaches a daily loss
// or drawdown limit. Activation is sticky within a market-timezone calendar
// day: once tripped it stays tripped until Reset or the date rolls over.
type CircuitBreaker struct {
	cfg    CircuitBreakerConfig
	logger *zap.Logger

	mu               sync.Mutex
	active           bool
	reason           string
	activatedAt      time.Time
	dailyStartEquity float64
	peakEquity       float64
	lastDate         string
}

// NewCircuitBreaker creates a breaker with the given limits.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{cfg: cfg, logger: logger.Named("circuit_breaker")}
}

// Update feeds one equity observation and returns the breaker state. The
// first observation of a new calendar date resets the day's baselines and
// clears any prior activation.
func (cb *CircuitBreaker) Update(equity float64, now time.Time) (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	date := now.In(cb.cfg.Location).Format("2006-01-02")
	if date != cb.lastDate {
		cb.lastDate = date
		cb.dailyStartEquity = equity
		cb.peakEquity = equity
		cb.active = false
		cb.reason = ""
		return false, ""
	}

	if equity > cb.peakEquity {
		cb.peakEquity = equity
	}
	if cb.active {
		return true, cb.reason
	}

	if cb.dailyStartEquity > 0 {
		dailyLoss := (equity - cb.dailyStartEquity) / cb.dailyStartEquity
		if dailyLoss <= -cb.cfg.DailyLossLimit {
			cb.trip(fmt.Sprintf("Daily loss limit breached: %.2f%% (limit %.2f%%)",
				dailyLoss*100, cb.cfg.DailyLossLimit*100), now)
			return true, cb.reason
		}
	}
	if cb.peakEquity > 0 {
		drawdown := (cb.peakEquity - equity) / cb.peakEquity
		if drawdown >= cb.cfg.MaxDrawdown {
			cb.trip(fmt.Sprintf("Max drawdown breached: %.2f%% (limit %.2f%%)",
				drawdown*100, cb.cfg.MaxDrawdown*100), now)
			return true, cb.reason
		}
	}
	return false, ""
}

func (cb *CircuitBreaker) trip(reason string, now time.Time) {
	cb.active = true
	cb.reason = reason
	cb.activatedAt = now.UTC()
	cb.logger.Warn("circuit breaker tripped", zap.String("reason", reason))
}

// Reset clears an active breaker. Day baselines are kept.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.active {
		cb.logger.Info("circuit breaker reset", zap.String("prior_reason", cb.reason))
	}
	cb.active = false
	cb.reason = ""
}

// State reports the current activation flag and reason.
func (cb *CircuitBreaker) State() (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.active, cb.reason
}
