package arb

import (
	"fmt"
	"sync"
	"time"

	"github.com/flashroute/solarb/pkg/config"
	"github.com/flashroute/solarb/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Outcome is recorded by the pipeline after each attempted execution.
type Outcome struct {
	Success      bool
	LossLamports uint64
}

type lossEntry struct {
	at     time.Time
	amount uint64
}

// CircuitBreaker pauses trading when recent execution history crosses the
// configured risk thresholds (§4.2). Consecutive-failure and
// failure-ratio tripping delegates to sony/gobreaker; hourly loss
// accounting is tracked separately, since gobreaker's Counts carries no
// notion of lamport loss.
type CircuitBreaker struct {
	cfg     config.CircuitBreakerConfig
	logger  *logger.Logger
	breaker *gobreaker.CircuitBreaker

	mu         sync.Mutex
	lossWindow []lossEntry
}

// NewCircuitBreaker builds a breaker from the configured thresholds.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	named := log.Named("breaker")
	cooldown := 5 * time.Minute
	if d, err := time.ParseDuration(cfg.CooldownPeriod); err == nil && d > 0 {
		cooldown = d
	}

	cb := &CircuitBreaker{cfg: cfg, logger: named}

	settings := gobreaker.Settings{
		Name:        "arb-executor",
		MaxRequests: 1,
		Interval:    time.Hour,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.MaxConsecutiveFailures > 0 && int(counts.ConsecutiveFailures) >= cfg.MaxConsecutiveFailures {
				return true
			}
			if cfg.MinSampleSize > 0 && cfg.MinSuccessRate > 0 && counts.Requests >= uint32(cfg.MinSampleSize) {
				successRate := float64(counts.TotalSuccesses) / float64(counts.Requests)
				return successRate < cfg.MinSuccessRate
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			named.Warn("circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	cb.breaker = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// CanAttempt reports whether new opportunities may proceed to execution.
// Returns false while the breaker is open or the trailing hourly loss
// exceeds the configured cap.
func (cb *CircuitBreaker) CanAttempt() bool {
	if cb.breaker.State() == gobreaker.StateOpen {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.evictStaleLoss(time.Now())
	if cb.cfg.MaxHourlyLossLamports > 0 && cb.hourlyLossLocked() >= cb.cfg.MaxHourlyLossLamports {
		return false
	}
	return true
}

// Record reports the outcome of one attempted execution.
func (cb *CircuitBreaker) Record(outcome Outcome) {
	_, _ = cb.breaker.Execute(func() (interface{}, error) {
		if !outcome.Success {
			return nil, fmt.Errorf("execution failed")
		}
		return nil, nil
	})

	if outcome.LossLamports > 0 {
		cb.mu.Lock()
		cb.lossWindow = append(cb.lossWindow, lossEntry{at: time.Now(), amount: outcome.LossLamports})
		cb.mu.Unlock()
	}
}

// HourlyLoss returns the total loss recorded within the trailing hour.
func (cb *CircuitBreaker) HourlyLoss() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.evictStaleLoss(time.Now())
	return cb.hourlyLossLocked()
}

func (cb *CircuitBreaker) hourlyLossLocked() uint64 {
	var total uint64
	for _, e := range cb.lossWindow {
		total += e.amount
	}
	return total
}

func (cb *CircuitBreaker) evictStaleLoss(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for _, e := range cb.lossWindow {
		if e.at.After(cutoff) {
			cb.lossWindow[i] = e
			i++
		}
	}
	cb.lossWindow = cb.lossWindow[:i]
}
