// Package recovery is the error funnel for broker-boundary and component
// faults: it counts errors, trips per-component circuit breakers, and
// dispatches bounded recovery strategies.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/options-trader/internal/alerts"
	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/observ"
)

// ErrorKind classifies an error for criticality and recovery dispatch.
type ErrorKind string

const (
	ConnectionError     ErrorKind = "CONNECTION_ERROR"
	AuthenticationError ErrorKind = "AUTHENTICATION_ERROR"
	OrderExecutionError ErrorKind = "ORDER_EXECUTION_ERROR"
	DataIntegrityError  ErrorKind = "DATA_INTEGRITY_ERROR"
	AccountError        ErrorKind = "ACCOUNT_ERROR"
	PositionError       ErrorKind = "POSITION_ERROR"
	MarketAccessError   ErrorKind = "MARKET_ACCESS_ERROR"
	DataMissingError    ErrorKind = "DATA_MISSING_ERROR"
	RequestError        ErrorKind = "REQUEST_ERROR"
	NoCandidatesError   ErrorKind = "NO_CANDIDATES_ERROR"
	StaleStateError     ErrorKind = "STALE_STATE_ERROR"
	UnknownError        ErrorKind = "UNKNOWN_ERROR"
)

// IsCritical reports whether the kind can trip a circuit breaker.
func IsCritical(kind ErrorKind) bool {
	switch kind {
	case ConnectionError, AuthenticationError, OrderExecutionError,
		DataIntegrityError, AccountError, PositionError, MarketAccessError:
		return true
	}
	return false
}

// Hooks are the component-supplied recovery actions. Any hook may be nil,
// in which case the matching strategy reports failure.
type Hooks struct {
	// Reconnect tears down and re-establishes the broker connection.
	Reconnect func(ctx context.Context) error
	// Retry re-runs the failed operation, possibly with relaxed inputs.
	Retry func(ctx context.Context) error
	// Refresh re-reads state from the source of truth.
	Refresh func(ctx context.Context) error
}

// Handler implements the per-component error state machine.
type Handler struct {
	cfg      config.Errors
	notifier alerts.Notifier
	now      func() time.Time
	breakers *breakerSet

	mu        sync.Mutex
	counts    map[string]int
	attempts  map[string]int
	lastError map[string]time.Time
}

// NewHandler creates an error handler. A nil now func defaults to
// time.Now; notifier may be nil.
func NewHandler(cfg config.Errors, n alerts.Notifier, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	if n == nil {
		n = alerts.Noop{}
	}
	cooldown := time.Duration(cfg.CircuitBreakerMinutes) * time.Minute
	return &Handler{
		cfg:       cfg,
		notifier:  n,
		now:       now,
		breakers:  newBreakerSet(cooldown, now),
		counts:    make(map[string]int),
		attempts:  make(map[string]int),
		lastError: make(map[string]time.Time),
	}
}

// CanUse reports whether the component's breaker permits calls to it. A
// breaker past its reset time clears as a side effect.
func (h *Handler) CanUse(c Component) bool {
	return !h.breakers.isTripped(c)
}

// Handle runs the error state machine for one fault and returns whether
// recovery succeeded along with an outcome message.
func (h *Handler) Handle(ctx context.Context, component Component, kind ErrorKind, msg string, hooks Hooks) (bool, string) {
	key := string(component) + ":" + string(kind)
	observ.Error("component_error", map[string]any{
		"component": string(component), "kind": string(kind), "message": msg,
	})
	observ.IncCounter("component_errors_total", map[string]string{
		"component": string(component), "kind": string(kind),
	})

	// tripped breaker short-circuits everything, including counting
	if h.breakers.isTripped(component) {
		reset := h.breakers.resetTime(component)
		h.notifier.Send(alerts.Alert{
			Severity: alerts.Critical,
			Title:    fmt.Sprintf("Circuit breaker active: %s", component),
			Message:  fmt.Sprintf("breaker open until %s", reset.Format(time.RFC3339)),
		})
		return false, "Circuit breaker active"
	}

	h.mu.Lock()
	h.counts[key]++
	count := h.counts[key]
	h.lastError[key] = h.now()
	h.mu.Unlock()

	critical := IsCritical(kind)
	if critical || count >= h.cfg.ErrorThreshold {
		severity := alerts.Warning
		if critical {
			severity = alerts.Critical
		}
		h.notifier.Send(alerts.Alert{
			Severity: severity,
			Title:    fmt.Sprintf("Error in %s", component),
			Message:  fmt.Sprintf("%s: %s (count %d)", kind, msg, count),
		})
		if critical && count >= h.cfg.CircuitBreakerThreshold {
			reset := h.breakers.trip(component)
			h.notifier.Send(alerts.Alert{
				Severity: alerts.Critical,
				Title:    fmt.Sprintf("Circuit breaker tripped: %s", component),
				Message:  fmt.Sprintf("component disabled until %s", reset.Format(time.RFC3339)),
			})
			return false, "Circuit breaker tripped"
		}
	}

	h.mu.Lock()
	attempts := h.attempts[key]
	if attempts < h.cfg.MaxRecoveryAttempts {
		h.attempts[key]++
	}
	h.mu.Unlock()

	if attempts >= h.cfg.MaxRecoveryAttempts {
		h.notifier.SendPerformanceAlert(
			fmt.Sprintf("Recovery exhausted for %s", component),
			fmt.Sprintf("max recovery attempts (%d) reached for %s", h.cfg.MaxRecoveryAttempts, kind),
			nil)
		return false, fmt.Sprintf("Max recovery attempts reached (%d)", h.cfg.MaxRecoveryAttempts)
	}

	return h.recover(ctx, component, kind, hooks, attempts+1)
}

// recover dispatches the strategy for the error kind: reconnect with
// backoff for connection faults, relax-and-retry for empty candidate
// sets, refresh for stale state, and a delayed report otherwise.
func (h *Handler) recover(ctx context.Context, component Component, kind ErrorKind, hooks Hooks, attempt int) (bool, string) {
	observ.Log("recovery_attempt", map[string]any{
		"component": string(component), "kind": string(kind), "attempt": attempt,
	})

	switch kind {
	case ConnectionError, MarketAccessError:
		if hooks.Reconnect == nil {
			return false, "No reconnect hook available"
		}
		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		select {
		case <-ctx.Done():
			return false, "Recovery cancelled"
		case <-time.After(backoff):
		}
		if err := hooks.Reconnect(ctx); err != nil {
			return false, fmt.Sprintf("Reconnect attempt failed: %v", err)
		}
		return true, "Reconnected"

	case AuthenticationError:
		h.notifier.Send(alerts.Alert{
			Severity: alerts.Critical,
			Title:    fmt.Sprintf("Authentication required: %s", component),
			Message:  "manual intervention required",
		})
		return false, "Authentication error requires manual intervention"

	case NoCandidatesError, DataMissingError, RequestError:
		if hooks.Retry == nil {
			return false, "No retry hook available"
		}
		if err := hooks.Retry(ctx); err != nil {
			return false, fmt.Sprintf("Retry failed: %v", err)
		}
		return true, "Retry succeeded"

	case StaleStateError, PositionError, AccountError:
		if hooks.Refresh == nil {
			return false, "No refresh hook available"
		}
		if err := hooks.Refresh(ctx); err != nil {
			return false, fmt.Sprintf("Refresh failed: %v", err)
		}
		return true, "State refreshed"

	default:
		select {
		case <-ctx.Done():
			return false, "Recovery cancelled"
		case <-time.After(time.Second):
		}
		return false, "Generic recovery attempted"
	}
}

// ClearStale drops error counts and recovery attempts whose last
// occurrence is older than the window, so old noise cannot trip a
// breaker days later.
func (h *Handler) ClearStale(window time.Duration) int {
	cutoff := h.now().Add(-window)
	h.mu.Lock()
	defer h.mu.Unlock()
	cleared := 0
	for key, last := range h.lastError {
		if last.Before(cutoff) {
			delete(h.counts, key)
			delete(h.attempts, key)
			delete(h.lastError, key)
			cleared++
		}
	}
	return cleared
}

// Summary reports per-key error counts for status surfaces.
func (h *Handler) Summary() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}
