package recovery

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/options-trader/internal/observ"
)

// Component names the subsystems protected by circuit breakers.
type Component string

const (
	BrokerAPI      Component = "BROKER_API"
	DataProvider   Component = "DATA_PROVIDER"
	SpreadSelector Component = "SPREAD_SELECTOR"
	TradeExecutor  Component = "TRADE_EXECUTOR"
	RiskManager    Component = "RISK_MANAGER"
)

// Components lists every protected subsystem.
func Components() []Component {
	return []Component{BrokerAPI, DataProvider, SpreadSelector, TradeExecutor, RiskManager}
}

type breakerState struct {
	tripped   bool
	tripTime  time.Time
	resetTime time.Time
}

// breakerSet tracks one breaker per component. Reset is lazy: breakers
// clear when observed past their reset time, there is no timer goroutine.
type breakerSet struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time
	states   map[Component]*breakerState
}

func newBreakerSet(cooldown time.Duration, now func() time.Time) *breakerSet {
	states := make(map[Component]*breakerState)
	for _, c := range Components() {
		states[c] = &breakerState{}
	}
	return &breakerSet{cooldown: cooldown, now: now, states: states}
}

// isTripped reports the breaker state after applying a lazy reset.
func (b *breakerSet) isTripped(c Component) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[c]
	if !ok {
		return false
	}
	if st.tripped && !b.now().Before(st.resetTime) {
		st.tripped = false
		observ.Log("circuit_breaker_reset", map[string]any{"component": string(c)})
		observ.SetGauge("circuit_breaker_tripped", map[string]string{"component": string(c)}, 0)
	}
	return st.tripped
}

func (b *breakerSet) trip(c Component) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[c]
	if !ok {
		st = &breakerState{}
		b.states[c] = st
	}
	st.tripped = true
	st.tripTime = b.now()
	st.resetTime = st.tripTime.Add(b.cooldown)
	observ.Warn("circuit_breaker_tripped", map[string]any{
		"component": string(c), "reset_time": st.resetTime.Format(time.RFC3339),
	})
	observ.SetGauge("circuit_breaker_tripped", map[string]string{"component": string(c)}, 1)
	return st.resetTime
}

func (b *breakerSet) resetTime(c Component) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[c]; ok {
		return st.resetTime
	}
	return time.Time{}
}
