// Package events is a thin pub/sub layer the pipeline uses to announce
// lifecycle moments without coupling components to their observers.
package events

import (
	"github.com/asaskevich/EventBus"

	"github.com/Rajchodisetti/options-trader/internal/observ"
)

// Topics published by the pipeline.
const (
	SignalReceived    = "SignalReceived"
	SpreadSelected    = "SpreadSelected"
	TradeExecuted     = "TradeExecuted"
	TradeQueued       = "TradeQueued"
	TradeRejected     = "TradeRejected"
	PositionClosed    = "PositionClosed"
	CircuitTripped    = "CircuitTripped"
	TradingWindowOpen = "TradingWindowOpen"
)

// Bus wraps an async EventBus instance. Components take a *Bus rather
// than the library type so tests can subscribe probes cheaply.
type Bus struct {
	inner EventBus.Bus
}

func New() *Bus {
	return &Bus{inner: EventBus.New()}
}

func (b *Bus) Publish(topic string, payload any) {
	b.inner.Publish(topic, payload)
	observ.IncCounter("events_published_total", map[string]string{"topic": topic})
}

// Subscribe registers an async handler; events from one publisher are
// delivered in order.
func (b *Bus) Subscribe(topic string, fn any) error {
	if err := b.inner.SubscribeAsync(topic, fn, false); err != nil {
		return err
	}
	observ.Log("event_subscribed", map[string]any{"topic": topic})
	return nil
}

// SubscribeSync registers a handler that runs on the publisher's
// goroutine, which tests rely on for determinism.
func (b *Bus) SubscribeSync(topic string, fn any) error {
	return b.inner.Subscribe(topic, fn)
}

// Wait blocks until every async handler in flight has returned.
func (b *Bus) Wait() {
	b.inner.WaitAsync()
}
