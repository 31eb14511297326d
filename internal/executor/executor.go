// Package executor turns an admitted spread into an order: it checks the
// execution window, prices the order for paper or live mode, and parks
// out-of-window trades on a FIFO queue drained by the worker loop.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/options-trader/internal/alerts"
	"github.com/Rajchodisetti/options-trader/internal/broker"
	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/events"
	"github.com/Rajchodisetti/options-trader/internal/observ"
	"github.com/Rajchodisetti/options-trader/internal/options"
	"github.com/Rajchodisetti/options-trader/internal/schedule"
)

// Status is the outcome of an execution attempt.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusExecuted Status = "EXECUTED"
	StatusQueued   Status = "QUEUED"
	StatusFailed   Status = "FAILED"
)

// Result carries the outcome of ExecuteTrade.
type Result struct {
	Status  Status
	OrderID string
	Price   float64
	Detail  string
}

// QueuedTrade is one deferred execution awaiting the next valid window.
type QueuedTrade struct {
	Signal   options.TradeSignal
	Spread   options.Spread
	Size     int
	QueuedAt time.Time
}

// Metrics is a snapshot of execution counters.
type Metrics struct {
	TotalTrades      int
	SuccessfulTrades int
	FailedTrades     int
	AvgExecutionTime time.Duration
	SuccessRate      float64
	QueuedTrades     int
}

// Executor owns the queue and the pricing model. The clock decides what
// local exchange time it is; tests inject a fixed one.
type Executor struct {
	cfg      config.Execution
	broker   broker.Broker
	notifier alerts.Notifier
	bus      *events.Bus
	clock    *schedule.Clock

	// OnQueuedExecuted, when set, is invoked after a queued trade fills
	// during a drain pass so the caller can record the position. Set it
	// before any worker runs; it is read without the lock.
	OnQueuedExecuted func(signal options.TradeSignal, spread options.Spread, size int)

	mu        sync.Mutex
	queue     []QueuedTrade
	total     int
	succeeded int
	failed    int
	avgTime   time.Duration
}

// New creates an executor. notifier and bus may be nil.
func New(cfg config.Execution, b broker.Broker, n alerts.Notifier, bus *events.Bus, clock *schedule.Clock) *Executor {
	if n == nil {
		n = alerts.Noop{}
	}
	return &Executor{cfg: cfg, broker: b, notifier: n, bus: bus, clock: clock}
}

// IsValidExecutionTime permits execution only while the market is open
// and the session is past the configured cutoff hour, or inside the
// late-day grace window just before it when that is enabled.
func (e *Executor) IsValidExecutionTime(t time.Time) bool {
	if !e.clock.IsMarketOpen(t) {
		return false
	}
	local := t.In(e.clock.Now().Location())
	if local.Hour() >= e.cfg.CutoffHour {
		return true
	}
	if e.cfg.AllowLateDayEntry &&
		local.Hour() == e.cfg.CutoffHour-1 &&
		local.Minute() >= e.cfg.LateDayEntryMinute {
		return true
	}
	return false
}

// ExecuteTrade attempts to place the order now. Outside the execution
// window the trade is queued FIFO and an INFO alert raised; inside it the
// order is priced per the configured mode and sent to the broker.
func (e *Executor) ExecuteTrade(ctx context.Context, signal options.TradeSignal, spread options.Spread, size int) Result {
	now := e.clock.Now()
	if !e.IsValidExecutionTime(now) {
		e.mu.Lock()
		e.queue = append(e.queue, QueuedTrade{Signal: signal, Spread: spread, Size: size, QueuedAt: now})
		depth := len(e.queue)
		e.mu.Unlock()

		e.notifier.Send(alerts.Alert{
			Severity: alerts.Info,
			Title:    fmt.Sprintf("Trade queued for %s", signal.Symbol),
			Message:  fmt.Sprintf("%s %s x%d awaiting execution window", signal.Symbol, signal.Direction, size),
		})
		e.publish(events.TradeQueued, signal.Symbol)
		observ.SetGauge("executor_queue_depth", nil, float64(depth))
		return Result{Status: StatusQueued, Detail: "Trade queued for execution window"}
	}

	start := time.Now()
	res := e.placeOrder(ctx, signal, spread, size)
	elapsed := time.Since(start)

	e.mu.Lock()
	e.total++
	if res.Status == StatusExecuted {
		e.succeeded++
		// running average over successful executions
		n := time.Duration(e.succeeded)
		e.avgTime = (e.avgTime*(n-1) + elapsed) / n
	} else {
		e.failed++
	}
	e.mu.Unlock()

	observ.RecordDuration("executor_trade_seconds", map[string]string{"status": string(res.Status)}, elapsed)
	switch res.Status {
	case StatusExecuted:
		observ.Log("trade_executed", map[string]any{
			"symbol": signal.Symbol, "direction": string(signal.Direction),
			"contracts": size, "order_id": res.OrderID, "price": res.Price,
		})
		e.publish(events.TradeExecuted, signal.Symbol)
	case StatusFailed:
		e.notifier.SendPerformanceAlert(
			fmt.Sprintf("Trade failed for %s", signal.Symbol), res.Detail, nil)
		e.publish(events.TradeRejected, signal.Symbol)
	}
	return res
}

func (e *Executor) placeOrder(ctx context.Context, signal options.TradeSignal, spread options.Spread, size int) Result {
	price, limit := e.priceSpread(signal.Direction, spread)

	orderID := uuid.NewString()
	req := broker.OrderRequest{
		OrderID:    orderID,
		Spread:     spread,
		Contracts:  size,
		LimitPrice: limit,
	}
	st, err := e.broker.PlaceOrder(ctx, req)
	if err != nil {
		return Result{Status: StatusFailed, Detail: err.Error()}
	}
	if st.State == broker.OrderRejected {
		return Result{Status: StatusFailed, OrderID: orderID, Detail: st.Reason}
	}
	fill := st.FillPrice
	if fill == 0 {
		fill = price
	}
	return Result{Status: StatusExecuted, OrderID: orderID, Price: fill}
}

// priceSpread computes the expected fill and the limit to send. Paper
// mode crosses the market with no improvement; live mode works a limit
// between the combined bid and ask, biased by the improvement factor
// toward the favorable side.
func (e *Executor) priceSpread(direction options.Direction, spread options.Spread) (price, limit float64) {
	if e.cfg.Mode == "paper" {
		if direction == options.Long {
			price = spread.LongLeg.Ask - spread.ShortLeg.Bid
		} else {
			price = spread.LongLeg.Bid - spread.ShortLeg.Ask
		}
		return price, price
	}

	bid := spread.LongLeg.Bid - spread.ShortLeg.Ask
	ask := spread.LongLeg.Ask - spread.ShortLeg.Bid
	f := e.cfg.PriceImprovementFactor
	if direction == options.Short {
		f = 1 - f
	}
	limit = bid + (ask-bid)*f
	return limit, limit
}

// ProcessQueuedTrades retries every queued trade in FIFO order when the
// window is open. Executed trades leave the queue; failed or still-queued
// ones stay. Trades older than the optional max age are dropped with a
// WARNING instead of being retried forever.
func (e *Executor) ProcessQueuedTrades(ctx context.Context) int {
	now := e.clock.Now()

	e.mu.Lock()
	pending := e.queue
	e.queue = nil
	e.mu.Unlock()
	if len(pending) == 0 {
		return 0
	}

	maxAge := time.Duration(e.cfg.MaxQueueAgeMinutes) * time.Minute
	valid := e.IsValidExecutionTime(now)

	var remaining []QueuedTrade
	processed := 0
	for _, qt := range pending {
		if maxAge > 0 && now.Sub(qt.QueuedAt) > maxAge {
			e.notifier.SendPerformanceAlert(
				fmt.Sprintf("Queued trade expired for %s", qt.Signal.Symbol),
				fmt.Sprintf("queued %.0f minutes, limit %d", now.Sub(qt.QueuedAt).Minutes(), e.cfg.MaxQueueAgeMinutes),
				nil)
			observ.IncCounter("executor_queue_expired_total", nil)
			continue
		}
		if !valid {
			remaining = append(remaining, qt)
			continue
		}

		start := time.Now()
		res := e.placeOrder(ctx, qt.Signal, qt.Spread, qt.Size)
		elapsed := time.Since(start)

		e.mu.Lock()
		e.total++
		if res.Status == StatusExecuted {
			e.succeeded++
			n := time.Duration(e.succeeded)
			e.avgTime = (e.avgTime*(n-1) + elapsed) / n
		} else {
			e.failed++
		}
		e.mu.Unlock()

		if res.Status == StatusExecuted {
			processed++
			if e.OnQueuedExecuted != nil {
				e.OnQueuedExecuted(qt.Signal, qt.Spread, qt.Size)
			}
			observ.Log("queued_trade_executed", map[string]any{
				"symbol":         qt.Signal.Symbol,
				"order_id":       res.OrderID,
				"minutes_queued": now.Sub(qt.QueuedAt).Minutes(),
			})
			e.publish(events.TradeExecuted, qt.Signal.Symbol)
		} else {
			remaining = append(remaining, qt)
		}
	}

	e.mu.Lock()
	// anything queued while the drain ran goes behind the survivors
	e.queue = append(remaining, e.queue...)
	depth := len(e.queue)
	e.mu.Unlock()
	observ.SetGauge("executor_queue_depth", nil, float64(depth))
	return processed
}

// QueueDepth reports how many trades are waiting.
func (e *Executor) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// QueuedTrades returns a snapshot of the queue in FIFO order.
func (e *Executor) QueuedTrades() []QueuedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]QueuedTrade, len(e.queue))
	copy(out, e.queue)
	return out
}

// GetMetrics snapshots the execution counters.
func (e *Executor) GetMetrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := Metrics{
		TotalTrades:      e.total,
		SuccessfulTrades: e.succeeded,
		FailedTrades:     e.failed,
		AvgExecutionTime: e.avgTime,
		QueuedTrades:     len(e.queue),
	}
	if e.total > 0 {
		m.SuccessRate = float64(e.succeeded) / float64(e.total)
	}
	return m
}

func (e *Executor) publish(topic, symbol string) {
	if e.bus != nil {
		e.bus.Publish(topic, symbol)
	}
}
