// Package trader is the orchestrator: a single worker drains the signal
// queue through the decision pipeline, and between signals performs the
// periodic duties of each tick.
package trader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rajchodisetti/options-trader/internal/alerts"
	"github.com/Rajchodisetti/options-trader/internal/broker"
	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/events"
	"github.com/Rajchodisetti/options-trader/internal/executor"
	"github.com/Rajchodisetti/options-trader/internal/marketstats"
	"github.com/Rajchodisetti/options-trader/internal/observ"
	"github.com/Rajchodisetti/options-trader/internal/options"
	"github.com/Rajchodisetti/options-trader/internal/recovery"
	"github.com/Rajchodisetti/options-trader/internal/risk"
	"github.com/Rajchodisetti/options-trader/internal/schedule"
)

// tickInterval bounds how long the worker blocks on the signal queue
// before running its periodic duties.
const tickInterval = time.Second

// signalQueueDepth bounds the inbound signal queue.
const signalQueueDepth = 256

// ContextProvider supplies the underlying market context the filter
// consumes. The sim provider derives everything from the option chain.
type ContextProvider interface {
	UnderlyingContext(ctx context.Context, symbol string, chain []options.Contract, last float64) (options.UnderlyingContext, error)
}

// Trader wires the pipeline together and runs the workers.
type Trader struct {
	cfg      config.Root
	broker   broker.Broker
	selector *options.Selector
	riskMgr  *risk.Manager
	exec     *executor.Executor
	exitMgr  ExitEvaluator
	handler  *recovery.Handler
	notifier alerts.Notifier
	bus      *events.Bus
	sched    *schedule.Scheduler
	clock    *schedule.Clock
	contexts ContextProvider

	signals chan options.TradeSignal

	mu        sync.Mutex
	processed int
	rejected  int
}

// ExitEvaluator is the slice of the exit manager the worker needs.
type ExitEvaluator interface {
	ShouldExit(pos risk.Position, currentPrice float64, daysToExpiry int, atr float64) (bool, string)
}

// Deps carries the collaborators for New; Notifier, Bus and Contexts may
// be nil.
type Deps struct {
	Broker   broker.Broker
	Selector *options.Selector
	Risk     *risk.Manager
	Executor *executor.Executor
	Exits    ExitEvaluator
	Handler  *recovery.Handler
	Notifier alerts.Notifier
	Bus      *events.Bus
	Sched    *schedule.Scheduler
	Clock    *schedule.Clock
	Contexts ContextProvider
}

func New(cfg config.Root, d Deps) *Trader {
	if d.Notifier == nil {
		d.Notifier = alerts.Noop{}
	}
	if d.Contexts == nil {
		d.Contexts = chainContextProvider{}
	}
	if d.Executor != nil && d.Risk != nil {
		d.Executor.OnQueuedExecuted = func(sig options.TradeSignal, spread options.Spread, size int) {
			d.Risk.RecordTrade(sig.Symbol, sig.Direction, size, spread)
		}
	}
	return &Trader{
		cfg:      cfg,
		broker:   d.Broker,
		selector: d.Selector,
		riskMgr:  d.Risk,
		exec:     d.Executor,
		exitMgr:  d.Exits,
		handler:  d.Handler,
		notifier: d.Notifier,
		bus:      d.Bus,
		sched:    d.Sched,
		clock:    d.Clock,
		contexts: d.Contexts,
		signals:  make(chan options.TradeSignal, signalQueueDepth),
	}
}

// Submit enqueues a signal for the worker; false means the queue is full
// and the signal was dropped.
func (t *Trader) Submit(sig options.TradeSignal) bool {
	select {
	case t.signals <- sig:
		if t.bus != nil {
			t.bus.Publish(events.SignalReceived, sig.Symbol)
		}
		return true
	default:
		observ.Warn("signal_dropped", map[string]any{"symbol": sig.Symbol})
		return false
	}
}

// Run drains signals in FIFO order until the context is cancelled. Each
// idle tick it pumps the broker, reconciles positions, retries queued
// trades and evaluates exits.
func (t *Trader) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-t.signals:
			t.ProcessSignal(ctx, sig)
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one pass of the periodic duties.
func (t *Trader) Tick(ctx context.Context) {
	if err := t.broker.Pump(ctx); err != nil {
		t.handleBrokerError(ctx, recovery.ConnectionError, err)
	}
	if err := t.riskMgr.RefreshFromBroker(ctx); err != nil {
		t.handleBrokerError(ctx, recovery.PositionError, err)
	}
	t.exec.ProcessQueuedTrades(ctx)
	t.MonitorExits(ctx)
}

// ProcessSignal walks one signal through admission, selection, sizing,
// execution and recording. Every rejection is a logged decision, not an
// error.
func (t *Trader) ProcessSignal(ctx context.Context, sig options.TradeSignal) {
	start := time.Now()
	defer observ.RecordDuration("signal_pipeline_seconds", nil, time.Since(start))

	if t.sched != nil && !t.sched.TradingEnabled() {
		t.reject(sig, "trading disabled by schedule")
		return
	}
	if !t.handler.CanUse(recovery.BrokerAPI) {
		t.reject(sig, "broker circuit breaker open")
		return
	}

	// pre-selection admission with no cost yet: cheap gates only
	if ok, reason := t.riskMgr.CanEnterTrade(ctx, sig.Symbol, sig.Direction, 0); !ok {
		t.reject(sig, reason)
		return
	}

	md, err := t.broker.GetMarketData(ctx, sig.Symbol)
	if err != nil {
		t.handleBrokerError(ctx, recovery.ConnectionError, err)
		t.reject(sig, "market data unavailable")
		return
	}
	chain, err := t.broker.GetOptionChain(ctx, sig.Symbol)
	if err != nil {
		t.handleBrokerError(ctx, recovery.ConnectionError, err)
		t.reject(sig, "option chain unavailable")
		return
	}
	if len(chain) == 0 {
		t.handler.Handle(ctx, recovery.DataProvider, recovery.DataMissingError, "empty option chain", recovery.Hooks{})
		t.reject(sig, "empty option chain")
		return
	}

	und, err := t.contexts.UnderlyingContext(ctx, sig.Symbol, chain, md.Last)
	if err != nil {
		t.reject(sig, "underlying context unavailable")
		return
	}

	spread, ok := t.selector.BestSpread(sig, chain, und)
	if !ok {
		t.handler.Handle(ctx, recovery.SpreadSelector, recovery.NoCandidatesError,
			"no spread passed filtering", recovery.Hooks{})
		t.reject(sig, "no suitable spread candidates")
		return
	}
	if t.bus != nil {
		t.bus.Publish(events.SpreadSelected, spread.Symbol)
	}

	accountValue := t.riskMgr.AccountValue(ctx)
	costPerContract := spread.Cost * 100
	size := t.riskMgr.ContractSize(accountValue, costPerContract)
	if size == 0 {
		t.reject(sig, "position size rounded to zero")
		return
	}

	// full admission with the complete sized notional, the same figure
	// RecordTrade will book against exposure
	if ok, reason := t.riskMgr.CanEnterTrade(ctx, sig.Symbol, sig.Direction, costPerContract*float64(size)); !ok {
		t.reject(sig, reason)
		return
	}

	res := t.exec.ExecuteTrade(ctx, sig, spread, size)
	switch res.Status {
	case executor.StatusExecuted:
		t.riskMgr.RecordTrade(sig.Symbol, sig.Direction, size, spread)
		t.mu.Lock()
		t.processed++
		t.mu.Unlock()
		observ.Log("signal_completed", map[string]any{
			"symbol": sig.Symbol, "direction": string(sig.Direction),
			"contracts": size, "order_id": res.OrderID,
		})
	case executor.StatusQueued:
		observ.Log("signal_queued", map[string]any{"symbol": sig.Symbol})
	case executor.StatusFailed:
		t.handler.Handle(ctx, recovery.TradeExecutor, recovery.OrderExecutionError, res.Detail, recovery.Hooks{})
		t.reject(sig, res.Detail)
	}
}

// MonitorExits marks every open position and closes the ones whose exit
// rules fire. The underlying's ATR feeds the ATR profit target when that
// exit is enabled.
func (t *Trader) MonitorExits(ctx context.Context) {
	now := time.Now()
	if t.clock != nil {
		now = t.clock.Now()
	}
	for symbol, pos := range t.riskMgr.Positions() {
		chain, err := t.broker.GetOptionChain(ctx, symbol)
		if err != nil {
			continue
		}
		price, err := markSpread(chain, pos)
		if err != nil {
			continue
		}
		t.riskMgr.UpdatePrice(symbol, price)
		pos = t.riskMgr.Positions()[symbol]

		var atr float64
		if md, err := t.broker.GetMarketData(ctx, symbol); err == nil {
			if und, err := t.contexts.UnderlyingContext(ctx, symbol, chain, md.Last); err == nil {
				atr = und.ATR
			}
		}

		dte := pos.Spread.DTEFrom(now)
		exit, reason := t.exitMgr.ShouldExit(pos, price, dte, atr)
		if !exit {
			continue
		}
		observ.Log("exit_triggered", map[string]any{"symbol": symbol, "reason": reason, "price": price})
		if err := t.closePosition(ctx, pos, price); err != nil {
			t.handleBrokerError(ctx, recovery.OrderExecutionError, err)
			continue
		}
		t.notifier.Send(alerts.Alert{
			Severity: alerts.Info,
			Title:    "Position closed: " + symbol,
			Message:  reason,
		})
		if t.bus != nil {
			t.bus.Publish(events.PositionClosed, symbol)
		}
	}
}

// markSpread marks the spread off the chain quotes for its legs; when a
// leg is missing it falls back to the last mark.
func markSpread(chain []options.Contract, pos risk.Position) (float64, error) {
	var long, short *options.Contract
	for i := range chain {
		c := &chain[i]
		if c.Kind == pos.Spread.LongLeg.Kind && c.Strike == pos.Spread.LongLeg.Strike &&
			c.Expiration.Equal(pos.Spread.Expiration) {
			long = c
		}
		if c.Kind == pos.Spread.ShortLeg.Kind && c.Strike == pos.Spread.ShortLeg.Strike &&
			c.Expiration.Equal(pos.Spread.Expiration) {
			short = c
		}
	}
	if long == nil || short == nil {
		if pos.CurrentPrice > 0 {
			return pos.CurrentPrice, nil
		}
		return 0, errors.New("legs not found in chain")
	}
	return long.MidPrice() - short.MidPrice(), nil
}

func (t *Trader) closePosition(ctx context.Context, pos risk.Position, price float64) error {
	req := broker.OrderRequest{
		OrderID:   "close-" + pos.Symbol + "-" + time.Now().Format("150405.000"),
		Spread:    pos.Spread,
		Contracts: pos.Contracts,
		Closing:   true,
	}
	if _, err := t.broker.PlaceOrder(ctx, req); err != nil {
		return err
	}
	t.riskMgr.ClosePosition(pos.Symbol)
	return nil
}

func (t *Trader) reject(sig options.TradeSignal, reason string) {
	t.mu.Lock()
	t.rejected++
	t.mu.Unlock()
	observ.Log("signal_rejected", map[string]any{
		"symbol": sig.Symbol, "direction": string(sig.Direction), "reason": reason,
	})
	observ.IncCounter("signals_rejected_total", nil)
	if t.bus != nil {
		t.bus.Publish(events.TradeRejected, sig.Symbol)
	}
}

func (t *Trader) handleBrokerError(ctx context.Context, kind recovery.ErrorKind, err error) {
	t.handler.Handle(ctx, recovery.BrokerAPI, kind, err.Error(), recovery.Hooks{
		Reconnect: func(ctx context.Context) error {
			_ = t.broker.Disconnect()
			return t.broker.Connect(ctx)
		},
		Refresh: func(ctx context.Context) error {
			return t.riskMgr.RefreshFromBroker(ctx)
		},
	})
}

// Status is a point-in-time summary for logs and status surfaces.
type Status struct {
	TradingEnabled  bool
	ActivePositions int
	DailyTrades     int
	QueuedTrades    int
	Processed       int
	Rejected        int
	Errors          map[string]int
}

func (t *Trader) Status() Status {
	t.mu.Lock()
	processed, rejected := t.processed, t.rejected
	t.mu.Unlock()
	s := Status{
		ActivePositions: len(t.riskMgr.Positions()),
		DailyTrades:     t.riskMgr.DailyTradeCount(),
		QueuedTrades:    t.exec.QueueDepth(),
		Processed:       processed,
		Rejected:        rejected,
		Errors:          t.handler.Summary(),
	}
	if t.sched != nil {
		s.TradingEnabled = t.sched.TradingEnabled()
	}
	return s
}

// chainContextProvider derives the underlying context from the chain
// itself: IV rank from the chain's IV spread, expected move from
// near-dated ATM vol. It keeps the sim pipeline self-contained.
type chainContextProvider struct{}

func (chainContextProvider) UnderlyingContext(_ context.Context, _ string, chain []options.Contract, last float64) (options.UnderlyingContext, error) {
	und := options.UnderlyingContext{Price: last}
	if len(chain) == 0 {
		return und, nil
	}

	var callIVs, putIVs, ivs []float64
	for _, c := range chain {
		if c.ImpliedVolatility <= 0 {
			continue
		}
		ivs = append(ivs, c.ImpliedVolatility)
		if c.Kind == options.Call {
			callIVs = append(callIVs, c.ImpliedVolatility)
		} else {
			putIVs = append(putIVs, c.ImpliedVolatility)
		}
	}
	if len(ivs) == 0 {
		return und, nil
	}

	atmIV := nearestATMIV(chain, last)
	if rank, err := marketstats.IVRank(atmIV, ivs); err == nil {
		und.IVRank = rank
	}
	if skew, err := marketstats.CallPutSkew(callIVs, putIVs); err == nil {
		und.CallPutSkew = skew
	}
	dte := chain[0].DTEFrom(time.Now())
	und.ExpectedMove = marketstats.ExpectedMove(last, atmIV, dte)
	// one-day expected move stands in for ATR when no bar history exists
	und.ATR = marketstats.ExpectedMove(last, atmIV, 1)
	return und, nil
}

func nearestATMIV(chain []options.Contract, price float64) float64 {
	best := chain[0]
	for _, c := range chain[1:] {
		if abs(c.Strike-price) < abs(best.Strike-price) {
			best = c
		}
	}
	return best.ImpliedVolatility
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
