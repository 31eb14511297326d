package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/options-trader/internal/alerts"
	"github.com/Rajchodisetti/options-trader/internal/broker"
	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/events"
	"github.com/Rajchodisetti/options-trader/internal/executor"
	"github.com/Rajchodisetti/options-trader/internal/exits"
	"github.com/Rajchodisetti/options-trader/internal/options"
	"github.com/Rajchodisetti/options-trader/internal/recovery"
	"github.com/Rajchodisetti/options-trader/internal/risk"
	"github.com/Rajchodisetti/options-trader/internal/schedule"
)

// scriptedBroker serves a fixed chain and fills every order, recording
// placed orders for assertions.
type scriptedBroker struct {
	chain  []options.Contract
	orders []broker.OrderRequest
}

func (s *scriptedBroker) Connect(context.Context) error { return nil }
func (s *scriptedBroker) Disconnect() error             { return nil }
func (s *scriptedBroker) Pump(context.Context) error    { return nil }

func (s *scriptedBroker) GetMarketData(_ context.Context, symbol string) (broker.MarketData, error) {
	return broker.MarketData{Symbol: symbol, Bid: 99.95, Ask: 100.05, Last: 100, Timestamp: time.Now()}, nil
}

func (s *scriptedBroker) GetOptionChain(context.Context, string) ([]options.Contract, error) {
	return s.chain, nil
}

func (s *scriptedBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) (broker.OrderStatus, error) {
	s.orders = append(s.orders, req)
	return broker.OrderStatus{OrderID: req.OrderID, State: broker.OrderFilled, FillPrice: req.LimitPrice}, nil
}

func (s *scriptedBroker) CancelOrder(context.Context, string) error { return nil }
func (s *scriptedBroker) GetOrderStatus(context.Context, string) (broker.OrderStatus, error) {
	return broker.OrderStatus{}, nil
}

func (s *scriptedBroker) GetPositions(context.Context) ([]broker.PositionInfo, error) {
	// report everything we filled as still open so reconciliation keeps it
	var out []broker.PositionInfo
	for _, o := range s.orders {
		if !o.Closing {
			out = append(out, broker.PositionInfo{
				Symbol: o.Spread.Symbol, Contracts: o.Contracts, EntryPrice: o.LimitPrice,
			})
		}
	}
	return out, nil
}

func (s *scriptedBroker) GetAccountSummary(context.Context) (broker.AccountSummary, error) {
	return broker.AccountSummary{NetLiquidation: 100_000, BuyingPower: 100_000}, nil
}

// fixedContext always returns a filter-friendly underlying context.
type fixedContext struct{}

func (fixedContext) UnderlyingContext(context.Context, string, []options.Contract, float64) (options.UnderlyingContext, error) {
	return options.UnderlyingContext{
		Price: 100, IVRank: 0.45, CallPutSkew: 0.10, ExpectedMove: 8.0, ATR: 2.5,
	}, nil
}

// passingChain mirrors the selector fixtures: one bull call vertical
// (97.5/100) survives the default filter.
func passingChain(now time.Time) []options.Contract {
	exp := now.AddDate(0, 0, 35)
	mk := func(k options.Kind, strike, bid, ask, delta float64) options.Contract {
		return options.Contract{
			Underlying: "AAPL", Kind: k, Strike: strike, Expiration: exp,
			Bid: bid, Ask: ask, OpenInterest: 2000, Volume: 300,
			Delta: delta, Gamma: 0.02, Theta: -0.03, Vega: 0.08, ImpliedVolatility: 0.25,
		}
	}
	return []options.Contract{
		mk(options.Call, 95.0, 5.50, 5.52, 0.80),
		mk(options.Call, 97.5, 4.00, 4.02, 0.65),
		mk(options.Call, 100.0, 3.05, 3.06, 0.30),
		mk(options.Call, 102.5, 1.50, 1.51, 0.22),
		mk(options.Put, 97.5, 1.40, 1.41, -0.30),
		mk(options.Put, 100.0, 2.60, 2.61, -0.45),
	}
}

type harness struct {
	trader *Trader
	broker *scriptedBroker
	risk   *risk.Manager
	exec   *executor.Executor
	now    *time.Time
}

func newTrader(t *testing.T, hour, minute int) *harness {
	return newTraderWith(t, hour, minute, nil)
}

func newTraderWith(t *testing.T, hour, minute int, mutate func(*config.Root)) *harness {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(2025, 6, 2, hour, minute, 0, 0, loc)
	clockFn := func() time.Time { return now }

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	clock, err := schedule.NewClock(cfg.Schedule, clockFn)
	require.NoError(t, err)

	b := &scriptedBroker{chain: passingChain(now)}
	riskMgr := risk.NewManager(cfg.Risk, b, alerts.Noop{}, clockFn)
	exec := executor.New(cfg.Execution, b, alerts.Noop{}, events.New(), clock)
	handler := recovery.NewHandler(cfg.Errors, alerts.Noop{}, clockFn)
	sched := schedule.NewScheduler(clock, cfg.Schedule)

	tr := New(cfg, Deps{
		Broker:   b,
		Selector: options.NewSelector(cfg.Options, clockFn),
		Risk:     riskMgr,
		Executor: exec,
		Exits:    exits.NewManager(cfg.Exits),
		Handler:  handler,
		Bus:      events.New(),
		Sched:    sched,
		Clock:    clock,
		Contexts: fixedContext{},
	})
	return &harness{trader: tr, broker: b, risk: riskMgr, exec: exec, now: &now}
}

func (h *harness) setTime(hour, minute int) {
	*h.now = time.Date(2025, 6, 2, hour, minute, 0, 0, h.now.Location())
}

func TestSignalExecutesAndRecords(t *testing.T) {
	h := newTrader(t, 15, 30) // inside the execution window
	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long, Timestamp: *h.now}

	h.trader.ProcessSignal(context.Background(), sig)

	require.Len(t, h.broker.orders, 1)
	order := h.broker.orders[0]
	assert.Equal(t, "AAPL", order.Spread.Symbol)
	assert.Equal(t, options.BullCall, order.Spread.Type)
	// $2k risk budget / $97 per contract, clamped to the 10-contract cap
	assert.Equal(t, 10, order.Contracts)

	positions := h.risk.Positions()
	require.Contains(t, positions, "AAPL")
	assert.Equal(t, 1, h.risk.DailyTradeCount())

	st := h.trader.Status()
	assert.Equal(t, 1, st.Processed)
	assert.Equal(t, 1, st.ActivePositions)
}

func TestSignalRejectedWhenNoCandidates(t *testing.T) {
	h := newTrader(t, 15, 30)
	for i := range h.broker.chain {
		h.broker.chain[i].OpenInterest = 100
	}
	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long, Timestamp: *h.now}

	h.trader.ProcessSignal(context.Background(), sig)

	assert.Empty(t, h.broker.orders)
	assert.Empty(t, h.risk.Positions())
	assert.Equal(t, 1, h.trader.Status().Rejected)
}

func TestSignalQueuedBeforeCutoffThenDrained(t *testing.T) {
	h := newTrader(t, 13, 0)
	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long, Timestamp: *h.now}

	h.trader.ProcessSignal(context.Background(), sig)
	assert.Empty(t, h.risk.Positions())
	assert.Equal(t, 1, h.exec.QueueDepth())

	h.setTime(15, 1)
	h.trader.Tick(context.Background())

	assert.Zero(t, h.exec.QueueDepth())
	require.Len(t, h.broker.orders, 1)
	// the queued fill is recorded with the risk manager
	assert.Contains(t, h.risk.Positions(), "AAPL")
}

func TestSignalRejectedWhileBreakerOpen(t *testing.T) {
	h := newTrader(t, 15, 30)

	// trip the broker breaker
	handler := h.trader.handler
	for i := 0; i < 5; i++ {
		handler.Handle(context.Background(), recovery.BrokerAPI, recovery.ConnectionError, "down", recovery.Hooks{})
	}
	require.False(t, handler.CanUse(recovery.BrokerAPI))

	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long, Timestamp: *h.now}
	h.trader.ProcessSignal(context.Background(), sig)

	assert.Empty(t, h.broker.orders)
	assert.Equal(t, 1, h.trader.Status().Rejected)
}

func TestSignalRejectedWhenScheduleDisabled(t *testing.T) {
	h := newTrader(t, 18, 0) // after the close
	h.trader.sched.Poll()
	require.False(t, h.trader.sched.TradingEnabled())

	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long, Timestamp: *h.now}
	h.trader.ProcessSignal(context.Background(), sig)

	assert.Empty(t, h.broker.orders)
	assert.Equal(t, 1, h.trader.Status().Rejected)
}

func TestDuplicateSignalRejectedBySecondAdmission(t *testing.T) {
	h := newTrader(t, 15, 30)
	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long, Timestamp: *h.now}

	h.trader.ProcessSignal(context.Background(), sig)
	require.Len(t, h.broker.orders, 1)

	h.trader.ProcessSignal(context.Background(), sig)
	assert.Len(t, h.broker.orders, 1, "same-direction duplicate must not trade again")
	assert.Equal(t, 1, h.trader.Status().Rejected)
}

func TestMonitorExitsClosesPosition(t *testing.T) {
	h := newTrader(t, 15, 30)
	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long, Timestamp: *h.now}
	h.trader.ProcessSignal(context.Background(), sig)
	require.Contains(t, h.risk.Positions(), "AAPL")

	// crash the marks: the long leg collapses, breaching the stop
	for i := range h.broker.chain {
		if h.broker.chain[i].Kind == options.Call && h.broker.chain[i].Strike == 97.5 {
			h.broker.chain[i].Bid, h.broker.chain[i].Ask = 3.10, 3.12
		}
	}

	h.trader.MonitorExits(context.Background())

	assert.NotContains(t, h.risk.Positions(), "AAPL")
	require.Len(t, h.broker.orders, 2)
	assert.True(t, h.broker.orders[1].Closing)
}

func TestMonitorExitsUsesATRTarget(t *testing.T) {
	// lift the long leg so the spread marks at 4.85 - 3.055 = 1.795:
	// above the ATR-substituted target (0.97 + 2.5*0.2 = 1.47) but below
	// the plain target (0.97 + 1.455 = 2.425)
	raiseMarks := func(h *harness) {
		for i := range h.broker.chain {
			c := &h.broker.chain[i]
			if c.Kind == options.Call && c.Strike == 97.5 {
				c.Bid, c.Ask = 4.84, 4.86
			}
		}
	}
	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long}

	h := newTraderWith(t, 15, 30, func(c *config.Root) {
		c.Exits.UseATRTarget = true
		c.Exits.ATRTargetMultiple = 0.2
	})
	h.trader.ProcessSignal(context.Background(), sig)
	require.Contains(t, h.risk.Positions(), "AAPL")

	raiseMarks(h)
	h.trader.MonitorExits(context.Background())
	assert.NotContains(t, h.risk.Positions(), "AAPL",
		"ATR target substitutes for the plain profit target")

	// the same mark holds the position when the ATR target is disabled
	plain := newTrader(t, 15, 30)
	plain.trader.ProcessSignal(context.Background(), sig)
	require.Contains(t, plain.risk.Positions(), "AAPL")

	raiseMarks(plain)
	plain.trader.MonitorExits(context.Background())
	assert.Contains(t, plain.risk.Positions(), "AAPL")
}

func TestSubmitAndRunDrainsSignals(t *testing.T) {
	h := newTrader(t, 15, 30)
	sig := options.TradeSignal{Symbol: "AAPL", Direction: options.Long, Timestamp: *h.now}
	require.True(t, h.trader.Submit(sig))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.trader.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(h.risk.Positions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
