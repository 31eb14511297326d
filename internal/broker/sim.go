package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/options-trader/internal/observ"
	"github.com/Rajchodisetti/options-trader/internal/options"
)

// Sim is an in-process brokerage with a random-walk underlying and a
// synthetic option chain. Orders fill immediately at their limit, or at
// the chain midpoint for market orders.
type Sim struct {
	mu        sync.Mutex
	random    *rand.Rand
	connected bool
	account   AccountSummary
	bases     map[string]*simUnderlying
	orders    map[string]OrderStatus
	positions map[string]PositionInfo
}

type simUnderlying struct {
	basePrice  float64
	volatility float64 // daily, as a fraction
	volume     int64
	iv         float64
}

// NewSim creates a sim broker with a fixed universe and a $100k account.
func NewSim() *Sim {
	return &Sim{
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
		account: AccountSummary{
			NetLiquidation: 100_000,
			BuyingPower:    100_000,
		},
		bases: map[string]*simUnderlying{
			"AAPL":  {basePrice: 206.80, volatility: 0.025, volume: 15_000_000, iv: 0.26},
			"MSFT":  {basePrice: 415.75, volatility: 0.022, volume: 12_000_000, iv: 0.23},
			"NVDA":  {basePrice: 450.00, volatility: 0.035, volume: 10_000_000, iv: 0.42},
			"GOOGL": {basePrice: 172.50, volatility: 0.028, volume: 8_000_000, iv: 0.27},
			"SPY":   {basePrice: 545.20, volatility: 0.012, volume: 60_000_000, iv: 0.15},
		},
		orders:    make(map[string]OrderStatus),
		positions: make(map[string]PositionInfo),
	}
}

func (s *Sim) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	observ.Log("sim_broker_connected", map[string]any{"symbols": len(s.bases)})
	return nil
}

func (s *Sim) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Pump is a no-op; the sim has no inbound stream.
func (s *Sim) Pump(_ context.Context) error { return nil }

func (s *Sim) GetMarketData(ctx context.Context, symbol string) (MarketData, error) {
	if err := ctx.Err(); err != nil {
		return MarketData{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return MarketData{}, &ConnectionError{Op: "market data", Err: fmt.Errorf("not connected")}
	}
	symbol = normalizeSymbol(symbol)
	base, ok := s.bases[symbol]
	if !ok {
		return MarketData{}, fmt.Errorf("sim: unknown symbol %q", symbol)
	}

	price := base.basePrice * (1 + s.walk(base.volatility))
	spread := price * (0.0001 + s.random.Float64()*0.0004)
	return MarketData{
		Symbol:    symbol,
		Bid:       round2(price - spread/2),
		Ask:       round2(price + spread/2),
		Last:      round2(price),
		Volume:    int64(float64(base.volume) * (0.7 + s.random.Float64()*0.6)),
		Timestamp: time.Now(),
	}, nil
}

// GetOptionChain synthesizes calls and puts on a 2.5-point strike grid
// around spot for two monthly expirations, priced with a crude intrinsic
// plus time-value model so verticals come out internally consistent.
func (s *Sim) GetOptionChain(ctx context.Context, symbol string) ([]options.Contract, error) {
	md, err := s.GetMarketData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.bases[normalizeSymbol(symbol)]

	var chain []options.Contract
	now := time.Now()
	for _, dte := range []int{35, 63} {
		exp := now.AddDate(0, 0, dte)
		atm := math.Round(md.Last/2.5) * 2.5
		for i := -6; i <= 6; i++ {
			strike := atm + float64(i)*2.5
			if strike <= 0 {
				continue
			}
			chain = append(chain,
				s.synthContract(symbol, options.Call, strike, exp, md.Last, base.iv, dte),
				s.synthContract(symbol, options.Put, strike, exp, md.Last, base.iv, dte),
			)
		}
	}
	return chain, nil
}

func (s *Sim) synthContract(symbol string, kind options.Kind, strike float64, exp time.Time, spot, iv float64, dte int) options.Contract {
	var intrinsic, delta float64
	moneyness := (spot - strike) / spot
	if kind == options.Call {
		intrinsic = math.Max(0, spot-strike)
		delta = clamp(0.5+moneyness*5, 0.02, 0.98)
	} else {
		intrinsic = math.Max(0, strike-spot)
		delta = -clamp(0.5-moneyness*5, 0.02, 0.98)
	}
	timeValue := spot * iv * math.Sqrt(float64(dte)/365) * math.Exp(-math.Abs(moneyness)*4) * 0.8
	mid := intrinsic + timeValue
	if mid < 0.05 {
		mid = 0.05
	}
	half := math.Max(0.005, mid*0.002)

	return options.Contract{
		Symbol:            fmt.Sprintf("%s%s%s%.1f", symbol, exp.Format("060102"), string(kind[0]), strike),
		Underlying:        symbol,
		Kind:              kind,
		Strike:            strike,
		Expiration:        exp,
		Bid:               round2(mid - half),
		Ask:               round2(mid + half),
		Last:              round2(mid),
		Volume:            int64(500 + s.random.Intn(2000)),
		OpenInterest:      int64(1200 + s.random.Intn(4000)),
		ImpliedVolatility: iv * (1 + math.Abs(moneyness)*0.3),
		Delta:             delta,
		Gamma:             0.02 * math.Exp(-math.Abs(moneyness)*6),
		Theta:             -timeValue / float64(dte),
		Vega:              0.10 * math.Exp(-math.Abs(moneyness)*4),
	}
}

func (s *Sim) PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return OrderStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return OrderStatus{}, &ConnectionError{Op: "place order", Err: fmt.Errorf("not connected")}
	}
	if req.Contracts <= 0 {
		return OrderStatus{}, fmt.Errorf("sim: order %s has %d contracts", req.OrderID, req.Contracts)
	}

	fill := req.LimitPrice
	if fill == 0 {
		fill = (req.Spread.LongLeg.MidPrice() - req.Spread.ShortLeg.MidPrice())
	}
	st := OrderStatus{
		OrderID:   req.OrderID,
		State:     OrderFilled,
		FillPrice: round2(fill),
		UpdatedAt: time.Now(),
	}
	s.orders[req.OrderID] = st

	if req.Closing {
		delete(s.positions, req.Spread.Symbol)
	} else {
		id := uuid.NewString()
		s.positions[req.Spread.Symbol] = PositionInfo{
			ID:           id,
			Symbol:       req.Spread.Symbol,
			SpreadType:   req.Spread.Type,
			Contracts:    req.Contracts,
			EntryPrice:   st.FillPrice,
			CurrentPrice: st.FillPrice,
			Expiration:   req.Spread.Expiration,
		}
	}
	observ.IncCounter("sim_orders_total", map[string]string{"state": st.State})
	return st, nil
}

func (s *Sim) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %q", orderID)
	}
	if st.State == OrderFilled {
		return fmt.Errorf("sim: order %q already filled", orderID)
	}
	st.State = OrderCancelled
	st.UpdatedAt = time.Now()
	s.orders[orderID] = st
	return nil
}

func (s *Sim) GetOrderStatus(_ context.Context, orderID string) (OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orders[orderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("sim: unknown order %q", orderID)
	}
	return st, nil
}

func (s *Sim) GetPositions(_ context.Context) ([]PositionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PositionInfo, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *Sim) GetAccountSummary(_ context.Context) (AccountSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, nil
}

// SetAccount overrides the simulated account, for tests.
func (s *Sim) SetAccount(a AccountSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = a
}

func (s *Sim) walk(vol float64) float64 {
	return s.random.NormFloat64() * vol / math.Sqrt(390) // per-minute step
}

func normalizeSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
