// Package risk owns portfolio admission, position sizing and exposure
// accounting. All state lives behind one mutex; broker round-trips happen
// before the lock is taken, never under it.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Rajchodisetti/options-trader/internal/alerts"
	"github.com/Rajchodisetti/options-trader/internal/broker"
	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/observ"
	"github.com/Rajchodisetti/options-trader/internal/options"
)

// defaultAccountValue stands in when the broker is unreachable.
const defaultAccountValue = 100_000

// exposureGateFloor keeps the concentration gates (sector, industry,
// directional bias) quiet until gross exposure reaches this fraction of
// account value; on a near-empty book any single trade dominates the
// ratios and would be rejected spuriously.
const exposureGateFloor = 0.05

// Position is one open spread held by the account.
type Position struct {
	Symbol       string
	Direction    options.Direction
	Contracts    int
	Spread       options.Spread
	EntryPrice   float64 // per share
	StopPrice    float64
	TargetPrice  float64
	HighestPrice float64
	LowestPrice  float64
	CurrentPrice float64
	EntryDate    time.Time
}

// Notional is the position's dollar size: entry price times contracts
// times the option multiplier.
func (p Position) Notional() float64 {
	return p.EntryPrice * float64(p.Contracts) * 100
}

// TradeRecord is one entry in the daily trade journal.
type TradeRecord struct {
	Symbol     string
	Direction  options.Direction
	Contracts  int
	SpreadType options.SpreadType
	Cost       float64
	Timestamp  time.Time
}

// Manager gates new trades and tracks positions, exposure and daily
// counts.
type Manager struct {
	cfg      config.Risk
	broker   broker.Broker
	notifier alerts.Notifier
	now      func() time.Time

	mu               sync.Mutex
	positions        map[string]Position
	dailyTrades      map[string][]TradeRecord
	sectorExposure   map[string]float64
	industryExposure map[string]float64
}

// NewManager creates a risk manager. notifier may be alerts.Noop{}; a nil
// now func defaults to time.Now.
func NewManager(cfg config.Risk, b broker.Broker, n alerts.Notifier, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	if n == nil {
		n = alerts.Noop{}
	}
	return &Manager{
		cfg:              cfg,
		broker:           b,
		notifier:         n,
		now:              now,
		positions:        make(map[string]Position),
		dailyTrades:      make(map[string][]TradeRecord),
		sectorExposure:   make(map[string]float64),
		industryExposure: make(map[string]float64),
	}
}

// AccountValue returns net liquidation from the broker, falling back to a
// default when the broker is unavailable.
func (m *Manager) AccountValue(ctx context.Context) float64 {
	if m.broker == nil {
		return defaultAccountValue
	}
	summary, err := m.broker.GetAccountSummary(ctx)
	if err != nil || summary.NetLiquidation <= 0 {
		return defaultAccountValue
	}
	return summary.NetLiquidation
}

// ContractSize sizes a position: account value times risk-per-trade
// divided by the spread's per-contract cost, floored, clamped to the
// per-trade cap. A budget too small for even one contract sizes to
// zero; the caller treats that as a rejection, never as a one-lot.
func (m *Manager) ContractSize(accountValue, spreadCost float64) int {
	if accountValue <= 0 || spreadCost <= 0 {
		return 0
	}
	riskBudget := accountValue * m.cfg.RiskPerTrade
	contracts := int(math.Floor(riskBudget / spreadCost))
	if contracts > m.cfg.MaxContractsPerTrade {
		contracts = m.cfg.MaxContractsPerTrade
	}
	return contracts
}

// CanEnterTrade checks every admission gate in a fixed order and reports
// the first failure. proposedCost is the full dollar cost of the trade
// being sized (per-contract cost times contracts), the same figure
// RecordTrade will book as notional; zero means the spread is not chosen
// yet and the exposure gates evaluate current state only. Heat, sector,
// industry and bias rejections raise a HIGH severity alert.
func (m *Manager) CanEnterTrade(ctx context.Context, symbol string, direction options.Direction, proposedCost float64) (bool, string) {
	// broker round-trip happens before the state lock
	accountValue := float64(defaultAccountValue)
	available := -1.0
	if m.broker != nil {
		if summary, err := m.broker.GetAccountSummary(ctx); err == nil {
			if summary.NetLiquidation > 0 {
				accountValue = summary.NetLiquidation
			}
			available = summary.BuyingPower
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.now().Format("2006-01-02")
	if len(m.dailyTrades[today]) >= m.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("Maximum daily trades limit (%d) reached", m.cfg.MaxDailyTrades)
	}

	if len(m.positions) >= m.cfg.MaxPositions {
		return false, fmt.Sprintf("Maximum positions limit (%d) reached", m.cfg.MaxPositions)
	}

	if existing, ok := m.positions[symbol]; ok && existing.Direction == direction {
		return false, fmt.Sprintf("Already have a %s position in %s", direction, symbol)
	}

	if ok, reason := m.checkHeatLocked(accountValue, proposedCost); !ok {
		m.notifier.SendRiskAlert("Portfolio heat limit", reason, map[string]string{"symbol": symbol})
		return false, reason
	}

	if m.grossExposureLocked() > accountValue*exposureGateFloor {
		if ok, reason := m.checkSectorLocked(symbol, accountValue, proposedCost); !ok {
			m.notifier.SendRiskAlert("Sector exposure limit", reason, map[string]string{"symbol": symbol})
			return false, reason
		}
		if ok, reason := m.checkIndustryLocked(symbol, accountValue, proposedCost); !ok {
			m.notifier.SendRiskAlert("Industry exposure limit", reason, map[string]string{"symbol": symbol})
			return false, reason
		}
		if ok, reason := m.checkBiasLocked(direction, proposedCost); !ok {
			m.notifier.SendRiskAlert("Directional bias limit", reason, map[string]string{"symbol": symbol, "direction": string(direction)})
			return false, reason
		}
	}

	if available >= 0 && available < m.cfg.MinBuyingPower {
		return false, "Insufficient buying power"
	}

	return true, "Trade allowed"
}

// PortfolioHeat is the fraction of account value notionally at risk,
// expressed in percent and recomputed from open positions on every call.
func (m *Manager) PortfolioHeat(accountValue float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heatLocked(accountValue, 0)
}

func (m *Manager) heatLocked(accountValue, extraCost float64) float64 {
	if accountValue <= 0 {
		return 0
	}
	var atRisk float64
	for _, p := range m.positions {
		atRisk += p.EntryPrice * float64(p.Contracts) * 100 * m.cfg.RiskPerTrade
	}
	atRisk += extraCost * m.cfg.RiskPerTrade
	return atRisk / accountValue * 100
}

func (m *Manager) checkHeatLocked(accountValue, proposedCost float64) (bool, string) {
	heat := m.heatLocked(accountValue, proposedCost)
	if heat > m.cfg.MaxPortfolioHeat {
		return false, fmt.Sprintf("Portfolio heat %.1f%% exceeds limit %.1f%%", heat, m.cfg.MaxPortfolioHeat)
	}
	return true, ""
}

func (m *Manager) checkSectorLocked(symbol string, accountValue, proposedCost float64) (bool, string) {
	sector, ok := m.cfg.SectorMap[symbol]
	if !ok {
		return true, ""
	}
	prospective := m.sectorExposure[sector] + proposedCost
	if prospective > accountValue*m.cfg.MaxSectorExposure {
		return false, fmt.Sprintf("Sector %s exposure $%.0f exceeds limit $%.0f",
			sector, prospective, accountValue*m.cfg.MaxSectorExposure)
	}
	return true, ""
}

func (m *Manager) checkIndustryLocked(symbol string, accountValue, proposedCost float64) (bool, string) {
	industry, ok := m.cfg.IndustryMap[symbol]
	if !ok {
		return true, ""
	}
	prospective := m.industryExposure[industry] + proposedCost
	if prospective > accountValue*m.cfg.MaxIndustryExposure {
		return false, fmt.Sprintf("Industry %s exposure $%.0f exceeds limit $%.0f",
			industry, prospective, accountValue*m.cfg.MaxIndustryExposure)
	}
	return true, ""
}

func (m *Manager) checkBiasLocked(direction options.Direction, proposedCost float64) (bool, string) {
	long, short := m.directionalNotionalLocked()
	if direction == options.Long {
		long += proposedCost
	} else {
		short += proposedCost
	}
	total := long + short
	if total == 0 {
		return true, ""
	}
	side := long
	if direction == options.Short {
		side = short
	}
	if share := side / total; share > m.cfg.MaxDirectionalBias {
		return false, fmt.Sprintf("Directional bias %.0f%% %s exceeds limit %.0f%%",
			share*100, direction, m.cfg.MaxDirectionalBias*100)
	}
	return true, ""
}

// DirectionalBias reports the long share of total notional, 0.5 on an
// empty book.
func (m *Manager) DirectionalBias() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	long, short := m.directionalNotionalLocked()
	if long+short == 0 {
		return 0.5
	}
	return long / (long + short)
}

func (m *Manager) directionalNotionalLocked() (long, short float64) {
	for _, p := range m.positions {
		if p.Direction == options.Long {
			long += p.Notional()
		} else {
			short += p.Notional()
		}
	}
	return long, short
}

func (m *Manager) grossExposureLocked() float64 {
	long, short := m.directionalNotionalLocked()
	return long + short
}

// RecordTrade journals an executed trade: appends to today's trades,
// inserts the position with computed stop and target, and adds its
// notional to sector and industry exposure. The three updates happen
// under one lock acquisition.
func (m *Manager) RecordTrade(symbol string, direction options.Direction, contracts int, spread options.Spread) {
	stop := m.stopPrice(spread.Cost, direction)
	target := m.targetPrice(spread, direction)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	today := now.Format("2006-01-02")
	m.dailyTrades[today] = append(m.dailyTrades[today], TradeRecord{
		Symbol:     symbol,
		Direction:  direction,
		Contracts:  contracts,
		SpreadType: spread.Type,
		Cost:       spread.Cost,
		Timestamp:  now,
	})

	pos := Position{
		Symbol:       symbol,
		Direction:    direction,
		Contracts:    contracts,
		Spread:       spread,
		EntryPrice:   spread.Cost,
		StopPrice:    stop,
		TargetPrice:  target,
		HighestPrice: spread.Cost,
		LowestPrice:  spread.Cost,
		CurrentPrice: spread.Cost,
		EntryDate:    now,
	}
	m.positions[symbol] = pos

	notional := pos.Notional()
	if sector, ok := m.cfg.SectorMap[symbol]; ok {
		m.sectorExposure[sector] += notional
	}
	if industry, ok := m.cfg.IndustryMap[symbol]; ok {
		m.industryExposure[industry] += notional
	}

	observ.Log("trade_recorded", map[string]any{
		"symbol": symbol, "direction": string(direction), "contracts": contracts,
		"daily_trades": len(m.dailyTrades[today]), "active_positions": len(m.positions),
	})
	observ.SetGauge("risk_active_positions", nil, float64(len(m.positions)))
}

// ClosePosition removes the position and unwinds its exposure. Exposure
// entries that reach zero or below are deleted rather than left behind.
func (m *Manager) ClosePosition(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	delete(m.positions, symbol)

	notional := pos.Notional()
	if sector, ok := m.cfg.SectorMap[symbol]; ok {
		if m.sectorExposure[sector] -= notional; m.sectorExposure[sector] <= 0 {
			delete(m.sectorExposure, sector)
		}
	}
	if industry, ok := m.cfg.IndustryMap[symbol]; ok {
		if m.industryExposure[industry] -= notional; m.industryExposure[industry] <= 0 {
			delete(m.industryExposure, industry)
		}
	}

	observ.Log("position_closed", map[string]any{
		"symbol": symbol, "direction": string(pos.Direction),
		"contracts": pos.Contracts, "active_positions": len(m.positions),
	})
	observ.SetGauge("risk_active_positions", nil, float64(len(m.positions)))
	return pos, true
}

// UpdatePrice records a mark for the position and lets the trailing
// extrema ratchet: highest never falls, lowest never rises.
func (m *Manager) UpdatePrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}
	if price < pos.LowestPrice {
		pos.LowestPrice = price
	}
	m.positions[symbol] = pos
}

// Positions returns a snapshot of the open book.
func (m *Manager) Positions() map[string]Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Position, len(m.positions))
	for k, v := range m.positions {
		out[k] = v
	}
	return out
}

// DailyTradeCount reports how many trades were recorded today.
func (m *Manager) DailyTradeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dailyTrades[m.now().Format("2006-01-02")])
}

// RefreshFromBroker reconciles the local book against the broker's: a
// tracked position the broker no longer reports is closed out locally;
// an untracked broker position is logged but not adopted, since its cost
// basis and spread legs are unknown here.
func (m *Manager) RefreshFromBroker(ctx context.Context) error {
	if m.broker == nil {
		return nil
	}
	brokerPositions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return err
	}

	held := make(map[string]broker.PositionInfo, len(brokerPositions))
	for _, p := range brokerPositions {
		held[p.Symbol] = p
	}

	var stale []string
	m.mu.Lock()
	for symbol := range m.positions {
		if info, ok := held[symbol]; !ok || info.Contracts == 0 {
			stale = append(stale, symbol)
		}
	}
	m.mu.Unlock()

	for _, symbol := range stale {
		observ.Warn("position_missing_at_broker", map[string]any{"symbol": symbol})
		m.ClosePosition(symbol)
	}
	for symbol := range held {
		m.mu.Lock()
		_, tracked := m.positions[symbol]
		m.mu.Unlock()
		if !tracked {
			observ.Warn("untracked_position_at_broker", map[string]any{"symbol": symbol})
		}
	}
	return nil
}

// stopPrice: a long debit position stops below entry, a short credit
// position above, floored at a nickel in both cases.
func (m *Manager) stopPrice(entry float64, direction options.Direction) float64 {
	var stop float64
	if direction == options.Long {
		stop = entry * (1 - m.cfg.StopLossPercentage)
	} else {
		stop = entry * (1 + m.cfg.StopLossPercentage)
	}
	return math.Max(stop, 0.05)
}

// targetPrice caps the reward-to-risk target at the spread's maximum
// attainable profit.
func (m *Manager) targetPrice(spread options.Spread, direction options.Direction) float64 {
	entry := spread.Cost
	targetProfit := math.Min(spread.MaxProfit, entry*m.cfg.TargetRewardRisk)
	if direction == options.Long {
		return entry + targetProfit
	}
	return math.Max(entry-targetProfit, 0.05)
}
