// Package exits decides when an open position should be closed. Levels
// are recomputed from the position on every evaluation and checked in a
// fixed priority order.
package exits

import (
	"fmt"
	"math"

	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/observ"
	"github.com/Rajchodisetti/options-trader/internal/options"
	"github.com/Rajchodisetti/options-trader/internal/risk"
)

// Levels holds every computed exit level for a position. ATR and
// Fibonacci targets are alternative profit-target computations, not
// independent triggers.
type Levels struct {
	StopLoss        float64
	ProfitTarget    float64
	RMultipleTarget float64
	ATRTarget       float64
	FibTarget       float64
}

// Manager evaluates exit rules for open positions.
type Manager struct {
	cfg config.Exits
}

func NewManager(cfg config.Exits) *Manager {
	return &Manager{cfg: cfg}
}

// CalculateExits computes every level for the position. atr is the
// underlying's average true range, used only when the ATR target is
// enabled; pass 0 to fall back to the plain profit target.
func (m *Manager) CalculateExits(pos risk.Position, atr float64) Levels {
	lv := Levels{
		StopLoss:     pos.StopPrice,
		ProfitTarget: pos.TargetPrice,
	}
	lv.RMultipleTarget = m.rMultipleTarget(pos)
	if m.cfg.UseATRTarget && atr > 0 {
		lv.ATRTarget = m.atrTarget(pos, atr)
	}
	if m.cfg.UseFibonacciTarget {
		lv.FibTarget = m.fibTarget(pos)
	}
	return lv
}

// ShouldExit evaluates the exit rules in priority order and returns on
// the first hit: stop loss, profit target (or its ATR/Fibonacci
// substitute), minimum days to expiry, R-multiple target, trailing stop.
// The caller is responsible for keeping the position's high/low water
// marks current via the risk manager before evaluating.
func (m *Manager) ShouldExit(pos risk.Position, currentPrice float64, daysToExpiry int, atr float64) (bool, string) {
	long := pos.Direction == options.Long
	lv := m.CalculateExits(pos, atr)

	if breached(long, currentPrice, lv.StopLoss, false) {
		return true, "Stop loss triggered"
	}

	target := lv.ProfitTarget
	if m.cfg.UseATRTarget && lv.ATRTarget > 0 {
		target = lv.ATRTarget
	} else if m.cfg.UseFibonacciTarget && lv.FibTarget > 0 {
		target = lv.FibTarget
	}
	if breached(long, currentPrice, target, true) {
		return true, "Profit target reached"
	}

	if daysToExpiry <= m.cfg.MinDaysToExpiry {
		return true, fmt.Sprintf("Position close to expiry (%d days)", daysToExpiry)
	}

	if m.cfg.UseRMultipleExit && breached(long, currentPrice, lv.RMultipleTarget, true) {
		return true, fmt.Sprintf("R-multiple target reached (%.1fR)", m.cfg.RMultipleTarget)
	}

	if m.cfg.UseTrailingStop {
		if hit, reason := m.checkTrailing(pos, currentPrice); hit {
			return true, reason
		}
	}

	return false, "No exit criteria met"
}

// TrailingStopLevel is the current trailing stop for the position given
// its ratcheted extrema and the latest price.
func (m *Manager) TrailingStopLevel(pos risk.Position, currentPrice float64) float64 {
	if pos.Direction == options.Long {
		high := math.Max(pos.HighestPrice, currentPrice)
		return high * (1 - m.cfg.TrailingStopPercentage)
	}
	low := math.Min(pos.LowestPrice, currentPrice)
	return low * (1 + m.cfg.TrailingStopPercentage)
}

func (m *Manager) checkTrailing(pos risk.Position, currentPrice float64) (bool, string) {
	level := m.TrailingStopLevel(pos, currentPrice)
	if pos.Direction == options.Long {
		high := math.Max(pos.HighestPrice, currentPrice)
		if currentPrice <= level {
			return true, fmt.Sprintf("Trailing stop triggered (%.0f%% from high of %.2f)",
				m.cfg.TrailingStopPercentage*100, high)
		}
	} else {
		low := math.Min(pos.LowestPrice, currentPrice)
		if currentPrice >= level {
			return true, fmt.Sprintf("Trailing stop triggered (%.0f%% from low of %.2f)",
				m.cfg.TrailingStopPercentage*100, low)
		}
	}
	return false, ""
}

// rMultipleTarget projects the entry-to-stop distance forward by the
// configured multiple.
func (m *Manager) rMultipleTarget(pos risk.Position) float64 {
	r := math.Abs(pos.EntryPrice - pos.StopPrice)
	if pos.Direction == options.Long {
		return pos.EntryPrice + r*m.cfg.RMultipleTarget
	}
	return math.Max(pos.EntryPrice-r*m.cfg.RMultipleTarget, 0.05)
}

func (m *Manager) atrTarget(pos risk.Position, atr float64) float64 {
	move := atr * m.cfg.ATRTargetMultiple
	if pos.Direction == options.Long {
		return pos.EntryPrice + move
	}
	return math.Max(pos.EntryPrice-move, 0.05)
}

// fibTarget extends the spread's remaining profit range by the configured
// Fibonacci level.
func (m *Manager) fibTarget(pos risk.Position) float64 {
	var priceRange float64
	if pos.Direction == options.Long {
		priceRange = pos.Spread.Width() - pos.EntryPrice
	} else {
		priceRange = pos.EntryPrice
	}
	move := priceRange * m.cfg.FibonacciTargetLevel
	if pos.Direction == options.Long {
		return pos.EntryPrice + move
	}
	return math.Max(pos.EntryPrice-move, 0.05)
}

// breached reports whether price has crossed the level in the exit
// direction. above means the level sits on the favorable side for longs.
func breached(long bool, price, level float64, above bool) bool {
	if level <= 0 {
		return false
	}
	hit := false
	if long == above {
		hit = price >= level
	} else {
		hit = price <= level
	}
	if hit {
		observ.IncCounter("exit_level_breaches_total", nil)
	}
	return hit
}
