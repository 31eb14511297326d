package options

import (
	"time"

	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/observ"
)

// Filter evaluates spread candidates against the configured thresholds.
// Filtering is a conjunction of independent predicates: a candidate must
// pass every one to survive. The filter holds no state beyond config.
type Filter struct {
	cfg config.Options
	now func() time.Time
}

// NewFilter creates a filter. A nil now func defaults to time.Now.
func NewFilter(cfg config.Options, now func() time.Time) *Filter {
	if now == nil {
		now = time.Now
	}
	return &Filter{cfg: cfg, now: now}
}

// FilterSpreads returns the candidates that pass every predicate, in their
// original order.
func (f *Filter) FilterSpreads(candidates []Spread, und UnderlyingContext) []Spread {
	var kept []Spread
	for _, sp := range candidates {
		if ok, reason := f.Passes(sp, und); ok {
			kept = append(kept, sp)
		} else {
			observ.IncCounter("spread_filter_rejects_total", map[string]string{"reason": reason})
		}
	}
	return kept
}

// Passes runs all predicates and reports the first failing one by name.
func (f *Filter) Passes(sp Spread, und UnderlyingContext) (bool, string) {
	checks := []struct {
		name string
		fn   func(Spread, UnderlyingContext) bool
	}{
		{"dte", f.checkDTE},
		{"delta", f.checkDelta},
		{"cost", f.checkCost},
		{"liquidity", f.checkLiquidity},
		{"iv_regime", f.checkIVRegime},
		{"greeks", f.checkGreeks},
		{"probability", f.checkProbability},
		{"calendar", f.checkCalendar},
	}
	for _, c := range checks {
		if !c.fn(sp, und) {
			return false, c.name
		}
	}
	return true, ""
}

// checkDTE verifies days-to-expiration sits in the configured window. With
// dte_from_atr enabled, the window stretches to [max(min_dte, ATR·k),
// max(max_dte, ATR·k·1.5)].
func (f *Filter) checkDTE(sp Spread, und UnderlyingContext) bool {
	dte := sp.DTEFrom(f.now())
	minDTE, maxDTE := f.cfg.MinDTE, f.cfg.MaxDTE
	if f.cfg.DTEFromATR {
		scaled := int(und.ATR * f.cfg.ATRCoefficient)
		if scaled > minDTE {
			minDTE = scaled
		}
		if scaledMax := int(und.ATR * f.cfg.ATRCoefficient * 1.5); scaledMax > maxDTE {
			maxDTE = scaledMax
		}
	}
	return dte >= minDTE && dte <= maxDTE
}

func (f *Filter) checkDelta(sp Spread, _ UnderlyingContext) bool {
	d := abs(sp.NetDelta)
	return d >= f.cfg.MinDelta && d <= f.cfg.MaxDelta
}

func (f *Filter) checkCost(sp Spread, _ UnderlyingContext) bool {
	if sp.Cost <= 0 {
		return false
	}
	if sp.Cost*100 > f.cfg.MaxSpreadCost {
		return false
	}
	return sp.RewardRisk >= f.cfg.MinRewardRisk
}

func (f *Filter) checkLiquidity(sp Spread, _ UnderlyingContext) bool {
	oi := sp.LongLeg.OpenInterest
	if sp.ShortLeg.OpenInterest < oi {
		oi = sp.ShortLeg.OpenInterest
	}
	if oi < int64(f.cfg.MinOpenInterest) {
		return false
	}
	longPct := sp.LongLeg.BidAskSpreadPct()
	shortPct := sp.ShortLeg.BidAskSpreadPct()
	if longPct < 0 || shortPct < 0 { // a zero ask on either leg
		return false
	}
	worst := longPct
	if shortPct > worst {
		worst = shortPct
	}
	return worst <= f.cfg.MaxBidAskSpreadPct
}

func (f *Filter) checkIVRegime(_ Spread, und UnderlyingContext) bool {
	rank := und.IVRank * 100
	if rank < f.cfg.MinIVRank || rank > f.cfg.MaxIVRank {
		return false
	}
	return und.CallPutSkew*100 >= f.cfg.MinCallPutSkewPct
}

func (f *Filter) checkGreeks(sp Spread, _ UnderlyingContext) bool {
	if abs(sp.NetTheta)*100 > f.cfg.MaxThetaPerDay {
		return false
	}
	if abs(sp.NetVega) > f.cfg.MaxVegaExposure {
		return false
	}
	return abs(sp.NetGamma) <= f.cfg.MaxGammaExposure
}

func (f *Filter) checkProbability(sp Spread, und UnderlyingContext) bool {
	if sp.ProbOfProfit*100 < f.cfg.MinProbOfProfit {
		return false
	}
	if und.ExpectedMove == 0 {
		return true
	}
	return sp.Width()/und.ExpectedMove*100 <= f.cfg.MaxWidthVsMovePct
}

// checkCalendar rejects spreads entered within the configured number of
// days before earnings or an ex-dividend date, day 0 inclusive.
func (f *Filter) checkCalendar(_ Spread, und UnderlyingContext) bool {
	now := f.now()
	if !und.EarningsDate.IsZero() {
		d := daysBetween(now, und.EarningsDate)
		if d >= 0 && d <= f.cfg.DaysBeforeEarnings {
			return false
		}
	}
	if !und.ExDividendDate.IsZero() {
		d := daysBetween(now, und.ExDividendDate)
		if d >= 0 && d <= f.cfg.DaysBeforeExDiv {
			return false
		}
	}
	return true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
