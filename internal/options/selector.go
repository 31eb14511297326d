package options

import (
	"sort"
	"time"

	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/observ"
)

// Selector builds vertical spread candidates from an option chain. It
// anchors on the at-the-money strike, steps out by the configured offset
// in the direction of the trade, and pairs strikes at the configured
// width. Candidates are filtered and ranked by reward/risk.
type Selector struct {
	cfg    config.Options
	filter *Filter
	now    func() time.Time
}

// NewSelector creates a selector sharing the filter's clock.
func NewSelector(cfg config.Options, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{cfg: cfg, filter: NewFilter(cfg, now), now: now}
}

// maxCandidatesPerType caps how many strike anchors we try per spread type.
const maxCandidatesPerType = 5

// SelectSpreads builds, filters and ranks candidates for the signal's
// direction across every expiration in the chain. The result is sorted by
// reward/risk, best first.
func (s *Selector) SelectSpreads(signal TradeSignal, chain []Contract, und UnderlyingContext) []Spread {
	var candidates []Spread
	for _, exp := range expirations(chain) {
		candidates = append(candidates, s.buildForExpiration(signal, chainFor(chain, exp), und)...)
	}
	kept := s.filter.FilterSpreads(candidates, und)
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].RewardRisk > kept[j].RewardRisk
	})
	observ.Log("spreads_selected", map[string]any{
		"symbol":     signal.Symbol,
		"direction":  string(signal.Direction),
		"candidates": len(candidates),
		"kept":       len(kept),
	})
	return kept
}

// BestSpread returns the highest-ranked surviving spread, or false when
// nothing passes the filter.
func (s *Selector) BestSpread(signal TradeSignal, chain []Contract, und UnderlyingContext) (Spread, bool) {
	ranked := s.SelectSpreads(signal, chain, und)
	if len(ranked) == 0 {
		return Spread{}, false
	}
	return ranked[0], true
}

func (s *Selector) buildForExpiration(signal TradeSignal, opts []Contract, und UnderlyingContext) []Spread {
	var spreads []Spread
	for _, st := range spreadTypesFor(signal.Direction) {
		kind := Call
		if st == BearPut || st == BullPut {
			kind = Put
		}
		legs := legsOfKind(opts, kind)
		if len(legs) < s.cfg.SpreadWidth+1 {
			continue
		}
		spreads = append(spreads, s.buildSpreads(signal.Symbol, st, legs, und)...)
	}
	return spreads
}

// spreadTypesFor maps a signal direction to the vertical structures that
// express it: debit first, then the credit alternative.
func spreadTypesFor(d Direction) []SpreadType {
	if d == Long {
		return []SpreadType{BullCall, BullPut}
	}
	return []SpreadType{BearPut, BearCall}
}

// buildSpreads anchors at the ATM strike, applies the directional offset,
// and walks up to maxCandidatesPerType anchors pairing each with the
// strike spread_width steps away.
func (s *Selector) buildSpreads(symbol string, st SpreadType, legs []Contract, und UnderlyingContext) []Spread {
	sort.Slice(legs, func(i, j int) bool { return legs[i].Strike < legs[j].Strike })

	atm := atmIndex(legs, und.Price)
	width := s.cfg.SpreadWidth

	var start, end int
	switch st {
	case BullCall, BullPut:
		start = atm - s.cfg.StrikeOffset
		if start < 0 {
			start = 0
		}
		end = start + maxCandidatesPerType
	case BearPut, BearCall:
		start = atm + s.cfg.StrikeOffset
		if start > len(legs)-1-width {
			start = len(legs) - 1 - width
		}
		end = start + 1
		start = end - maxCandidatesPerType
		if start < 0 {
			start = 0
		}
	}
	if max := len(legs) - width; end > max {
		end = max
	}

	var spreads []Spread
	for i := start; i < end; i++ {
		if i < 0 {
			continue
		}
		if sp, ok := s.makeSpread(symbol, st, legs[i], legs[i+width]); ok {
			spreads = append(spreads, sp)
		}
	}
	return spreads
}

// makeSpread assigns legs and prices a vertical. lower and upper are the
// strikes at the anchor and anchor+width. Prices are per share; a spread
// with non-positive cost (debit) or non-positive max profit is discarded.
func (s *Selector) makeSpread(symbol string, st SpreadType, lower, upper Contract) (Spread, bool) {
	var long, short Contract
	var cost, maxProfit, maxLoss float64

	switch st {
	case BullCall:
		long, short = lower, upper
		cost = long.Ask - short.Bid
		maxProfit = (short.Strike - long.Strike) - cost
		maxLoss = cost
	case BearPut:
		long, short = upper, lower
		cost = long.Ask - short.Bid
		maxProfit = (long.Strike - short.Strike) - cost
		maxLoss = cost
	case BullPut:
		short, long = upper, lower
		credit := short.Bid - long.Ask
		cost = credit
		maxProfit = credit
		maxLoss = (short.Strike - long.Strike) - credit
	case BearCall:
		short, long = lower, upper
		credit := short.Bid - long.Ask
		cost = credit
		maxProfit = credit
		maxLoss = (long.Strike - short.Strike) - credit
	}

	if cost <= 0 || maxProfit <= 0 || maxLoss <= 0 {
		return Spread{}, false
	}

	sp := Spread{
		Symbol:       symbol,
		Expiration:   long.Expiration,
		Type:         st,
		LongLeg:      long,
		ShortLeg:     short,
		Cost:         cost,
		MaxProfit:    maxProfit,
		MaxLoss:      maxLoss,
		NetDelta:     long.Delta - short.Delta,
		NetGamma:     long.Gamma - short.Gamma,
		NetTheta:     long.Theta - short.Theta,
		NetVega:      long.Vega - short.Vega,
		RewardRisk:   maxProfit / maxLoss,
		ProbOfProfit: 1 - abs(short.Delta),
	}
	return sp, true
}

// atmIndex finds the strike closest to the underlying price.
func atmIndex(legs []Contract, price float64) int {
	best, bestDist := 0, abs(legs[0].Strike-price)
	for i := 1; i < len(legs); i++ {
		if d := abs(legs[i].Strike - price); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func legsOfKind(opts []Contract, k Kind) []Contract {
	var out []Contract
	for _, o := range opts {
		if o.Kind == k {
			out = append(out, o)
		}
	}
	return out
}

func expirations(chain []Contract) []time.Time {
	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, c := range chain {
		if !seen[c.Expiration] {
			seen[c.Expiration] = true
			out = append(out, c.Expiration)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func chainFor(chain []Contract, exp time.Time) []Contract {
	var out []Contract
	for _, c := range chain {
		if c.Expiration.Equal(exp) {
			out = append(out, c)
		}
	}
	return out
}
