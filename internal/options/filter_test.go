package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/options-trader/internal/config"
)

var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// passingSpread returns a bull call spread that clears every default
// threshold: 35 DTE, |delta| 0.40, $3.00 debit against a $4.50 max profit
// (reward/risk 1.5), deep open interest and tight markets.
func passingSpread() Spread {
	exp := testNow.AddDate(0, 0, 35)
	long := Contract{
		Underlying: "AAPL", Kind: Call, Strike: 100, Expiration: exp,
		Bid: 5.00, Ask: 5.02, Volume: 500, OpenInterest: 2000,
		Delta: 0.55, Gamma: 0.03, Theta: -0.04, Vega: 0.10, ImpliedVolatility: 0.25,
	}
	short := Contract{
		Underlying: "AAPL", Kind: Call, Strike: 107.5, Expiration: exp,
		Bid: 2.02, Ask: 2.03, Volume: 400, OpenInterest: 1500,
		Delta: 0.15, Gamma: 0.02, Theta: -0.02, Vega: 0.05, ImpliedVolatility: 0.24,
	}
	cost := long.Ask - short.Bid // 3.00
	return Spread{
		Symbol:       "AAPL",
		Expiration:   exp,
		Type:         BullCall,
		LongLeg:      long,
		ShortLeg:     short,
		Cost:         cost,
		MaxProfit:    (short.Strike - long.Strike) - cost, // 4.50
		MaxLoss:      cost,
		NetDelta:     long.Delta - short.Delta, // 0.40
		NetGamma:     long.Gamma - short.Gamma,
		NetTheta:     long.Theta - short.Theta,
		NetVega:      long.Vega - short.Vega,
		RewardRisk:   4.50 / 3.00,
		ProbOfProfit: 1 - short.Delta, // 0.85
	}
}

func passingContext() UnderlyingContext {
	return UnderlyingContext{
		Price:        100,
		IVRank:       0.45,
		CallPutSkew:  0.10,
		ExpectedMove: 8.0,
		ATR:          2.5,
	}
}

func TestFilterAcceptsHealthySpread(t *testing.T) {
	f := NewFilter(config.Default().Options, fixedNow)
	ok, reason := f.Passes(passingSpread(), passingContext())
	require.True(t, ok, "rejected by %s", reason)
}

func TestFilterRejectsEachViolation(t *testing.T) {
	cases := []struct {
		name   string
		cfg    func(*config.Options)
		mutate func(*Spread, *UnderlyingContext)
		reason string
	}{
		{
			name: "dte too short",
			mutate: func(sp *Spread, _ *UnderlyingContext) {
				sp.Expiration = testNow.AddDate(0, 0, 10)
			},
			reason: "dte",
		},
		{
			name: "dte too long",
			mutate: func(sp *Spread, _ *UnderlyingContext) {
				sp.Expiration = testNow.AddDate(0, 0, 90)
			},
			reason: "dte",
		},
		{
			name:   "delta below floor",
			mutate: func(sp *Spread, _ *UnderlyingContext) { sp.NetDelta = 0.10 },
			reason: "delta",
		},
		{
			name:   "delta above cap",
			mutate: func(sp *Spread, _ *UnderlyingContext) { sp.NetDelta = -0.80 },
			reason: "delta",
		},
		{
			name: "cost above budget",
			mutate: func(sp *Spread, _ *UnderlyingContext) {
				sp.Cost = 6.00 // $600 per contract vs the $500 cap
			},
			reason: "cost",
		},
		{
			name:   "reward risk too low",
			mutate: func(sp *Spread, _ *UnderlyingContext) { sp.RewardRisk = 1.0 },
			reason: "cost",
		},
		{
			name: "thin open interest",
			mutate: func(sp *Spread, _ *UnderlyingContext) {
				sp.ShortLeg.OpenInterest = 800
			},
			reason: "liquidity",
		},
		{
			name: "wide market on one leg",
			mutate: func(sp *Spread, _ *UnderlyingContext) {
				sp.LongLeg.Bid, sp.LongLeg.Ask = 4.50, 5.02
			},
			reason: "liquidity",
		},
		{
			name: "zero ask",
			mutate: func(sp *Spread, _ *UnderlyingContext) {
				sp.ShortLeg.Ask = 0
			},
			reason: "liquidity",
		},
		{
			name:   "iv rank below floor",
			cfg:    func(o *config.Options) { o.MinIVRank = 20 },
			mutate: func(_ *Spread, und *UnderlyingContext) { und.IVRank = 0.10 },
			reason: "iv_regime",
		},
		{
			name:   "iv rank above cap",
			cfg:    func(o *config.Options) { o.MaxIVRank = 80 },
			mutate: func(_ *Spread, und *UnderlyingContext) { und.IVRank = 0.95 },
			reason: "iv_regime",
		},
		{
			name:   "inverted skew",
			cfg:    func(o *config.Options) { o.MinCallPutSkewPct = 0 },
			mutate: func(_ *Spread, und *UnderlyingContext) { und.CallPutSkew = -0.20 },
			reason: "iv_regime",
		},
		{
			name:   "theta decay too heavy",
			mutate: func(sp *Spread, _ *UnderlyingContext) { sp.NetTheta = -0.15 },
			reason: "greeks",
		},
		{
			name:   "vega exposure too large",
			mutate: func(sp *Spread, _ *UnderlyingContext) { sp.NetVega = 0.55 },
			reason: "greeks",
		},
		{
			name:   "low probability of profit",
			mutate: func(sp *Spread, _ *UnderlyingContext) { sp.ProbOfProfit = 0.50 },
			reason: "probability",
		},
		{
			name: "width dwarfs expected move",
			mutate: func(_ *Spread, und *UnderlyingContext) {
				und.ExpectedMove = 2.0 // width 7.5 is 375% of the move
			},
			reason: "probability",
		},
		{
			name: "earnings inside window",
			mutate: func(_ *Spread, und *UnderlyingContext) {
				und.EarningsDate = testNow.AddDate(0, 0, 3)
			},
			reason: "calendar",
		},
		{
			name: "earnings today",
			mutate: func(_ *Spread, und *UnderlyingContext) {
				und.EarningsDate = testNow
			},
			reason: "calendar",
		},
		{
			name: "ex dividend inside window",
			mutate: func(_ *Spread, und *UnderlyingContext) {
				und.ExDividendDate = testNow.AddDate(0, 0, 2)
			},
			reason: "calendar",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default().Options
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			f := NewFilter(cfg, fixedNow)
			sp := passingSpread()
			und := passingContext()
			tc.mutate(&sp, &und)
			ok, reason := f.Passes(sp, und)
			require.False(t, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestFilterCalendarOutsideWindowPasses(t *testing.T) {
	f := NewFilter(config.Default().Options, fixedNow)
	sp := passingSpread()
	und := passingContext()
	und.EarningsDate = testNow.AddDate(0, 0, 12)
	und.ExDividendDate = testNow.AddDate(0, 0, 9)
	ok, reason := f.Passes(sp, und)
	require.True(t, ok, "rejected by %s", reason)
}

func TestFilterPastEarningsIgnored(t *testing.T) {
	f := NewFilter(config.Default().Options, fixedNow)
	sp := passingSpread()
	und := passingContext()
	und.EarningsDate = testNow.AddDate(0, 0, -2)
	ok, _ := f.Passes(sp, und)
	assert.True(t, ok)
}

func TestFilterZeroExpectedMoveSkipsWidthCheck(t *testing.T) {
	f := NewFilter(config.Default().Options, fixedNow)
	sp := passingSpread()
	und := passingContext()
	und.ExpectedMove = 0
	ok, reason := f.Passes(sp, und)
	require.True(t, ok, "rejected by %s", reason)
}

func TestFilterDynamicDTEWindow(t *testing.T) {
	cfg := config.Default().Options
	cfg.DTEFromATR = true
	cfg.ATRCoefficient = 10
	f := NewFilter(cfg, fixedNow)

	und := passingContext()
	und.ATR = 4.0 // window becomes [40, 60]

	sp := passingSpread() // 35 DTE, inside the static window
	ok, reason := f.Passes(sp, und)
	require.False(t, ok)
	assert.Equal(t, "dte", reason)

	sp.Expiration = testNow.AddDate(0, 0, 50)
	ok, reason = f.Passes(sp, und)
	require.True(t, ok, "rejected by %s", reason)
}

func TestFilterSpreadsKeepsOnlySurvivors(t *testing.T) {
	f := NewFilter(config.Default().Options, fixedNow)
	good := passingSpread()
	bad := passingSpread()
	bad.ShortLeg.OpenInterest = 100

	kept := f.FilterSpreads([]Spread{bad, good, bad}, passingContext())
	require.Len(t, kept, 1)
	assert.Equal(t, good.Cost, kept[0].Cost)
}
