package options

import (
	"fmt"
	"time"
)

// Kind distinguishes calls from puts.
type Kind string

const (
	Call Kind = "call"
	Put  Kind = "put"
)

// Direction is the side of a directional trade signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// SpreadType identifies the four supported vertical spreads. BULL_CALL and
// BEAR_PUT are debit spreads; BULL_PUT and BEAR_CALL are credit spreads.
type SpreadType string

const (
	BullCall SpreadType = "BULL_CALL"
	BearPut  SpreadType = "BEAR_PUT"
	BullPut  SpreadType = "BULL_PUT"
	BearCall SpreadType = "BEAR_CALL"
)

// TradeSignal is a directional signal for one underlying. It is consumed
// once by the signal worker and never persisted.
type TradeSignal struct {
	Symbol    string
	Direction Direction
	Timestamp time.Time
}

// Contract is an immutable option quote snapshot from the broker.
type Contract struct {
	Symbol            string
	Underlying        string
	Kind              Kind
	Strike            float64
	Expiration        time.Time
	Bid               float64
	Ask               float64
	Last              float64
	Volume            int64
	OpenInterest      int64
	ImpliedVolatility float64
	Delta             float64
	Gamma             float64
	Theta             float64
	Vega              float64
	Rho               float64
}

// MidPrice is the midpoint between bid and ask.
func (c Contract) MidPrice() float64 {
	return (c.Bid + c.Ask) / 2
}

// BidAskSpreadPct is the bid-ask spread as a percentage of the ask.
// Returns -1 when the ask is zero so callers can reject the leg outright.
func (c Contract) BidAskSpreadPct() float64 {
	if c.Ask == 0 {
		return -1
	}
	return (c.Ask - c.Bid) / c.Ask * 100
}

// DTEFrom returns whole days between now and expiration.
func (c Contract) DTEFrom(now time.Time) int {
	return daysBetween(now, c.Expiration)
}

func (c Contract) String() string {
	return fmt.Sprintf("%s %s %s %.2f", c.Underlying, c.Expiration.Format("2006-01-02"), c.Kind, c.Strike)
}

// Spread is a two-leg vertical, immutable once constructed. Cost, MaxProfit
// and MaxLoss are per-share; multiply by 100 for per-contract dollars.
type Spread struct {
	Symbol       string
	Expiration   time.Time
	Type         SpreadType
	LongLeg      Contract
	ShortLeg     Contract
	Cost         float64
	MaxProfit    float64
	MaxLoss      float64
	NetDelta     float64
	NetGamma     float64
	NetTheta     float64
	NetVega      float64
	RewardRisk   float64
	ProbOfProfit float64 // 0..1, approximated as 1-|short leg delta|
}

// Width is the strike distance between legs.
func (s Spread) Width() float64 {
	w := s.LongLeg.Strike - s.ShortLeg.Strike
	if w < 0 {
		return -w
	}
	return w
}

// DTEFrom returns days to expiration from now.
func (s Spread) DTEFrom(now time.Time) int {
	return daysBetween(now, s.Expiration)
}

// IsCredit reports whether the spread collects premium at entry.
func (s Spread) IsCredit() bool {
	return s.Type == BullPut || s.Type == BearCall
}

func (s Spread) String() string {
	return fmt.Sprintf("%s %s %s [%.2f/%.2f] cost %.2f rr %.2f",
		s.Type, s.Symbol, s.Expiration.Format("2006-01-02"),
		s.LongLeg.Strike, s.ShortLeg.Strike, s.Cost, s.RewardRisk)
}

// UnderlyingContext carries per-underlying market state the filter needs
// beyond the chain itself.
type UnderlyingContext struct {
	Price          float64
	IVRank         float64 // 0..1
	CallPutSkew    float64 // fraction; positive = calls richer
	ExpectedMove   float64 // absolute dollars over the holding horizon
	ATR            float64
	EarningsDate   time.Time // zero when unknown
	ExDividendDate time.Time // zero when unknown
}

func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
