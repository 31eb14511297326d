// spread-scan runs the candidate pipeline offline: fetch a chain, build
// vertical spreads, filter them, and print the survivors ranked by
// reward/risk. Useful for tuning filter thresholds without trading.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Rajchodisetti/options-trader/internal/broker"
	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/marketstats"
	"github.com/Rajchodisetti/options-trader/internal/observ"
	"github.com/Rajchodisetti/options-trader/internal/options"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		direction  = flag.String("direction", "LONG", "signal direction: LONG or SHORT")
		top        = flag.Int("top", 5, "number of spreads to print per symbol")
	)
	flag.Parse()

	symbols := flag.Args()
	if len(symbols) == 0 {
		fmt.Fprintln(os.Stderr, "usage: spread-scan [-config config.yaml] [-direction LONG|SHORT] SYMBOL [SYMBOL...]")
		os.Exit(2)
	}
	dir := options.Direction(strings.ToUpper(*direction))
	if dir != options.Long && dir != options.Short {
		fmt.Fprintf(os.Stderr, "bad direction %q\n", *direction)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	observ.SetLevel("warn")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := broker.New(cfg.Broker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "broker: %v\n", err)
		os.Exit(1)
	}
	if err := b.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer b.Disconnect()

	selector := options.NewSelector(cfg.Options, nil)
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		md, err := b.GetMarketData(ctx, sym)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: market data: %v\n", sym, err)
			continue
		}
		chain, err := b.GetOptionChain(ctx, sym)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: chain: %v\n", sym, err)
			continue
		}
		und := deriveContext(chain, md.Last)
		sig := options.TradeSignal{Symbol: sym, Direction: dir, Timestamp: time.Now()}
		spreads := selector.SelectSpreads(sig, chain, und)

		fmt.Printf("%s  last=%.2f  ivrank=%.2f  skew=%+.2f  move=%.2f  candidates=%d\n",
			sym, md.Last, und.IVRank, und.CallPutSkew, und.ExpectedMove, len(spreads))
		n := len(spreads)
		if n > *top {
			n = *top
		}
		for i := 0; i < n; i++ {
			sp := spreads[i]
			fmt.Printf("  %2d. %-9s %s  %6.2f/%-6.2f  cost=%5.2f  max=%5.2f  rr=%4.2f  pop=%2.0f%%  netΔ=%+.2f\n",
				i+1, sp.Type, sp.Expiration.Format("2006-01-02"),
				sp.LongLeg.Strike, sp.ShortLeg.Strike,
				sp.Cost, sp.MaxProfit, sp.RewardRisk, sp.ProbOfProfit*100, sp.NetDelta)
		}
		if n == 0 {
			fmt.Println("  no spreads passed the filter")
		}
	}
}

func deriveContext(chain []options.Contract, last float64) options.UnderlyingContext {
	und := options.UnderlyingContext{Price: last}
	if len(chain) == 0 {
		return und
	}
	var callIVs, putIVs, ivs []float64
	atm := chain[0]
	for _, c := range chain {
		if diff(c.Strike, last) < diff(atm.Strike, last) {
			atm = c
		}
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
		return und
	}
	if rank, err := marketstats.IVRank(atm.ImpliedVolatility, ivs); err == nil {
		und.IVRank = rank
	}
	if skew, err := marketstats.CallPutSkew(callIVs, putIVs); err == nil {
		und.CallPutSkew = skew
	}
	und.ExpectedMove = marketstats.ExpectedMove(last, atm.ImpliedVolatility, chain[0].DTEFrom(time.Now()))
	return und
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
