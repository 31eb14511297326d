package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/options-trader/internal/options"
)

func connectedSim(t *testing.T) *Sim {
	t.Helper()
	s := NewSim()
	require.NoError(t, s.Connect(context.Background()))
	return s
}

func TestSimRequiresConnection(t *testing.T) {
	s := NewSim()
	_, err := s.GetMarketData(context.Background(), "AAPL")
	require.Error(t, err)
	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestSimMarketData(t *testing.T) {
	s := connectedSim(t)

	md, err := s.GetMarketData(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", md.Symbol)
	assert.Greater(t, md.Bid, 0.0)
	assert.GreaterOrEqual(t, md.Ask, md.Bid)

	_, err = s.GetMarketData(context.Background(), "ZZZZ")
	assert.Error(t, err)
}

func TestSimOptionChainIsWellFormed(t *testing.T) {
	s := connectedSim(t)

	chain, err := s.GetOptionChain(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotEmpty(t, chain)

	for _, c := range chain {
		assert.Equal(t, "AAPL", c.Underlying)
		assert.Greater(t, c.Strike, 0.0)
		assert.Greater(t, c.Ask, 0.0)
		assert.LessOrEqual(t, c.Bid, c.Ask)
		assert.NotZero(t, c.Delta)
		if c.Kind == options.Call {
			assert.Positive(t, c.Delta)
		} else {
			assert.Negative(t, c.Delta)
		}
	}
}

func TestSimOrderLifecycle(t *testing.T) {
	s := connectedSim(t)

	sp := options.Spread{
		Symbol: "AAPL",
		Type:   options.BullCall,
		LongLeg: options.Contract{
			Underlying: "AAPL", Kind: options.Call, Strike: 200, Bid: 5.00, Ask: 5.10,
		},
		ShortLeg: options.Contract{
			Underlying: "AAPL", Kind: options.Call, Strike: 205, Bid: 2.00, Ask: 2.10,
		},
	}

	st, err := s.PlaceOrder(context.Background(), OrderRequest{
		OrderID: "o-1", Spread: sp, Contracts: 2, LimitPrice: 3.05,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, st.State)
	assert.Equal(t, 3.05, st.FillPrice)

	got, err := s.GetOrderStatus(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, st.State, got.State)

	ps, err := s.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, 2, ps[0].Contracts)

	// filled orders cannot be cancelled
	assert.Error(t, s.CancelOrder(context.Background(), "o-1"))

	_, err = s.PlaceOrder(context.Background(), OrderRequest{
		OrderID: "o-2", Spread: sp, Contracts: 2, LimitPrice: 3.40, Closing: true,
	})
	require.NoError(t, err)
	ps, err = s.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestSimMarketOrderFillsAtMid(t *testing.T) {
	s := connectedSim(t)
	sp := options.Spread{
		Symbol:   "MSFT",
		Type:     options.BullCall,
		LongLeg:  options.Contract{Bid: 5.00, Ask: 5.10},
		ShortLeg: options.Contract{Bid: 2.00, Ask: 2.10},
	}
	st, err := s.PlaceOrder(context.Background(), OrderRequest{OrderID: "o-3", Spread: sp, Contracts: 1})
	require.NoError(t, err)
	assert.InDelta(t, 3.00, st.FillPrice, 1e-9) // 5.05 - 2.05
}

func TestSimRejectsZeroContracts(t *testing.T) {
	s := connectedSim(t)
	_, err := s.PlaceOrder(context.Background(), OrderRequest{OrderID: "o-4", Contracts: 0})
	assert.Error(t, err)
}
