// Package broker abstracts the brokerage connection behind a single
// interface with a sim adapter for paper sessions and tests and a
// websocket gateway adapter for live trading.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/options"
)

// MarketData is a normalized underlying quote snapshot.
type MarketData struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    int64     `json:"volume"`
	Halted    bool      `json:"halted"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountSummary is the broker's view of the account.
type AccountSummary struct {
	NetLiquidation float64 `json:"net_liquidation"`
	BuyingPower    float64 `json:"buying_power"`
	MaintMargin    float64 `json:"maint_margin"`
}

// PositionInfo is one open spread position as the broker reports it.
type PositionInfo struct {
	ID           string             `json:"id"`
	Symbol       string             `json:"symbol"`
	SpreadType   options.SpreadType `json:"spread_type"`
	Contracts    int                `json:"contracts"`
	EntryPrice   float64            `json:"entry_price"` // per share
	CurrentPrice float64            `json:"current_price"`
	Expiration   time.Time          `json:"expiration"`
}

// OrderRequest asks the broker to open or close a spread.
type OrderRequest struct {
	OrderID    string         `json:"order_id"`
	Spread     options.Spread `json:"spread"`
	Contracts  int            `json:"contracts"`
	LimitPrice float64        `json:"limit_price"` // per share, 0 = market
	Closing    bool           `json:"closing"`
}

// OrderStatus reports what happened to an order.
type OrderStatus struct {
	OrderID   string    `json:"order_id"`
	State     string    `json:"state"` // "filled" | "working" | "rejected" | "cancelled"
	FillPrice float64   `json:"fill_price"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	OrderFilled    = "filled"
	OrderWorking   = "working"
	OrderRejected  = "rejected"
	OrderCancelled = "cancelled"
)

// Broker is the brokerage surface the pipeline depends on. Pump gives
// stream-based adapters a chance to drain inbound messages; polling
// adapters make it a no-op.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Pump(ctx context.Context) error
	GetMarketData(ctx context.Context, symbol string) (MarketData, error)
	GetOptionChain(ctx context.Context, symbol string) ([]options.Contract, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	GetPositions(ctx context.Context) ([]PositionInfo, error)
	GetAccountSummary(ctx context.Context) (AccountSummary, error)
}

// New creates the adapter named by the config.
func New(cfg config.Broker) (Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Adapter)) {
	case "sim":
		return NewSim(), nil
	case "gateway":
		return NewGateway(cfg), nil
	default:
		return nil, fmt.Errorf("broker: unknown adapter %q", cfg.Adapter)
	}
}

// ConnectionError marks failures that the recovery layer treats as
// connection problems rather than order problems.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
