package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/observ"
	"github.com/Rajchodisetti/options-trader/internal/options"
)

// Gateway talks JSON over a websocket to an external brokerage gateway
// process. Every request carries a correlation id; Pump reads frames off
// the socket and routes responses back to waiting callers.
type Gateway struct {
	cfg     config.Broker
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan gatewayFrame
}

type gatewayFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewGateway creates a gateway client; Connect must be called before use.
func NewGateway(cfg config.Broker) *Gateway {
	return &Gateway{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec),
		pending: make(map[string]chan gatewayFrame),
	}
}

// Connect dials the gateway, retrying up to connect_retries times with a
// doubling delay between attempts.
func (g *Gateway) Connect(ctx context.Context) error {
	timeout := time.Duration(g.cfg.ConnectTimeoutMs) * time.Millisecond
	delay := 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= g.cfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, g.cfg.GatewayURL, nil)
		cancel()
		if err != nil {
			lastErr = err
			observ.Warn("gateway_connect_failed", map[string]any{
				"url": g.cfg.GatewayURL, "attempt": attempt + 1, "error": err.Error(),
			})
			continue
		}

		g.mu.Lock()
		g.conn = conn
		g.mu.Unlock()
		observ.Log("gateway_connected", map[string]any{"url": g.cfg.GatewayURL, "attempt": attempt + 1})
		return nil
	}
	return &ConnectionError{Op: "connect", Err: lastErr}
}

func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
	return err
}

// Pump reads one frame off the socket and routes it. Callers run it in
// their worker loop; a read deadline keeps it from blocking the loop.
func (g *Gateway) Pump(ctx context.Context) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: "pump", Err: fmt.Errorf("not connected")}
	}

	deadline := time.Now().Add(100 * time.Millisecond)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var frame gatewayFrame
	if err := conn.ReadJSON(&frame); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return &ConnectionError{Op: "pump", Err: err}
		}
		// deadline expiry is the idle case
		return nil
	}

	g.mu.Lock()
	ch, ok := g.pending[frame.ID]
	if ok {
		delete(g.pending, frame.ID)
	}
	g.mu.Unlock()
	if ok {
		ch <- frame
	} else {
		observ.Debug("gateway_unsolicited_frame", map[string]any{"method": frame.Method})
	}
	return nil
}

// call sends a request and waits for its correlated response, pumping the
// socket itself while it waits.
func (g *Gateway) call(ctx context.Context, method string, params, result any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	frame := gatewayFrame{ID: uuid.NewString(), Method: method, Params: raw}

	ch := make(chan gatewayFrame, 1)
	g.mu.Lock()
	conn := g.conn
	if conn != nil {
		g.pending[frame.ID] = ch
	}
	g.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: method, Err: fmt.Errorf("not connected")}
	}

	start := time.Now()
	if err := conn.WriteJSON(frame); err != nil {
		g.mu.Lock()
		delete(g.pending, frame.ID)
		g.mu.Unlock()
		return &ConnectionError{Op: method, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			delete(g.pending, frame.ID)
			g.mu.Unlock()
			return ctx.Err()
		case resp, open := <-ch:
			if !open {
				return &ConnectionError{Op: method, Err: fmt.Errorf("connection closed")}
			}
			observ.RecordDuration("gateway_request_seconds", map[string]string{"method": method}, time.Since(start))
			if resp.Error != "" {
				return fmt.Errorf("gateway %s: %s", method, resp.Error)
			}
			if result == nil {
				return nil
			}
			return json.Unmarshal(resp.Result, result)
		default:
			if err := g.Pump(ctx); err != nil {
				return err
			}
		}
	}
}

func (g *Gateway) GetMarketData(ctx context.Context, symbol string) (MarketData, error) {
	var md MarketData
	err := g.call(ctx, "market_data", map[string]string{"symbol": normalizeSymbol(symbol)}, &md)
	return md, err
}

func (g *Gateway) GetOptionChain(ctx context.Context, symbol string) ([]options.Contract, error) {
	var chain []options.Contract
	err := g.call(ctx, "option_chain", map[string]string{"symbol": normalizeSymbol(symbol)}, &chain)
	return chain, err
}

func (g *Gateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatus, error) {
	var st OrderStatus
	err := g.call(ctx, "place_order", req, &st)
	return st, err
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.call(ctx, "cancel_order", map[string]string{"order_id": orderID}, nil)
}

func (g *Gateway) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var st OrderStatus
	err := g.call(ctx, "order_status", map[string]string{"order_id": orderID}, &st)
	return st, err
}

func (g *Gateway) GetPositions(ctx context.Context) ([]PositionInfo, error) {
	var ps []PositionInfo
	err := g.call(ctx, "positions", struct{}{}, &ps)
	return ps, err
}

func (g *Gateway) GetAccountSummary(ctx context.Context) (AccountSummary, error) {
	var a AccountSummary
	err := g.call(ctx, "account_summary", struct{}{}, &a)
	return a, err
}
