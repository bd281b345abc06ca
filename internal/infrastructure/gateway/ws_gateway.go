package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/trade_risk_guard/internal/domain"
	"go.uber.org/zap"
)

// WSGateway is the trading-gateway adapter: it streams trading-state
// events over a websocket and issues enforcement operations over REST.
// The single read pump preserves per-account and per-symbol arrival
// order; enforcement endpoints on the gateway side are idempotent, so
// a retried request is safe.
type WSGateway struct {
	apiKey    string
	apiSecret string
	restURL   string
	wsURL     string

	client    *http.Client
	wsConn    *websocket.Conn
	wsDone    chan struct{}
	callbacks []func(*domain.Event)
	mu        sync.Mutex
	log       *zap.Logger
}

func NewWSGateway(apiKey, apiSecret, restURL, wsURL string, log *zap.Logger) *WSGateway {
	return &WSGateway{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		restURL:   restURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		wsDone:    make(chan struct{}),
		log:       log,
	}
}

// --- REST enforcement operations ---

func (g *WSGateway) sign(payload string, timestamp int64) string {
	h := hmac.New(sha256.New, []byte(g.apiSecret))
	h.Write([]byte(fmt.Sprintf("%d%s%s", timestamp, g.apiKey, payload)))
	return hex.EncodeToString(h.Sum(nil))
}

func (g *WSGateway) post(ctx context.Context, op, path string, payload map[string]interface{}) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.restURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	timestamp := time.Now().UnixMilli()
	req.Header.Set("X-API-KEY", g.apiKey)
	req.Header.Set("X-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-SIGN", g.sign(string(body), timestamp))
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// Transport failures are retryable by the action queue.
		return &domain.TransientGatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return &domain.TransientGatewayError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s rejected: status %d: %s", op, resp.StatusCode, respBody)
	}
	return nil
}

func (g *WSGateway) ClosePosition(ctx context.Context, accountID, symbol string) error {
	return g.post(ctx, "close_position", "/v1/positions/close", map[string]interface{}{
		"account_id": accountID,
		"symbol":     symbol,
	})
}

func (g *WSGateway) CloseAllPositions(ctx context.Context, accountID string) error {
	return g.post(ctx, "close_all", "/v1/positions/close-all", map[string]interface{}{
		"account_id": accountID,
	})
}

func (g *WSGateway) CancelAllOrders(ctx context.Context, accountID string) error {
	return g.post(ctx, "cancel_orders", "/v1/orders/cancel-all", map[string]interface{}{
		"account_id": accountID,
	})
}

func (g *WSGateway) ReducePositionToSize(ctx context.Context, accountID, symbol string, size float64) error {
	return g.post(ctx, "reduce_position", "/v1/positions/reduce", map[string]interface{}{
		"account_id": accountID,
		"symbol":     symbol,
		"size":       size,
	})
}

// --- Websocket event stream ---

// OnEvent registers a callback invoked for every decoded inbound
// event. Register before Connect.
func (g *WSGateway) OnEvent(cb func(*domain.Event)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, cb)
}

// Connect dials the event stream and starts the read pump. The pump
// redials with backoff on disconnect until Close is called.
func (g *WSGateway) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(g.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", g.wsURL, err)
	}
	g.mu.Lock()
	g.wsConn = conn
	g.mu.Unlock()

	go g.readPump()
	return nil
}

func (g *WSGateway) readPump() {
	backoff := time.Second
	for {
		select {
		case <-g.wsDone:
			return
		default:
		}

		g.mu.Lock()
		conn := g.wsConn
		g.mu.Unlock()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-g.wsDone:
				return
			default:
			}
			g.log.Warn("event stream read failed, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			next, _, dialErr := websocket.DefaultDialer.Dial(g.wsURL, nil)
			if dialErr != nil {
				g.log.Error("reconnect failed", zap.Error(dialErr))
				continue
			}
			g.mu.Lock()
			g.wsConn = next
			g.mu.Unlock()
			backoff = time.Second
			continue
		}

		var ev domain.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			g.log.Warn("failed to decode event frame", zap.Error(err))
			continue
		}

		g.mu.Lock()
		cbs := g.callbacks
		g.mu.Unlock()
		for _, cb := range cbs {
			cb(&ev)
		}
	}
}

// Close stops the read pump and closes the stream.
func (g *WSGateway) Close() {
	close(g.wsDone)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wsConn != nil {
		g.wsConn.Close()
	}
}
