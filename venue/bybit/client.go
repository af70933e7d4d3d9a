// Package bybit implements venue.Gateway for Venue-B, the perpetual
// futures exchange. REST+WS plumbing is grounded on the teacher's
// internal/binance.Client (dial/ping/reconnect loop); HMAC request
// signing reuses the teacher's exec.Client.hmacSign idiom. Venue-B does
// not support post-only, and amend support depends on margin mode
// (spec.md §4.1).
package bybit

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
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

const (
	restURL = "https://api.bybit.com"
	wsURL   = "wss://stream.bybit.com/v5/private"

	retryBase = 2 * time.Second
	retryMax  = 3

	pingInterval = 20 * time.Second
)

// MarginMode controls whether this venue instance supports in-place
// amend (isolated) or must always cancel+replace (cross), resolving
// spec.md §9 open question (c)'s sibling concern for amend semantics.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// Client is Venue-B's gateway.
type Client struct {
	apiKey     string
	apiSecret  string
	margin     MarginMode
	httpClient *http.Client
}

// New builds a Venue-B client.
func New(apiKey, apiSecret string, margin MarginMode) *Client {
	return &Client{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		margin:     margin,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Name() model.Venue      { return model.VenueB }
func (c *Client) SupportsPostOnly() bool { return false }

// AmendSupported reports false for cross margin mode, matching the
// teacher's exposure of amend_supported so the placement engine falls
// back to cancel+replace (spec.md §4.1, scenario 4 of §8).
func (c *Client) AmendSupported() bool { return c.margin == MarginIsolated }

type submitResponse struct {
	Result struct {
		OrderID string `json:"orderId"`
	} `json:"result"`
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// Submit places an order. For market orders, QuantityUnit resolves
// spec.md §9 open question (c): Bybit USDT perpetuals are quantity in
// the base asset's contracts, not USDT notional.
func (c *Client) Submit(ctx context.Context, req venue.SubmitRequest) (string, error) {
	body := map[string]any{
		"symbol":       req.Symbol,
		"side":         string(req.Side),
		"orderType":    string(req.Type),
		"qty":          req.Quantity.String(),
		"quantityUnit": string(req.QuantityUnit),
	}
	if req.Type == model.OrderTypeLimit {
		body["price"] = req.Price.String()
	}

	var resp submitResponse
	if err := c.postWithRetry(ctx, "/v5/order/create", body, &resp); err != nil {
		return "", err
	}
	if resp.RetCode != 0 {
		return "", fmt.Errorf("venue-b reject (%d): %s", resp.RetCode, resp.RetMsg)
	}
	return resp.Result.OrderID, nil
}

// Amend changes an order's price. Callers must first check
// AmendSupported; Amend itself still translates a venue-reported
// "not supported" code into the typed error as a defense in depth.
func (c *Client) Amend(ctx context.Context, orderID string, newPrice decimal.Decimal) error {
	body := map[string]any{"orderId": orderID, "price": newPrice.String()}
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := c.postWithRetry(ctx, "/v5/order/amend", body, &resp); err != nil {
		return err
	}
	if resp.RetCode == 10001 && resp.RetMsg == "amend not supported in cross margin" {
		return &venue.AmendUnsupportedError{Venue: model.VenueB}
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("venue-b amend failed (%d): %s", resp.RetCode, resp.RetMsg)
	}
	return nil
}

// Cancel cancels an open order.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	body := map[string]any{"orderId": orderID}
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := c.postWithRetry(ctx, "/v5/order/cancel", body, &resp); err != nil {
		return err
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("venue-b cancel failed (%d): %s", resp.RetCode, resp.RetMsg)
	}
	return nil
}

// LatestPrice fetches the current mark price for symbol from Venue-B's
// public market-tickers endpoint (unauthenticated, unlike the rest of
// this client's order-management surface).
func (c *Client) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	raw, err := c.get(ctx, "/v5/market/tickers?category=linear&symbol="+symbol)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	var resp struct {
		Result struct {
			List []struct {
				MarkPrice string `json:"markPrice"`
			} `json:"list"`
		} `json:"result"`
		Time int64 `json:"time"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	if len(resp.Result.List) == 0 {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("venue-b: no ticker for %s", symbol)
	}
	price, err := decimal.NewFromString(resp.Result.List[0].MarkPrice)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("parse venue-b mark price: %w", err)
	}
	return price, time.UnixMilli(resp.Time), nil
}

// OpenOrders lists the symbol's open orders (orderStatus=open); filled
// and cancelled orders are not listed.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	raw, err := c.get(ctx, fmt.Sprintf("/v5/order/realtime?symbol=%s&orderStatus=open", symbol))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				OrderID     string          `json:"orderId"`
				Symbol      string          `json:"symbol"`
				Side        string          `json:"side"`
				Price       decimal.Decimal `json:"price"`
				Qty         decimal.Decimal `json:"qty"`
				OrderStatus string          `json:"orderStatus"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	out := make([]venue.OpenOrder, len(resp.Result.List))
	for i, r := range resp.Result.List {
		out[i] = venue.OpenOrder{
			OrderID:  r.OrderID,
			Symbol:   r.Symbol,
			Side:     model.Side(r.Side),
			Price:    r.Price,
			Quantity: r.Qty,
			Status:   translateStatus(r.OrderStatus),
		}
	}
	return out, nil
}

// OrderHistory is the authoritative fee lookup fallback.
func (c *Client) OrderHistory(ctx context.Context, orderID string) (*venue.HistoryRecord, error) {
	raw, err := c.get(ctx, "/v5/order/history?orderId="+orderID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				OrderID     string          `json:"orderId"`
				OrderStatus string          `json:"orderStatus"`
				CumExecQty  decimal.Decimal `json:"cumExecQty"`
				CumExecFee  decimal.Decimal `json:"cumExecFee"`
				AvgPrice    decimal.Decimal `json:"avgPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("venue-b: order %s not found in history", orderID)
	}
	r := resp.Result.List[0]
	return &venue.HistoryRecord{
		OrderID:          r.OrderID,
		Status:           translateStatus(r.OrderStatus),
		ExecutedQuantity: r.CumExecQty,
		ExecutedFee:      r.CumExecFee,
		AvgPrice:         r.AvgPrice,
	}, nil
}

func translateStatus(s string) model.OrderStatus {
	switch s {
	case "initial", "open":
		return model.StatusOpen
	case "filled":
		return model.StatusFilled
	case "cancelled":
		return model.StatusCancelled
	case "partially_filled":
		return model.StatusOpen
	default:
		return model.StatusOpen
	}
}

type wsEvent struct {
	OrderID      string `json:"orderId"`
	Status       string `json:"status"`
	Price        string `json:"price"`
	TotalQty     string `json:"totalQty"`
	RemainingQty string `json:"remainingQty"`
	AvgPrice     string `json:"avgPrice"`
	Fee          string `json:"fee"`
}

// Subscribe dials Venue-B's private order stream, following the
// teacher's connectionLoop/readLoop/pingLoop reconnect idiom from
// internal/binance.Client.
func (c *Client) Subscribe(ctx context.Context) (<-chan venue.StreamEvent, error) {
	out := make(chan venue.StreamEvent, 256)
	go c.streamLoop(ctx, out)
	return out, nil
}

func (c *Client) streamLoop(ctx context.Context, out chan<- venue.StreamEvent) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			log.Warn().Err(err).Msg("venue-b stream dial failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := c.authenticate(conn); err != nil {
			log.Warn().Err(err).Msg("venue-b stream auth failed")
			conn.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		stopPing := make(chan struct{})
		go c.pingLoop(conn, stopPing)
		c.readEvents(ctx, conn, out)
		close(stopPing)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	message := fmt.Sprintf("GET/realtime%d", expires)
	sig := c.hmacSignHex(message)
	return conn.WriteJSON(map[string]any{
		"op":   "auth",
		"args": []any{c.apiKey, expires, sig},
	})
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.WriteJSON(map[string]any{"op": "ping"})
		}
	}
}

func (c *Client) readEvents(ctx context.Context, conn *websocket.Conn, out chan<- venue.StreamEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("venue-b stream read error")
			return
		}

		var envelope struct {
			Topic string    `json:"topic"`
			Data  []wsEvent `json:"data"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			continue
		}

		for _, ev := range envelope.Data {
			price, _ := decimal.NewFromString(ev.Price)
			total, _ := decimal.NewFromString(ev.TotalQty)
			remaining, _ := decimal.NewFromString(ev.RemainingQty)
			fee, _ := decimal.NewFromString(ev.Fee)
			executed := total.Sub(remaining)

			select {
			case out <- venue.StreamEvent{
				Venue:            model.VenueB,
				EventID:          ev.OrderID + ":" + ev.Status + ":" + ev.RemainingQty,
				OrderID:          ev.OrderID,
				Status:           translateStatus(ev.Status),
				ExecutedQuantity: executed,
				ExecutedFee:      fee,
				Price:            price,
				RawPayload:       string(msg),
				Timestamp:        time.Now(),
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ═══════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, restURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req, nil)
	return c.doRequestWithRetry(req, nil)
}

func (c *Client) postWithRetry(ctx context.Context, path string, body any, out any) error {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, restURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req, payload)

	raw, err := c.doRequestWithRetry(req, payload)
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) addHeaders(req *http.Request, body []byte) {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)

	if c.apiSecret != "" {
		message := timestamp + c.apiKey + string(body)
		req.Header.Set("X-BAPI-SIGN", c.hmacSignHex(message))
	}
}

// hmacSignHex mirrors the teacher's hmacSign but in Bybit's documented
// hex encoding rather than Polymarket's URL-safe base64.
func (c *Client) hmacSignHex(message string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) doRequestWithRetry(req *http.Request, rawBody []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			delay := retryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
			if rawBody != nil {
				req.Body = io.NopCloser(bytes.NewReader(rawBody))
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		b, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("venue-b HTTP %d: %s", resp.StatusCode, string(b))
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("venue-b HTTP %d: %s", resp.StatusCode, string(b))
		}

		return b, nil
	}
	return nil, fmt.Errorf("venue-b request failed after %d attempts: %w", retryMax+1, lastErr)
}
