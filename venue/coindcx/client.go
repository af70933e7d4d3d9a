// Package coindcx implements venue.Gateway for Venue-A, the spot
// exchange. It is grounded on the teacher's exec.Client: EIP-712 order
// signing, HMAC L2 request signing, and the get/post/delete + doRequest
// HTTP helper shape, generalized from a fixed Polymarket CLOB market to
// an arbitrary spot symbol.
package coindcx

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/model"
	"github.com/kuldeepakkatwal/bybit-coindcx-hedge-bot/venue"
)

const (
	restURLMainnet = "https://api.coindcx.com"
	restURLTestnet = "https://api-testnet.coindcx.com"
	wsURLMainnet   = "wss://stream.coindcx.com/ws"

	retryBase = 2 * time.Second
	retryMax  = 3
)

// Client is Venue-A's gateway: it supports post-only and amend.
type Client struct {
	baseURL    string
	wsURL      string
	apiKey     string
	apiSecret  string
	privateKey *ecdsa.PrivateKey
	address    string
	httpClient *http.Client
}

// New builds a Venue-A client. privateKeyHex is the signer's raw hex
// key used for order signing; it may be empty in a dry/testnet
// configuration, in which case orders are submitted unsigned.
func New(apiKey, apiSecret, privateKeyHex string, testnet bool) (*Client, error) {
	c := &Client{
		baseURL:    restURLMainnet,
		wsURL:      wsURLMainnet,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if testnet {
		c.baseURL = restURLTestnet
	}

	if privateKeyHex != "" {
		if len(privateKeyHex) > 2 && privateKeyHex[:2] == "0x" {
			privateKeyHex = privateKeyHex[2:]
		}
		pk, err := crypto.HexToECDSA(privateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid venue-a private key: %w", err)
		}
		c.privateKey = pk
		c.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	}

	return c, nil
}

func (c *Client) Name() model.Venue      { return model.VenueA }
func (c *Client) AmendSupported() bool   { return true }
func (c *Client) SupportsPostOnly() bool { return true }

// signedOrder mirrors the teacher's SignedOrder EIP-712 payload,
// generalized to carry the symbol instead of a fixed Polymarket token.
type signedOrder struct {
	Salt      string `json:"salt"`
	Maker     string `json:"maker"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	PostOnly  bool   `json:"post_only"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

func (c *Client) buildSignedOrder(req venue.SubmitRequest) (*signedOrder, error) {
	o := &signedOrder{
		Salt:     fmt.Sprintf("%d", rand.Int63()),
		Maker:    c.address,
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Price:    req.Price.String(),
		Quantity: req.Quantity.String(),
		PostOnly: req.PostOnly,
		Nonce:    fmt.Sprintf("%d", time.Now().UnixNano()),
	}

	if c.privateKey != nil {
		sig, err := c.signEIP712(o)
		if err != nil {
			return nil, fmt.Errorf("sign order: %w", err)
		}
		o.Signature = sig
	}
	return o, nil
}

// signEIP712 signs the keccak256 hash of the order's concatenated fields
// with the account's private key, following the teacher's
// signOrderEIP712 idiom. No EIP-712 typed-data domain or struct hash is
// built.
func (c *Client) signEIP712(o *signedOrder) (string, error) {
	message := o.Symbol + o.Side + o.Price + o.Quantity + o.Nonce + o.Salt
	hash := crypto.Keccak256Hash([]byte(message))
	sig, err := crypto.Sign(hash.Bytes(), c.privateKey)
	if err != nil {
		return "", err
	}
	return "0x" + fmt.Sprintf("%x", sig), nil
}

type submitResponse struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// Submit places a single order. Retries transport/5xx failures with
// the configured backoff ladder (spec.md §4.1): 2s, 4s, 8s, max 3 retries.
func (c *Client) Submit(ctx context.Context, req venue.SubmitRequest) (string, error) {
	order, err := c.buildSignedOrder(req)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"order":      order,
		"order_type": req.Type,
		"post_only":  req.PostOnly,
	}

	var resp submitResponse
	if err := c.postWithRetry(ctx, "/orders", body, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("venue-a reject: %s", resp.Error)
	}
	return resp.OrderID, nil
}

// Amend changes an order's price in place.
func (c *Client) Amend(ctx context.Context, orderID string, newPrice decimal.Decimal) error {
	body := map[string]any{"order_id": orderID, "price": newPrice.String()}
	var resp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := c.postWithRetry(ctx, "/orders/edit", body, &resp); err != nil {
		return err
	}
	if resp.Code == "edit_not_supported" {
		return &venue.AmendUnsupportedError{Venue: model.VenueA}
	}
	if resp.Error != "" {
		return fmt.Errorf("venue-a amend failed: %s", resp.Error)
	}
	return nil
}

// Cancel cancels an open order.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	body := map[string]any{"order_id": orderID}
	var resp struct {
		Error string `json:"error"`
	}
	if err := c.postWithRetry(ctx, "/orders/cancel", body, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("venue-a cancel failed: %s", resp.Error)
	}
	return nil
}

// LatestPrice fetches the current ticker price for symbol, used by
// the price oracle's cross-venue spread check (spec.md §4.3).
func (c *Client) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	raw, err := c.get(ctx, "/markets/ticker?symbol="+symbol)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	var r struct {
		LastPrice string `json:"last_price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	price, err := decimal.NewFromString(r.LastPrice)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("parse venue-a ticker price: %w", err)
	}
	return price, time.UnixMilli(r.Timestamp), nil
}

// OpenOrders is the REST fallback used by the hybrid confirmation
// protocol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]venue.OpenOrder, error) {
	raw, err := c.get(ctx, "/orders?status=open&symbol="+symbol)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		OrderID  string          `json:"order_id"`
		Symbol   string          `json:"symbol"`
		Side     string          `json:"side"`
		Price    decimal.Decimal `json:"price"`
		Quantity decimal.Decimal `json:"quantity"`
		Status   string          `json:"status"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]venue.OpenOrder, len(rows))
	for i, r := range rows {
		out[i] = venue.OpenOrder{
			OrderID:  r.OrderID,
			Symbol:   r.Symbol,
			Side:     model.Side(r.Side),
			Price:    r.Price,
			Quantity: r.Quantity,
			Status:   model.OrderStatus(r.Status),
		}
	}
	return out, nil
}

// OrderHistory fetches one order's status, fill and fee record; the Fee
// Reconciler uses it to confirm that its top-up order filled.
func (c *Client) OrderHistory(ctx context.Context, orderID string) (*venue.HistoryRecord, error) {
	raw, err := c.get(ctx, "/orders/"+orderID)
	if err != nil {
		return nil, err
	}
	var r struct {
		OrderID          string          `json:"order_id"`
		Status           string          `json:"status"`
		ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
		ExecutedFee      decimal.Decimal `json:"executed_fee"`
		AvgPrice         decimal.Decimal `json:"avg_price"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &venue.HistoryRecord{
		OrderID:          r.OrderID,
		Status:           model.OrderStatus(r.Status),
		ExecutedQuantity: r.ExecutedQuantity,
		ExecutedFee:      r.ExecutedFee,
		AvgPrice:         r.AvgPrice,
	}, nil
}

// wsEvent mirrors Venue-A's documented stream schema (spec.md §6).
type wsEvent struct {
	OrderID           string `json:"order_id"`
	Symbol            string `json:"symbol"`
	Status            string `json:"status"` // New, Filled, PartiallyFilled, Cancelled, Rejected
	Price             string `json:"price"`
	CumulativeExecQty string `json:"cumulative_executed_qty"`
	CumulativeExecFee string `json:"cumulative_executed_fee"`
	RejectReason      string `json:"reject_reason"`
}

func translateStatus(s string) model.OrderStatus {
	switch s {
	case "New":
		return model.StatusOpen
	case "Filled":
		return model.StatusFilled
	case "PartiallyFilled":
		return model.StatusOpen
	case "Cancelled":
		return model.StatusCancelled
	case "Rejected":
		return model.StatusRejected
	default:
		return model.StatusOpen
	}
}

// Subscribe dials Venue-A's order stream and normalizes events onto a
// StreamEvent channel, following the teacher's connectionLoop/readLoop
// reconnect idiom from feeds/polymarket_ws.go.
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

		conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
		if err != nil {
			log.Warn().Err(err).Msg("venue-a stream dial failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		c.readEvents(ctx, conn, out)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
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
			log.Warn().Err(err).Msg("venue-a stream read error")
			return
		}

		var ev wsEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}

		qty, _ := decimal.NewFromString(ev.CumulativeExecQty)
		fee, _ := decimal.NewFromString(ev.CumulativeExecFee)
		price, _ := decimal.NewFromString(ev.Price)

		select {
		case out <- venue.StreamEvent{
			Venue:            model.VenueA,
			EventID:          ev.OrderID + ":" + ev.Status,
			OrderID:          ev.OrderID,
			Status:           translateStatus(ev.Status),
			ExecutedQuantity: qty,
			ExecutedFee:      fee,
			Price:            price,
			RejectReason:     ev.RejectReason,
			RawPayload:       string(msg),
			Timestamp:        time.Now(),
		}:
		case <-ctx.Done():
			return
		}
	}
}

// ═══════════════════════════════════════════════════════════════════
// HTTP HELPERS — get/post with HMAC L2 auth, retry on transport/5xx
// ═══════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req, nil)
	return c.doRequestWithRetry(req, nil)
}

func (c *Client) postWithRetry(ctx context.Context, path string, body any, out any) error {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
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

// addHeaders attaches HMAC-SHA256 L2 auth headers, following the
// teacher's addHeaders/hmacSign in exec/client.go.
func (c *Client) addHeaders(req *http.Request, body []byte) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-AUTH-APIKEY", c.apiKey)
	req.Header.Set("X-AUTH-TIMESTAMP", timestamp)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path + string(body)
		req.Header.Set("X-AUTH-SIGNATURE", c.hmacSign(message))
	}
}

func (c *Client) hmacSign(message string) string {
	key, err := base64.URLEncoding.DecodeString(c.apiSecret)
	if err != nil {
		key = []byte(c.apiSecret)
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// doRequestWithRetry retries transport errors and 5xx responses with
// the 2s/4s/8s ladder, max 3 retries (spec.md §4.1). req's body (if
// any) is re-armed from rawBody before each retry since http.Request
// bodies are single-use.
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
			lastErr = fmt.Errorf("venue-a HTTP %d: %s", resp.StatusCode, string(b))
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("venue-a HTTP %d: %s", resp.StatusCode, string(b))
		}

		return b, nil
	}
	return nil, fmt.Errorf("venue-a request failed after %d attempts: %w", retryMax+1, lastErr)
}
