// Package kraken implements the exchange gateway: public market data,
// private balance and order endpoints, request signing, and a typed error
// classification for every failure mode.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo-sub000/internal/assets"
	"github.com/raymondclowe/ttslo-sub000/internal/logger"
	"github.com/raymondclowe/ttslo-sub000/internal/models"
)

// ClientConfig tunes transport behavior.
type ClientConfig struct {
	MaxRetries          int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Client is the concrete Kraken REST gateway.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	nonce      func() int64
}

// NewClient creates a Kraken client. apiKey/apiSecret may be empty for a
// read-only (public endpoints only) client.
func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		nonce:      func() int64 { return time.Now().UnixNano() / int64(time.Microsecond) },
	}
}

// HasWriteCredentials reports whether the client can sign private requests.
func (c *Client) HasWriteCredentials() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// krakenResponse is the common envelope of every Kraken REST response.
type krakenResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// call performs one request with transient-error retry, returning the raw
// result payload. Application-level rejections come back as *ExchangeError,
// transport failures as *APIError.
func (c *Client) call(ctx context.Context, op, path string, form url.Values, private bool) (json.RawMessage, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}
		result, err := c.doOnce(ctx, op, path, form, private)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		logger.Debug("Retrying %s after transient error (attempt %d/%d): %v", op, attempt+1, c.maxRetries, err)
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, op, path string, form url.Values, private bool) (json.RawMessage, error) {
	var req *http.Request
	var err error

	if private {
		if !c.HasWriteCredentials() {
			return nil, fmt.Errorf("kraken %s: no API credentials configured", op)
		}
		nonce := strconv.FormatInt(c.nonce(), 10)
		form.Set("nonce", nonce)
		body := form.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("kraken %s: build request: %w", op, err)
		}
		sig, sigErr := c.sign(path, nonce, body)
		if sigErr != nil {
			return nil, fmt.Errorf("kraken %s: sign request: %w", op, sigErr)
		}
		req.Header.Set("API-Key", c.apiKey)
		req.Header.Set("API-Sign", sig)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		u := c.baseURL + path
		if len(form) > 0 {
			u += "?" + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("kraken %s: build request: %w", op, err)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(op, err, c.timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &APIError{Kind: KindRateLimit, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP 429")}
	}
	if resp.StatusCode >= 500 {
		return nil, &APIError{Kind: KindServer, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(op, err, c.timeout)
	}
	var envelope krakenResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &APIError{Kind: KindUnknown, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(envelope.Error) > 0 {
		for _, code := range envelope.Error {
			if strings.HasPrefix(code, "EAPI:Rate limit") {
				return nil, &APIError{Kind: KindRateLimit, Op: op, Err: fmt.Errorf("%s", code)}
			}
		}
		return nil, &ExchangeError{Op: op, Codes: envelope.Error}
	}
	return envelope.Result, nil
}

// sign produces the API-Sign header: HMAC-SHA512 of path + SHA256(nonce +
// postdata), keyed with the base64-decoded secret.
func (c *Client) sign(path, nonce, body string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.apiSecret)
	if err != nil {
		return "", fmt.Errorf("invalid API secret: %w", err)
	}
	sha := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// GetCurrentPrice returns the last-trade price for one pair.
func (c *Client) GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	prices, err := c.GetCurrentPricesBatch(ctx, []string{pair})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("kraken ticker: no price returned for %s", pair)
	}
	return price, nil
}

// GetCurrentPricesBatch returns last-trade prices for several pairs in one
// ticker call. Pairs the exchange does not recognize are absent from the
// result map.
func (c *Client) GetCurrentPricesBatch(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	if len(pairs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	form := url.Values{"pair": {strings.Join(pairs, ",")}}
	result, err := c.call(ctx, "ticker", "/0/public/Ticker", form, false)
	if err != nil {
		return nil, err
	}

	var tickers map[string]struct {
		Last []string `json:"c"`
	}
	if err := json.Unmarshal(result, &tickers); err != nil {
		return nil, &APIError{Kind: KindUnknown, Op: "ticker", Err: fmt.Errorf("decode ticker: %w", err)}
	}

	prices := make(map[string]decimal.Decimal, len(tickers))
	for returned, t := range tickers {
		if len(t.Last) == 0 {
			continue
		}
		price, err := decimal.NewFromString(t.Last[0])
		if err != nil {
			continue
		}
		// The exchange may echo a normalized symbol; map it back onto the
		// requested pair so callers can index by what they asked for.
		key := returned
		for _, requested := range pairs {
			if strings.EqualFold(requested, returned) ||
				assets.BaseAsset(requested) == assets.BaseAsset(returned) &&
					assets.QuoteAsset(requested) == assets.QuoteAsset(returned) {
				key = requested
				break
			}
		}
		prices[key] = price
	}
	return prices, nil
}

// GetOHLC returns OHLC candles for the pair at the given interval.
func (c *Client) GetOHLC(ctx context.Context, pair string, intervalMinutes int) ([]Candle, error) {
	form := url.Values{
		"pair":     {pair},
		"interval": {strconv.Itoa(intervalMinutes)},
	}
	result, err := c.call(ctx, "ohlc", "/0/public/OHLC", form, false)
	if err != nil {
		return nil, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, &APIError{Kind: KindUnknown, Op: "ohlc", Err: fmt.Errorf("decode ohlc: %w", err)}
	}

	var candles []Candle
	for key, raw := range payload {
		if key == "last" {
			continue
		}
		var rows [][]json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			continue
		}
		for _, row := range rows {
			// [time, open, high, low, close, vwap, volume, count]
			if len(row) < 7 {
				continue
			}
			var ts int64
			var open, high, low, closePx, volume string
			if json.Unmarshal(row[0], &ts) != nil ||
				json.Unmarshal(row[1], &open) != nil ||
				json.Unmarshal(row[2], &high) != nil ||
				json.Unmarshal(row[3], &low) != nil ||
				json.Unmarshal(row[4], &closePx) != nil ||
				json.Unmarshal(row[6], &volume) != nil {
				continue
			}
			candle := Candle{Time: time.Unix(ts, 0)}
			var perr error
			if candle.Open, perr = decimal.NewFromString(open); perr != nil {
				continue
			}
			if candle.High, perr = decimal.NewFromString(high); perr != nil {
				continue
			}
			if candle.Low, perr = decimal.NewFromString(low); perr != nil {
				continue
			}
			if candle.Close, perr = decimal.NewFromString(closePx); perr != nil {
				continue
			}
			if candle.Volume, perr = decimal.NewFromString(volume); perr != nil {
				continue
			}
			candles = append(candles, candle)
		}
	}
	return candles, nil
}

// ListKnownPairs returns every tradable pair symbol the exchange knows,
// including alternate names.
func (c *Client) ListKnownPairs(ctx context.Context) ([]string, error) {
	result, err := c.call(ctx, "asset_pairs", "/0/public/AssetPairs", nil, false)
	if err != nil {
		return nil, err
	}
	var payload map[string]struct {
		Altname string `json:"altname"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, &APIError{Kind: KindUnknown, Op: "asset_pairs", Err: fmt.Errorf("decode asset pairs: %w", err)}
	}
	pairs := make([]string, 0, len(payload)*2)
	for name, info := range payload {
		pairs = append(pairs, name)
		if info.Altname != "" && info.Altname != name {
			pairs = append(pairs, info.Altname)
		}
	}
	return pairs, nil
}

// GetAssetPairInfo returns order-minimum metadata for one pair.
func (c *Client) GetAssetPairInfo(ctx context.Context, pair string) (*PairInfo, error) {
	form := url.Values{"pair": {pair}}
	result, err := c.call(ctx, "asset_pair_info", "/0/public/AssetPairs", form, false)
	if err != nil {
		return nil, err
	}
	var payload map[string]struct {
		OrderMin     string `json:"ordermin"`
		PairDecimals int    `json:"pair_decimals"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, &APIError{Kind: KindUnknown, Op: "asset_pair_info", Err: fmt.Errorf("decode pair info: %w", err)}
	}
	for _, info := range payload {
		minimum, err := decimal.NewFromString(info.OrderMin)
		if err != nil {
			return nil, fmt.Errorf("kraken asset_pair_info: bad ordermin %q for %s", info.OrderMin, pair)
		}
		return &PairInfo{Pair: pair, OrderMinimum: minimum, PairDecimals: info.PairDecimals}, nil
	}
	return nil, fmt.Errorf("kraken asset_pair_info: pair not found: %s", pair)
}

// GetBalance returns the raw wallet-key to amount map from the private
// Balance endpoint. Spot and funding sub-wallets appear as separate keys.
func (c *Client) GetBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	result, err := c.call(ctx, "balance", "/0/private/Balance", url.Values{}, true)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, &APIError{Kind: KindUnknown, Op: "balance", Err: fmt.Errorf("decode balance: %w", err)}
	}
	balances := make(map[string]decimal.Decimal, len(raw))
	for key, amount := range raw {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			logger.Warn("Skipping unparseable balance %s=%q", key, amount)
			continue
		}
		balances[key] = d
	}
	return balances, nil
}

// GetNormalizedBalances aggregates the raw balance map by canonical asset,
// summing wallet variants: {XXBT: 0, XBT.F: 0.01} becomes {BTC: 0.01}.
func (c *Client) GetNormalizedBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	raw, err := c.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	return NormalizeBalances(raw), nil
}

// NormalizeBalances sums a raw wallet-key balance map by canonical asset.
func NormalizeBalances(raw map[string]decimal.Decimal) map[string]decimal.Decimal {
	normalized := make(map[string]decimal.Decimal, len(raw))
	for key, amount := range raw {
		asset := assets.NormalizeAsset(key)
		normalized[asset] = normalized[asset].Add(amount)
	}
	return normalized
}

// OrderPriceRange scans the user's open and recently closed orders for the
// pair and returns the lowest and highest order price seen with the count
// of data points. Used by the fat-finger validator rule only.
func (c *Client) OrderPriceRange(ctx context.Context, pair string) (decimal.Decimal, decimal.Decimal, int, error) {
	low, high := decimal.Zero, decimal.Zero
	count := 0

	scan := func(result json.RawMessage, key string) {
		var payload map[string]json.RawMessage
		if json.Unmarshal(result, &payload) != nil {
			return
		}
		var orders map[string]struct {
			Descr struct {
				Pair  string `json:"pair"`
				Price string `json:"price"`
			} `json:"descr"`
		}
		if raw, ok := payload[key]; ok {
			if json.Unmarshal(raw, &orders) != nil {
				return
			}
		}
		want := assets.BaseAsset(pair) + assets.QuoteAsset(pair)
		for _, o := range orders {
			got := assets.BaseAsset(o.Descr.Pair) + assets.QuoteAsset(o.Descr.Pair)
			if got != want {
				continue
			}
			price, err := decimal.NewFromString(o.Descr.Price)
			if err != nil || !price.IsPositive() {
				continue
			}
			if count == 0 || price.LessThan(low) {
				low = price
			}
			if count == 0 || price.GreaterThan(high) {
				high = price
			}
			count++
		}
	}

	openRes, err := c.call(ctx, "open_orders", "/0/private/OpenOrders", url.Values{}, true)
	if err != nil {
		return decimal.Zero, decimal.Zero, 0, err
	}
	scan(openRes, "open")

	closedRes, err := c.call(ctx, "closed_orders", "/0/private/ClosedOrders", url.Values{}, true)
	if err != nil {
		// Open orders alone are still a usable reference.
		return low, high, count, nil
	}
	scan(closedRes, "closed")

	return low, high, count, nil
}

// AddTrailingStopOrder submits a trailing-stop order and returns the
// exchange order id. The offset is expressed as a relative percentage
// ("+5.0%"); the trigger reference defaults to index.
func (c *Client) AddTrailingStopOrder(ctx context.Context, req OrderRequest) (string, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerIndex
	}
	form := url.Values{
		"ordertype": {"trailing-stop"},
		"type":      {string(req.Direction)},
		"pair":      {req.Pair},
		"volume":    {req.Volume.String()},
		"price":     {"+" + req.OffsetPct.String() + "%"},
		"trigger":   {string(trigger)},
	}
	result, err := c.call(ctx, "add_order", "/0/private/AddOrder", form, true)
	if err != nil {
		return "", err
	}
	var payload struct {
		Txid []string `json:"txid"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", &APIError{Kind: KindUnknown, Op: "add_order", Err: fmt.Errorf("decode add order: %w", err)}
	}
	if len(payload.Txid) == 0 {
		return "", fmt.Errorf("kraken add_order: no transaction id returned")
	}
	return payload.Txid[0], nil
}

// QueryOrderByID returns the current status of one order.
func (c *Client) QueryOrderByID(ctx context.Context, orderID string) (*models.OrderInfo, error) {
	form := url.Values{"txid": {orderID}}
	result, err := c.call(ctx, "query_orders", "/0/private/QueryOrders", form, true)
	if err != nil {
		return nil, err
	}
	var payload map[string]struct {
		Status  string `json:"status"`
		VolExec string `json:"vol_exec"`
		Price   string `json:"price"`
		Descr   struct {
			Pair  string `json:"pair"`
			Type  string `json:"type"`
			Price string `json:"price"`
		} `json:"descr"`
		Vol string `json:"vol"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, &APIError{Kind: KindUnknown, Op: "query_orders", Err: fmt.Errorf("decode order query: %w", err)}
	}
	raw, ok := payload[orderID]
	if !ok {
		return nil, fmt.Errorf("kraken query_orders: order not found: %s", orderID)
	}
	info := &models.OrderInfo{
		OrderID:   orderID,
		Status:    raw.Status,
		Pair:      raw.Descr.Pair,
		Direction: models.Direction(raw.Descr.Type),
	}
	if v, err := decimal.NewFromString(raw.Vol); err == nil {
		info.Volume = v
	}
	if v, err := decimal.NewFromString(raw.VolExec); err == nil {
		info.FilledVolume = v
	}
	if v, err := decimal.NewFromString(raw.Price); err == nil {
		info.AvgFillPrice = v
	}
	if v, err := decimal.NewFromString(raw.Descr.Price); err == nil {
		info.Price = v
	}
	return info, nil
}

var _ Gateway = (*Client)(nil)
