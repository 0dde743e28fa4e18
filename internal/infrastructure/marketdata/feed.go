package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
)

// Feed streams live prices over the Bybit V5 public websocket and serves
// candle history fetched over REST. It implements domain.MarketFeed.
type Feed struct {
	baseURL string
	wsURL   string
	client  *http.Client
	klines  *KlineStore
	logger  *zap.Logger

	mu         sync.RWMutex
	wsConn     *websocket.Conn
	connected  bool
	subscribed map[string]bool
	prices     map[string]float64
	tickers    map[string]domain.Ticker
	callbacks  []func(symbol string, price float64)
	lastUpdate time.Time
	closed     bool
}

func NewFeed(baseURL, wsURL string, klines *KlineStore, logger *zap.Logger) *Feed {
	return &Feed{
		baseURL:    baseURL,
		wsURL:      wsURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		klines:     klines,
		logger:     logger,
		subscribed: make(map[string]bool),
		prices:     make(map[string]float64),
		tickers:    make(map[string]domain.Ticker),
	}
}

func (f *Feed) OnPriceUpdate(callback func(symbol string, price float64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

// Subscribe dials the websocket on first use and subscribes ticker streams
// for any symbols not yet subscribed.
func (f *Feed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var fresh []string
	for _, s := range symbols {
		if !f.subscribed[s] {
			f.subscribed[s] = true
			fresh = append(fresh, s)
		}
	}

	if f.wsConn == nil {
		c, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
		if err != nil {
			return err
		}
		f.wsConn = c
		f.connected = true
		go f.readLoop(c)

		// Fresh connection: subscribe everything we track.
		fresh = fresh[:0]
		for s := range f.subscribed {
			fresh = append(fresh, s)
		}
	}

	return f.sendSubscribe(fresh)
}

func (f *Feed) sendSubscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "tickers." + s
	}
	return f.wsConn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
}

func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *Feed) LastUpdate() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastUpdate
}

func (f *Feed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[symbol]
	return price, ok
}

func (f *Feed) GetTicker(symbol string) (domain.Ticker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tickers[symbol]
	return t, ok
}

func (f *Feed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		out = append(out, s)
	}
	return out
}

func (f *Feed) Klines(symbol, timeframe string, limit int) []domain.Candle {
	return f.klines.Klines(symbol, timeframe, limit)
}

func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.wsConn != nil {
		return f.wsConn.Close()
	}
	return nil
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			f.connected = false
			f.wsConn = nil
			closed := f.closed
			f.mu.Unlock()

			if !closed {
				f.logger.Warn("Market feed disconnected", zap.Error(err))
				go f.reconnect()
			}
			return
		}
		f.handleMessage(message)
	}
}

func (f *Feed) reconnect() {
	for {
		time.Sleep(5 * time.Second)

		f.mu.RLock()
		closed := f.closed
		f.mu.RUnlock()
		if closed {
			return
		}

		if err := f.Subscribe(nil); err != nil {
			f.logger.Warn("Market feed reconnect failed", zap.Error(err))
			continue
		}
		f.logger.Info("Market feed reconnected")
		return
	}
}

type tickerData struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Volume24h    string `json:"volume24h"`
	Price24hPcnt string `json:"price24hPcnt"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
}

func (f *Feed) handleMessage(message []byte) {
	var event struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &event); err != nil || event.Topic == "" {
		return
	}

	var data tickerData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		f.logger.Debug("Unparseable ticker payload", zap.String("topic", event.Topic))
		return
	}
	if data.Symbol == "" {
		return
	}

	price, err := strconv.ParseFloat(data.LastPrice, 64)

	f.mu.Lock()
	ticker := f.tickers[data.Symbol]
	ticker.Symbol = data.Symbol
	if err == nil {
		ticker.LastPrice = price
		f.prices[data.Symbol] = price
	}
	// Delta frames omit unchanged fields; keep the previous values.
	if v, err := strconv.ParseFloat(data.Volume24h, 64); err == nil {
		ticker.Volume24h = v
	}
	if v, err := strconv.ParseFloat(data.Price24hPcnt, 64); err == nil {
		ticker.PriceChange24hPct = v * 100
	}
	if v, err := strconv.ParseFloat(data.HighPrice24h, 64); err == nil {
		ticker.High24h = v
	}
	if v, err := strconv.ParseFloat(data.LowPrice24h, 64); err == nil {
		ticker.Low24h = v
	}
	f.tickers[data.Symbol] = ticker
	f.lastUpdate = time.Now()

	callbacks := make([]func(string, float64), len(f.callbacks))
	copy(callbacks, f.callbacks)
	f.mu.Unlock()

	if err != nil {
		return
	}
	for _, cb := range callbacks {
		cb(data.Symbol, price)
	}
}

// --- REST ---

// RefreshKlines pulls the latest candles for one symbol and timeframe and
// merges them into the store.
func (f *Feed) RefreshKlines(ctx context.Context, symbol, timeframe string, limit int) error {
	interval, err := bybitInterval(timeframe)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&limit=%d", symbol, interval, limit)
	body, err := f.get(ctx, path)
	if err != nil {
		return err
	}

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return err
	}
	if result.RetCode != 0 {
		return fmt.Errorf("kline error: retCode %d", result.RetCode)
	}

	var candles []domain.Candle
	for _, raw := range result.Result.List {
		// [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePrice, _ := strconv.ParseFloat(raw[4], 64)
		volume, _ := strconv.ParseFloat(raw[5], 64)

		candles = append(candles, domain.Candle{
			Time:   ts / 1000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	// Newest first on the wire; the store expects chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	f.klines.Merge(symbol, timeframe, candles)
	return nil
}

// FetchPrice reads the last price over REST, used before the stream has
// delivered a tick for the symbol.
func (f *Feed) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := f.get(ctx, "/v5/market/tickers?category=linear&symbol="+symbol)
	if err != nil {
		return 0, err
	}

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []tickerData `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	if len(result.Result.List) == 0 {
		return 0, fmt.Errorf("symbol not found: %s", symbol)
	}

	price, err := strconv.ParseFloat(result.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()

	return price, nil
}

func (f *Feed) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("market API error: %s", string(body))
	}
	return body, nil
}

// bybitInterval maps strategy timeframes to Bybit V5 kline intervals.
func bybitInterval(timeframe string) (string, error) {
	switch timeframe {
	case "1m":
		return "1", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "4h":
		return "240", nil
	case "1d":
		return "D", nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownInterval, timeframe)
}
