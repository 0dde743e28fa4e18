package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

func candle(ts int64, close float64) domain.Candle {
	return domain.Candle{Time: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestKlineStoreMergeAndTrim(t *testing.T) {
	store := NewKlineStore(3)

	store.Merge("BTCUSDT", "5m", []domain.Candle{candle(100, 1), candle(200, 2)})
	store.Merge("BTCUSDT", "5m", []domain.Candle{candle(200, 2.5), candle(300, 3), candle(400, 4)})

	got := store.Klines("BTCUSDT", "5m", 0)
	if len(got) != 3 {
		t.Fatalf("expected history trimmed to 3, got %d", len(got))
	}
	if got[0].Time != 200 || got[0].Close != 2.5 {
		t.Errorf("forming bar must be replaced: %+v", got[0])
	}
	if got[2].Time != 400 {
		t.Errorf("newest candle = %d, want 400", got[2].Time)
	}

	if got := store.Klines("BTCUSDT", "5m", 2); len(got) != 2 || got[0].Time != 300 {
		t.Errorf("limit must return newest candles: %+v", got)
	}
	if got := store.Klines("ETHUSDT", "5m", 0); got != nil {
		t.Errorf("unknown symbol must return nil, got %+v", got)
	}
	if store.LastUpdate("BTCUSDT").IsZero() {
		t.Error("LastUpdate must be set after merge")
	}
}

func TestFeedTickerStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Wait for the subscribe op, then push one ticker frame.
		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub["op"] != "subscribe" {
			t.Errorf("expected subscribe op, got %v", sub["op"])
		}

		conn.WriteJSON(map[string]interface{}{
			"topic": "tickers.BTCUSDT",
			"data": map[string]interface{}{
				"symbol":       "BTCUSDT",
				"lastPrice":    "50123.5",
				"volume24h":    "1000",
				"price24hPcnt": "0.015",
			},
		})

		// Hold the connection open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	feed := NewFeed("", wsURL, NewKlineStore(0), zap.NewNop())
	defer feed.Close()

	updates := make(chan float64, 1)
	feed.OnPriceUpdate(func(symbol string, price float64) {
		if symbol == "BTCUSDT" {
			updates <- price
		}
	})

	if err := feed.Subscribe([]string{"BTCUSDT"}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if !feed.IsConnected() {
		t.Error("feed should report connected after subscribe")
	}

	select {
	case price := <-updates:
		if price != 50123.5 {
			t.Errorf("price = %f, want 50123.5", price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for price update")
	}

	if price, ok := feed.LastPrice("BTCUSDT"); !ok || price != 50123.5 {
		t.Errorf("LastPrice = (%f, %v)", price, ok)
	}
	ticker, ok := feed.GetTicker("BTCUSDT")
	if !ok || ticker.Volume24h != 1000 || ticker.PriceChange24hPct != 1.5 {
		t.Errorf("ticker mismatch: %+v", ticker)
	}
	if feed.LastUpdate().IsZero() {
		t.Error("LastUpdate must advance on ticks")
	}
}

func TestFeedRefreshKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/kline" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("interval"); got != "5" {
			t.Errorf("interval = %s, want 5", got)
		}
		// Newest first, as the exchange returns them.
		w.Write([]byte(`{"retCode":0,"result":{"list":[
			["120000","2","2","2","2","10","0"],
			["60000","1","1","1","1","10","0"]
		]}}`))
	}))
	defer server.Close()

	store := NewKlineStore(0)
	feed := NewFeed(server.URL, "", store, zap.NewNop())

	if err := feed.RefreshKlines(context.Background(), "BTCUSDT", "5m", 2); err != nil {
		t.Fatalf("RefreshKlines failed: %v", err)
	}

	got := store.Klines("BTCUSDT", "5m", 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(got))
	}
	if got[0].Time != 60 || got[1].Time != 120 {
		t.Errorf("candles must be chronological in seconds: %+v", got)
	}

	if err := feed.RefreshKlines(context.Background(), "BTCUSDT", "2m", 2); err == nil {
		t.Error("unknown timeframe must fail")
	}
}
