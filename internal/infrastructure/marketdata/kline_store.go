package marketdata

import (
	"sync"
	"time"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

const defaultMaxCandles = 500

// KlineStore keeps a bounded in-memory candle history per symbol and
// timeframe. Writers merge REST snapshots, readers get copies.
type KlineStore struct {
	mu         sync.RWMutex
	data       map[string]map[string][]domain.Candle
	lastUpdate map[string]time.Time
	maxCandles int
}

func NewKlineStore(maxCandles int) *KlineStore {
	if maxCandles <= 0 {
		maxCandles = defaultMaxCandles
	}
	return &KlineStore{
		data:       make(map[string]map[string][]domain.Candle),
		lastUpdate: make(map[string]time.Time),
		maxCandles: maxCandles,
	}
}

// Merge folds a chronological candle batch into the stored history. A candle
// with a known open time replaces the stored one (the bar was still forming),
// newer candles append. History is trimmed to the newest maxCandles.
func (s *KlineStore) Merge(symbol, timeframe string, candles []domain.Candle) {
	if len(candles) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byTimeframe, ok := s.data[symbol]
	if !ok {
		byTimeframe = make(map[string][]domain.Candle)
		s.data[symbol] = byTimeframe
	}

	stored := byTimeframe[timeframe]
	for _, c := range candles {
		if n := len(stored); n > 0 && stored[n-1].Time >= c.Time {
			// Walk back over bars the batch replaces.
			i := n - 1
			for i > 0 && stored[i-1].Time >= c.Time {
				i--
			}
			if stored[i].Time == c.Time {
				stored[i] = c
				continue
			}
			continue
		}
		stored = append(stored, c)
	}

	if len(stored) > s.maxCandles {
		stored = stored[len(stored)-s.maxCandles:]
	}
	byTimeframe[timeframe] = stored
	s.lastUpdate[symbol] = time.Now()
}

// Klines returns up to limit newest candles, oldest first. limit <= 0 returns
// the full stored history.
func (s *KlineStore) Klines(symbol, timeframe string, limit int) []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.data[symbol][timeframe]
	if len(stored) == 0 {
		return nil
	}
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}

	out := make([]domain.Candle, len(stored))
	copy(out, stored)
	return out
}

func (s *KlineStore) LastUpdate(symbol string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate[symbol]
}
