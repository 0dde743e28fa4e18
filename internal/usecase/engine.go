package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
	"github.com/vitos/crypto_trade_ai/internal/events"
)

const klineRefreshInterval = time.Minute

// KlineRefresher pulls candle history for one symbol and timeframe.
type KlineRefresher interface {
	RefreshKlines(ctx context.Context, symbol, timeframe string, limit int) error
}

// Engine owns the lifecycle of the whole trading loop: it loads active
// strategies, subscribes their market data, starts the scan, reanalysis and
// monitor loops, and tears everything down in order on shutdown.
type Engine struct {
	traders    domain.TraderRepository
	scanner    *ScannerService
	reanalysis *ReanalysisService
	monitor    *PositionMonitor
	feed       domain.MarketFeed
	refresher  KlineRefresher
	bus        *events.Bus
	logger     *zap.Logger

	mu     sync.Mutex
	active map[string]*domain.Trader

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewEngine(
	traders domain.TraderRepository,
	scanner *ScannerService,
	reanalysis *ReanalysisService,
	monitor *PositionMonitor,
	feed domain.MarketFeed,
	refresher KlineRefresher,
	bus *events.Bus,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		traders:    traders,
		scanner:    scanner,
		reanalysis: reanalysis,
		monitor:    monitor,
		feed:       feed,
		refresher:  refresher,
		bus:        bus,
		logger:     logger,
		active:     make(map[string]*domain.Trader),
		stop:       make(chan struct{}),
	}
}

// Start brings the engine up: market data first, then the monitor, then the
// per-strategy loops, so nothing evaluates against an empty feed.
func (e *Engine) Start(ctx context.Context) error {
	traders, err := e.traders.ListActiveTraders(ctx)
	if err != nil {
		return err
	}

	if err := e.subscribeMarketData(ctx, traders); err != nil {
		e.logger.Error("Market data subscription failed", zap.Error(err))
	}

	if err := e.monitor.Start(ctx); err != nil {
		return err
	}

	for _, trader := range traders {
		e.startStrategy(ctx, trader)
	}

	e.wg.Add(1)
	go e.refreshLoop()

	e.logger.Info("Engine started", zap.Int("strategies", len(e.runningIDs())))
	return nil
}

// Reload re-reads active strategies from storage and diffs them against the
// running set: new ones start, removed ones stop, changed ones restart.
func (e *Engine) Reload(ctx context.Context) (added, removed int, err error) {
	traders, err := e.traders.ListActiveTraders(ctx)
	if err != nil {
		return 0, 0, err
	}

	fresh := make(map[string]*domain.Trader, len(traders))
	for _, t := range traders {
		fresh[t.ID] = t
	}

	e.mu.Lock()
	var toStart, toStop []*domain.Trader
	for id, current := range e.active {
		next, ok := fresh[id]
		if !ok {
			toStop = append(toStop, current)
			continue
		}
		if !next.UpdatedAt.Equal(current.UpdatedAt) {
			toStop = append(toStop, current)
			toStart = append(toStart, next)
		}
	}
	for id, next := range fresh {
		if _, ok := e.active[id]; !ok {
			toStart = append(toStart, next)
		}
	}
	e.mu.Unlock()

	for _, trader := range toStop {
		e.stopStrategy(trader.ID)
	}
	if err := e.subscribeMarketData(ctx, traders); err != nil {
		e.logger.Error("Market data subscription failed on reload", zap.Error(err))
	}
	for _, trader := range toStart {
		e.startStrategy(ctx, trader)
	}

	e.logger.Info("Strategies reloaded",
		zap.Int("started", len(toStart)),
		zap.Int("stopped", len(toStop)))
	return len(toStart), len(toStop), nil
}

// Shutdown stops the loops in reverse of startup and drains async event
// handlers before returning. The final open position snapshot is logged so an
// operator can see what was left running.
func (e *Engine) Shutdown(ctx context.Context) {
	close(e.stop)
	e.scanner.Stop()
	e.reanalysis.Stop()
	e.monitor.Stop()
	e.wg.Wait()
	e.bus.WaitAsync()

	for _, view := range e.monitor.Views() {
		e.logger.Info("Open position at shutdown",
			zap.String("position_id", view.Position.ID),
			zap.String("symbol", view.Position.Symbol),
			zap.String("side", string(view.Position.Side)),
			zap.Float64("unrealized_pnl", view.CurrentPNL))
	}
	e.logger.Info("Engine stopped")
}

// ActiveStrategies returns the currently running strategy configs.
func (e *Engine) ActiveStrategies() []*domain.Trader {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Trader, 0, len(e.active))
	for _, t := range e.active {
		out = append(out, t)
	}
	return out
}

func (e *Engine) startStrategy(ctx context.Context, trader *domain.Trader) {
	if err := e.scanner.AddStrategy(ctx, trader); err != nil {
		e.logger.Error("Failed to start strategy scan",
			zap.String("trader_id", trader.ID), zap.Error(err))
		return
	}
	if err := e.reanalysis.AddStrategy(trader); err != nil {
		e.logger.Error("Failed to start strategy reanalysis",
			zap.String("trader_id", trader.ID), zap.Error(err))
		e.scanner.RemoveStrategy(trader.ID)
		return
	}

	e.mu.Lock()
	e.active[trader.ID] = trader
	e.mu.Unlock()
}

func (e *Engine) stopStrategy(traderID string) {
	e.scanner.RemoveStrategy(traderID)
	e.reanalysis.RemoveStrategy(traderID)
	e.mu.Lock()
	delete(e.active, traderID)
	e.mu.Unlock()
}

func (e *Engine) runningIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.active))
	for id := range e.active {
		out = append(out, id)
	}
	return out
}

// subscribeMarketData subscribes the union of all strategy symbols and warms
// the candle history for every (symbol, timeframe) pair in use.
func (e *Engine) subscribeMarketData(ctx context.Context, traders []*domain.Trader) error {
	symbols := make(map[string][]string) // symbol -> timeframes
	for _, trader := range traders {
		for _, symbol := range trader.Symbols {
			symbols[symbol] = appendUnique(symbols[symbol], trader.Timeframes)
		}
	}
	if len(symbols) == 0 {
		return nil
	}

	list := make([]string, 0, len(symbols))
	for symbol := range symbols {
		list = append(list, symbol)
	}
	if err := e.feed.Subscribe(list); err != nil {
		return err
	}

	if e.refresher == nil {
		return nil
	}
	for symbol, timeframes := range symbols {
		for _, tf := range timeframes {
			if err := e.refresher.RefreshKlines(ctx, symbol, tf, klineLimit); err != nil {
				e.logger.Warn("Kline warmup failed",
					zap.String("symbol", symbol),
					zap.String("timeframe", tf),
					zap.Error(err))
			}
		}
	}
	return nil
}

// refreshLoop keeps the candle history current for every running strategy.
func (e *Engine) refreshLoop() {
	defer e.wg.Done()
	if e.refresher == nil {
		return
	}
	ticker := time.NewTicker(klineRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.subscribeMarketData(context.Background(), e.ActiveStrategies()); err != nil {
				e.logger.Warn("Kline refresh failed", zap.Error(err))
			}
		case <-e.stop:
			return
		}
	}
}

func appendUnique(existing []string, add []string) []string {
	for _, a := range add {
		found := false
		for _, ex := range existing {
			if ex == a {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, a)
		}
	}
	return existing
}
