package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
	"github.com/vitos/crypto_trade_ai/internal/events"
	"github.com/vitos/crypto_trade_ai/internal/infrastructure/metrics"
)

const (
	scanConcurrency = 10
	klineLimit      = 100
)

// ScannerService runs one scan loop per active strategy. Each tick it checks
// the strategy's entry condition across its symbols, creates a signal when the
// condition fires, and asks the reasoning service what to do with it.
type ScannerService struct {
	traders  domain.TraderRepository
	signals  domain.SignalRepository
	analyses domain.AnalysisRepository
	analyzer domain.Analyzer
	checker  domain.ConditionChecker
	feed     domain.MarketFeed
	executor *TradeExecutor
	bus      *events.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	stops   map[string]chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

func NewScannerService(
	traders domain.TraderRepository,
	signals domain.SignalRepository,
	analyses domain.AnalysisRepository,
	analyzer domain.Analyzer,
	checker domain.ConditionChecker,
	feed domain.MarketFeed,
	executor *TradeExecutor,
	bus *events.Bus,
	logger *zap.Logger,
) *ScannerService {
	return &ScannerService{
		traders:  traders,
		signals:  signals,
		analyses: analyses,
		analyzer: analyzer,
		checker:  checker,
		feed:     feed,
		executor: executor,
		bus:      bus,
		logger:   logger,
		stops:    make(map[string]chan struct{}),
	}
}

// AddStrategy starts the scan loop for one strategy. An unknown check
// interval marks the strategy errored and refuses to start it.
func (s *ScannerService) AddStrategy(ctx context.Context, trader *domain.Trader) error {
	interval, err := domain.ParseInterval(trader.CheckInterval)
	if err != nil {
		if updateErr := s.traders.UpdateTraderError(ctx, trader.ID, err.Error()); updateErr != nil {
			s.logger.Error("Failed to record strategy error", zap.Error(updateErr))
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scanner is stopped")
	}
	if _, ok := s.stops[trader.ID]; ok {
		return nil
	}

	stop := make(chan struct{})
	s.stops[trader.ID] = stop
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info("Strategy scan started",
			zap.String("trader_id", trader.ID),
			zap.String("interval", trader.CheckInterval))

		for {
			select {
			case <-ticker.C:
				if err := s.Scan(context.Background(), trader); err != nil {
					s.logger.Error("Scan failed",
						zap.String("trader_id", trader.ID),
						zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// RemoveStrategy stops the strategy's loop. In-flight scans finish.
func (s *ScannerService) RemoveStrategy(traderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.stops[traderID]; ok {
		close(stop)
		delete(s.stops, traderID)
		s.logger.Info("Strategy scan stopped", zap.String("trader_id", traderID))
	}
}

// Running returns the ids of strategies with an active loop.
func (s *ScannerService) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.stops))
	for id := range s.stops {
		out = append(out, id)
	}
	return out
}

func (s *ScannerService) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, stop := range s.stops {
		close(stop)
		delete(s.stops, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Scan fans out over the strategy's symbols with bounded concurrency. Symbols
// that already carry a live signal for this strategy are skipped.
func (s *ScannerService) Scan(ctx context.Context, trader *domain.Trader) error {
	symbols := trader.Symbols
	if len(symbols) == 0 {
		symbols = s.feed.Symbols()
	}
	if len(symbols) == 0 {
		return nil
	}

	watching, err := s.signals.ListWatchingSignals(ctx, trader.ID)
	if err != nil {
		return fmt.Errorf("failed to list watching signals: %w", err)
	}
	busy := make(map[string]bool, len(watching))
	for _, sig := range watching {
		busy[sig.Symbol] = true
	}

	var (
		wg   sync.WaitGroup
		sem  = make(chan struct{}, scanConcurrency)
		emu  sync.Mutex
		errs error
	)
	for _, symbol := range symbols {
		if busy[symbol] {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.scanSymbol(ctx, trader, symbol); err != nil {
				emu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", symbol, err))
				emu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()
	return errs
}

func (s *ScannerService) scanSymbol(ctx context.Context, trader *domain.Trader, symbol string) error {
	data := BuildMarketData(s.feed, symbol, trader.Timeframes, klineLimit)
	if data == nil {
		return nil
	}

	triggered, err := s.checker.Check(ctx, trader, data)
	if err != nil {
		return fmt.Errorf("condition check failed: %w", err)
	}
	if !triggered {
		return nil
	}

	now := time.Now().UTC()
	signal := &domain.Signal{
		ID:           uuid.NewString(),
		TraderID:     trader.ID,
		UserID:       trader.UserID,
		Symbol:       symbol,
		Timestamp:    now,
		Status:       domain.SignalNew,
		TriggerPrice: data.Ticker.LastPrice,
		CurrentPrice: data.Ticker.LastPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.signals.CreateSignal(ctx, signal); err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}
	if err := s.signals.UpdateSignal(ctx, signal.ID, domain.SignalWatching, signal.CurrentPrice); err != nil {
		return fmt.Errorf("failed to advance signal: %w", err)
	}
	signal.Status = domain.SignalWatching

	metrics.SignalsTriggered.Inc()
	s.bus.PublishSignalTriggered(signal)
	s.logger.Info("Signal triggered",
		zap.String("trader_id", trader.ID),
		zap.String("symbol", symbol),
		zap.Float64("price", signal.TriggerPrice))

	return s.Analyze(ctx, trader, signal, nil, data)
}

// Analyze asks the reasoning service about a signal (and its open position,
// if any), records the decision, and applies it. A rejected analysis is
// recoverable: the signal stays watching and the next cycle retries.
func (s *ScannerService) Analyze(ctx context.Context, trader *domain.Trader, signal *domain.Signal, position *domain.Position, data *domain.MarketData) error {
	decision, err := s.analyzer.Analyze(ctx, &domain.AnalysisRequest{
		TraderID:   trader.ID,
		SignalID:   signal.ID,
		MarketData: *data,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAnalysisRejected) {
			metrics.AnalysisCalls.WithLabelValues("rejected").Inc()
			s.logger.Debug("Analysis rejected, will retry",
				zap.String("signal_id", signal.ID),
				zap.Error(err))
			return nil
		}
		metrics.AnalysisCalls.WithLabelValues("error").Inc()
		s.bus.PublishError("analysis", "analysis call failed", err)
		return err
	}
	metrics.AnalysisCalls.WithLabelValues("ok").Inc()

	record := &domain.Analysis{
		ID:         uuid.NewString(),
		SignalID:   signal.ID,
		TraderID:   trader.ID,
		UserID:     trader.UserID,
		Decision:   decision.Decision,
		Reasoning:  decision.Reasoning,
		Confidence: decision.Confidence,
		Metadata:   decision.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.analyses.SaveAnalysis(ctx, record); err != nil {
		s.logger.Error("Failed to save analysis", zap.Error(err))
	}

	s.bus.PublishAnalysisCompleted(signal, decision)
	return s.executor.ApplyDecision(ctx, trader, signal, position, decision)
}

// BuildMarketData assembles the market context sent to the reasoning service.
// Returns nil when no price is known for the symbol yet.
func BuildMarketData(feed domain.MarketFeed, symbol string, timeframes []string, limit int) *domain.MarketData {
	price, ok := feed.LastPrice(symbol)
	if !ok || price <= 0 {
		return nil
	}

	ticker, _ := feed.GetTicker(symbol)
	ticker.Symbol = symbol
	ticker.LastPrice = price

	klines := make(map[string][]domain.Candle, len(timeframes))
	for _, tf := range timeframes {
		if candles := feed.Klines(symbol, tf, limit); len(candles) > 0 {
			klines[tf] = candles
		}
	}

	data := &domain.MarketData{
		Symbol:     symbol,
		Timestamp:  time.Now().Unix(),
		Ticker:     ticker,
		Klines:     klines,
		Indicators: map[string]float64{},
	}

	// Indicators come from the shortest timeframe with history.
	for _, tf := range timeframes {
		candles := klines[tf]
		if len(candles) == 0 {
			continue
		}
		if sma, ok := closeSMA(candles, 20); ok {
			data.Indicators["sma20_"+tf] = sma
		}
		if rsi, ok := closeRSI(candles, 14); ok {
			data.Indicators["rsi14_"+tf] = rsi
		}
	}
	return data
}

func closeSMA(candles []domain.Candle, period int) (float64, bool) {
	if len(candles) < period {
		return 0, false
	}
	var sum float64
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period), true
}

func closeRSI(candles []domain.Candle, period int) (float64, bool) {
	if len(candles) < period+1 {
		return 0, false
	}
	var gains, losses float64
	tail := candles[len(candles)-period-1:]
	for i := 1; i < len(tail); i++ {
		delta := tail[i].Close - tail[i-1].Close
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100, true
	}
	rs := gains / losses
	return 100 - 100/(1+rs), true
}
