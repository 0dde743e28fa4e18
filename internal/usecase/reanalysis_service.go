package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

// AnalyzeFunc runs the full analysis pipeline for one signal: call the
// reasoning service, record the decision, apply it.
type AnalyzeFunc func(ctx context.Context, trader *domain.Trader, signal *domain.Signal, position *domain.Position, data *domain.MarketData) error

// ReanalysisService periodically revisits everything a strategy is committed
// to: watching signals that have not opened yet, and open positions that may
// need managing. It reuses the scanner's analysis pipeline.
type ReanalysisService struct {
	signals   domain.SignalRepository
	positions domain.PositionRepository
	feed      domain.MarketFeed
	analyze   AnalyzeFunc
	logger    *zap.Logger

	mu      sync.Mutex
	stops   map[string]chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

func NewReanalysisService(
	signals domain.SignalRepository,
	positions domain.PositionRepository,
	feed domain.MarketFeed,
	analyze AnalyzeFunc,
	logger *zap.Logger,
) *ReanalysisService {
	return &ReanalysisService{
		signals:   signals,
		positions: positions,
		feed:      feed,
		analyze:   analyze,
		logger:    logger,
		stops:     make(map[string]chan struct{}),
	}
}

// AddStrategy starts the reanalysis loop for one strategy.
func (r *ReanalysisService) AddStrategy(trader *domain.Trader) error {
	interval, err := domain.ParseInterval(trader.ReanalysisInterval)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("reanalysis is stopped")
	}
	if _, ok := r.stops[trader.ID]; ok {
		return nil
	}

	stop := make(chan struct{})
	r.stops[trader.ID] = stop
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("Reanalysis started",
			zap.String("trader_id", trader.ID),
			zap.String("interval", trader.ReanalysisInterval))

		for {
			select {
			case <-ticker.C:
				r.RunOnce(context.Background(), trader)
			case <-stop:
				return
			}
		}
	}()

	return nil
}

func (r *ReanalysisService) RemoveStrategy(traderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stop, ok := r.stops[traderID]; ok {
		close(stop)
		delete(r.stops, traderID)
		r.logger.Info("Reanalysis stopped", zap.String("trader_id", traderID))
	}
}

func (r *ReanalysisService) Stop() {
	r.mu.Lock()
	r.stopped = true
	for id, stop := range r.stops {
		close(stop)
		delete(r.stops, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// RunOnce revisits the strategy's watching signals, then its open positions.
// Failures are per-item: one bad symbol does not stop the rest.
func (r *ReanalysisService) RunOnce(ctx context.Context, trader *domain.Trader) {
	watching, err := r.signals.ListWatchingSignals(ctx, trader.ID)
	if err != nil {
		r.logger.Error("Failed to list watching signals",
			zap.String("trader_id", trader.ID), zap.Error(err))
		return
	}

	for _, signal := range watching {
		data := BuildMarketData(r.feed, signal.Symbol, trader.Timeframes, klineLimit)
		if data == nil {
			continue
		}
		if err := r.signals.UpdateSignalPrice(ctx, signal.ID, data.Ticker.LastPrice); err != nil {
			r.logger.Error("Failed to refresh signal price",
				zap.String("signal_id", signal.ID), zap.Error(err))
		}
		signal.CurrentPrice = data.Ticker.LastPrice

		if err := r.analyze(ctx, trader, signal, nil, data); err != nil {
			r.logger.Error("Reanalysis of signal failed",
				zap.String("signal_id", signal.ID), zap.Error(err))
		}
	}

	open, err := r.positions.ListOpenPositions(ctx)
	if err != nil {
		r.logger.Error("Failed to list open positions",
			zap.String("trader_id", trader.ID), zap.Error(err))
		return
	}

	for _, position := range open {
		signal, err := r.signals.GetSignal(ctx, position.SignalID)
		if err != nil {
			r.logger.Error("Failed to load position signal",
				zap.String("position_id", position.ID), zap.Error(err))
			continue
		}
		if signal.TraderID != trader.ID {
			continue
		}

		data := BuildMarketData(r.feed, position.Symbol, trader.Timeframes, klineLimit)
		if data == nil {
			continue
		}
		if err := r.analyze(ctx, trader, signal, position, data); err != nil {
			r.logger.Error("Reanalysis of position failed",
				zap.String("position_id", position.ID), zap.Error(err))
		}
	}
}
