package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
	"github.com/vitos/crypto_trade_ai/internal/events"
)

const monitorTick = 1 * time.Second

// PositionMonitor enforces stop-loss, take-profit and trailing stops on every
// open position once per second. It keeps its own in-memory snapshot of open
// positions, fed from storage at startup and from bus events afterwards.
// A close that loses the race to another closer just drops the position from
// the snapshot; a close that fails for other reasons stays tracked and is
// retried next tick.
type PositionMonitor struct {
	positions domain.PositionRepository
	feed      domain.MarketFeed
	executor  *TradeExecutor
	bus       *events.Bus
	logger    *zap.Logger

	mu      sync.RWMutex
	tracked map[string]*domain.Position

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewPositionMonitor(
	positions domain.PositionRepository,
	feed domain.MarketFeed,
	executor *TradeExecutor,
	bus *events.Bus,
	logger *zap.Logger,
) *PositionMonitor {
	return &PositionMonitor{
		positions: positions,
		feed:      feed,
		executor:  executor,
		bus:       bus,
		logger:    logger,
		tracked:   make(map[string]*domain.Position),
		stop:      make(chan struct{}),
	}
}

// Start loads open positions from storage, wires bus subscriptions and runs
// the tick loop.
func (m *PositionMonitor) Start(ctx context.Context) error {
	open, err := m.positions.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, p := range open {
		copied := *p
		m.tracked[p.ID] = &copied
	}
	m.mu.Unlock()

	if err := m.bus.SubscribePositionOpened(func(p *domain.Position) error {
		m.Track(p)
		return nil
	}); err != nil {
		return err
	}
	if err := m.bus.SubscribePositionClosed(func(p *domain.Position) error {
		m.Untrack(p.ID)
		return nil
	}); err != nil {
		return err
	}
	// Scale operations change size and entry without a position event; reload
	// the tracked copy whenever one of its trades executes.
	if err := m.bus.SubscribeTradeExecuted(func(tr *domain.Trade) error {
		m.refresh(context.Background(), tr.PositionID)
		return nil
	}); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.loop()

	m.logger.Info("Position monitor started", zap.Int("open_positions", len(open)))
	return nil
}

func (m *PositionMonitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *PositionMonitor) Track(p *domain.Position) {
	copied := *p
	m.mu.Lock()
	m.tracked[p.ID] = &copied
	m.mu.Unlock()
}

// refresh replaces the tracked copy with the stored state. Positions that
// closed meanwhile are dropped.
func (m *PositionMonitor) refresh(ctx context.Context, positionID string) {
	m.mu.RLock()
	_, ok := m.tracked[positionID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	position, err := m.positions.GetPosition(ctx, positionID)
	if err != nil {
		m.logger.Error("Failed to refresh tracked position",
			zap.String("position_id", positionID), zap.Error(err))
		return
	}
	if position.Status != domain.PositionOpen {
		m.Untrack(positionID)
		return
	}
	m.Track(position)
}

func (m *PositionMonitor) Untrack(id string) {
	m.mu.Lock()
	delete(m.tracked, id)
	m.mu.Unlock()
}

// Views returns the tracked positions with live PNL, sorted by open time.
func (m *PositionMonitor) Views() []domain.PositionStatusView {
	m.mu.RLock()
	views := make([]domain.PositionStatusView, 0, len(m.tracked))
	for _, p := range m.tracked {
		view := domain.PositionStatusView{Position: *p}
		if price, ok := m.feed.LastPrice(p.Symbol); ok {
			view.CurrentPrice = price
			view.CurrentPNL, view.CurrentPNLPercent = p.ComputePNL(price)
		}
		views = append(views, view)
	}
	m.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].Position.OpenedAt.Before(views[j].Position.OpenedAt)
	})
	return views
}

func (m *PositionMonitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckAll(context.Background())
		case <-m.stop:
			return
		}
	}
}

// CheckAll evaluates every tracked position against its last price. The
// snapshot is copied first so closes do not run under the lock.
func (m *PositionMonitor) CheckAll(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]*domain.Position, 0, len(m.tracked))
	for _, p := range m.tracked {
		copied := *p
		snapshot = append(snapshot, &copied)
	}
	m.mu.RUnlock()

	for _, position := range snapshot {
		price, ok := m.feed.LastPrice(position.Symbol)
		if !ok || price <= 0 {
			continue
		}
		m.check(ctx, position, price)
	}
}

// check applies the exit rules in priority order: stop-loss, take-profit,
// then trailing adjustment.
func (m *PositionMonitor) check(ctx context.Context, position *domain.Position, price float64) {
	if position.StopLossHit(price) {
		m.closeTracked(ctx, position, price, domain.CloseReasonStopLoss)
		return
	}
	if position.TakeProfitHit(price) {
		m.closeTracked(ctx, position, price, domain.CloseReasonTakeProfit)
		return
	}

	if newStop, tightens := position.TrailedStop(price); tightens {
		// Stop-only update: the snapshot may lag a concurrent scale, so size
		// and entry must never be written from here.
		if err := m.positions.UpdateStopLoss(ctx, position.ID, newStop); err != nil {
			m.logger.Error("Failed to persist trailed stop",
				zap.String("position_id", position.ID), zap.Error(err))
			return
		}
		m.mu.Lock()
		if tracked, ok := m.tracked[position.ID]; ok {
			tracked.StopLoss = newStop
		}
		m.mu.Unlock()
		m.logger.Debug("Trailing stop tightened",
			zap.String("position_id", position.ID),
			zap.Float64("stop_loss", newStop))
	}
}

func (m *PositionMonitor) closeTracked(ctx context.Context, position *domain.Position, price float64, reason string) {
	err := m.executor.Close(ctx, position, price, reason)
	if err == nil || errors.Is(err, domain.ErrPositionClosed) {
		m.Untrack(position.ID)
		return
	}
	// Transient failure: stay tracked, retry next tick.
	m.logger.Error("Failed to close position, will retry",
		zap.String("position_id", position.ID),
		zap.String("reason", reason),
		zap.Error(err))
}
