package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
	"github.com/vitos/crypto_trade_ai/internal/events"
	"github.com/vitos/crypto_trade_ai/internal/infrastructure/metrics"
)

const defaultPaperBalance = 10000 // USDT

type ExecutorConfig struct {
	Mode             string  // "paper" or "real"
	PaperBalance     float64 // starting paper balance, USDT
	DefaultOrderSize float64 // quote amount per open, USDT
}

// TradeExecutor applies reasoning decisions to the market: it opens, scales
// and closes positions, records trades, and keeps signals in step. All
// position closes go through Close, which claims the position in storage
// before any order is sent, so concurrent close paths cannot double-execute.
type TradeExecutor struct {
	signals   domain.SignalRepository
	positions domain.PositionRepository
	trades    domain.TradeRepository
	orders    domain.OrderClient // nil in paper mode
	feed      domain.MarketFeed
	bus       *events.Bus
	logger    *zap.Logger
	cfg       ExecutorConfig

	mu           sync.Mutex
	paperBalance float64
	closeLocks   map[string]*sync.Mutex
}

func NewTradeExecutor(
	signals domain.SignalRepository,
	positions domain.PositionRepository,
	trades domain.TradeRepository,
	orders domain.OrderClient,
	feed domain.MarketFeed,
	bus *events.Bus,
	logger *zap.Logger,
	cfg ExecutorConfig,
) *TradeExecutor {
	if cfg.PaperBalance <= 0 {
		cfg.PaperBalance = defaultPaperBalance
	}
	if cfg.DefaultOrderSize <= 0 {
		cfg.DefaultOrderSize = 100
	}
	return &TradeExecutor{
		signals:      signals,
		positions:    positions,
		trades:       trades,
		orders:       orders,
		feed:         feed,
		bus:          bus,
		logger:       logger,
		cfg:          cfg,
		paperBalance: cfg.PaperBalance,
		closeLocks:   make(map[string]*sync.Mutex),
	}
}

func (e *TradeExecutor) PaperBalance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paperBalance
}

// ApplyDecision routes one reasoning decision. For a watching signal position
// is nil and only the open/close-watch tags act; for an open position only the
// position-action tags act. Unknown tags are logged and ignored.
func (e *TradeExecutor) ApplyDecision(ctx context.Context, trader *domain.Trader, signal *domain.Signal, position *domain.Position, decision *domain.Decision) error {
	if position == nil {
		switch decision.Decision {
		case domain.DecisionOpenLong:
			return e.openPosition(ctx, trader, signal, domain.SideLong, decision)
		case domain.DecisionOpenShort:
			return e.openPosition(ctx, trader, signal, domain.SideShort, decision)
		case domain.DecisionCloseWatch:
			return e.closeWatch(ctx, signal)
		default:
			e.logger.Debug("Decision keeps signal watching",
				zap.String("signal_id", signal.ID),
				zap.String("decision", decision.Decision))
			return nil
		}
	}

	switch decision.Decision {
	case domain.DecisionClose:
		price := e.currentPrice(position.Symbol, position.EntryPrice)
		return e.Close(ctx, position, price, domain.CloseReasonAIRecommendation)
	case domain.DecisionPartialClose:
		return e.partialClose(ctx, position, decision)
	case domain.DecisionScaleIn:
		return e.scaleIn(ctx, position, decision)
	case domain.DecisionScaleOut:
		return e.partialClose(ctx, position, decision)
	case domain.DecisionFlipPosition:
		return e.flip(ctx, trader, signal, position, decision)
	case domain.DecisionUpdateStopLoss:
		return e.updateStopLoss(ctx, position, decision)
	case domain.DecisionUpdateTakeProfit:
		return e.updateTakeProfit(ctx, position, decision)
	default:
		e.logger.Debug("Decision keeps position unchanged",
			zap.String("position_id", position.ID),
			zap.String("decision", decision.Decision))
		return nil
	}
}

func (e *TradeExecutor) openPosition(ctx context.Context, trader *domain.Trader, signal *domain.Signal, side domain.Side, decision *domain.Decision) error {
	price := e.currentPrice(signal.Symbol, signal.CurrentPrice)
	if price <= 0 {
		return fmt.Errorf("no price for %s", signal.Symbol)
	}

	quote := e.cfg.DefaultOrderSize
	if v, ok := decision.FloatMeta("positionSize"); ok && v > 0 {
		quote = v
	}
	size := quote / price

	orderSide := domain.OrderBuy
	if side == domain.SideShort {
		orderSide = domain.OrderSell
	}

	trade, err := e.execute(ctx, "", signal.UserID, signal.Symbol, orderSide, size, price)
	if err != nil {
		return err
	}

	position := &domain.Position{
		ID:         uuid.NewString(),
		SignalID:   signal.ID,
		UserID:     signal.UserID,
		Symbol:     signal.Symbol,
		Side:       side,
		EntryPrice: trade.Price,
		Size:       size,
		Status:     domain.PositionOpen,
		OpenedAt:   time.Now().UTC(),
	}
	if v, ok := decision.FloatMeta("stopLoss"); ok {
		position.StopLoss = v
	}
	if v, ok := decision.FloatMeta("takeProfit"); ok {
		position.TakeProfit = v
	}
	if v, ok := decision.FloatMeta("trailingStop"); ok {
		position.TrailingStop = v
	}

	if err := e.positions.CreatePosition(ctx, position); err != nil {
		if errors.Is(err, domain.ErrOpenPositionExists) {
			e.logger.Warn("Signal already has an open position",
				zap.String("signal_id", signal.ID))
		}
		return err
	}

	trade.PositionID = position.ID
	if err := e.trades.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("Failed to save opening trade", zap.Error(err))
	}

	if err := e.signals.UpdateSignal(ctx, signal.ID, domain.SignalPositionOpen, trade.Price); err != nil {
		e.logger.Error("Failed to advance signal", zap.String("signal_id", signal.ID), zap.Error(err))
	}

	e.debitPaper(quote)
	metrics.PositionsOpened.Inc()
	metrics.OpenPositions.Inc()
	e.bus.PublishPositionOpened(position)
	e.bus.PublishTradeExecuted(trade)

	e.logger.Info("Position opened",
		zap.String("position_id", position.ID),
		zap.String("symbol", position.Symbol),
		zap.String("side", string(side)),
		zap.Float64("entry", position.EntryPrice),
		zap.Float64("size", position.Size),
		zap.Int("confidence", decision.Confidence))
	return nil
}

func (e *TradeExecutor) closeWatch(ctx context.Context, signal *domain.Signal) error {
	if err := e.signals.CloseSignal(ctx, signal.ID, domain.CloseReasonAIRecommendation); err != nil {
		return err
	}
	e.logger.Info("Signal closed without position", zap.String("signal_id", signal.ID))
	return nil
}

// Close settles a position at exitPrice. The storage close is conditional, so
// of two racing closers exactly one reaches the order step; the loser gets
// ErrPositionClosed back and must not retry.
func (e *TradeExecutor) Close(ctx context.Context, position *domain.Position, exitPrice float64, reason string) error {
	return e.close(ctx, position, exitPrice, reason, true)
}

func (e *TradeExecutor) close(ctx context.Context, position *domain.Position, exitPrice float64, reason string, closeSignal bool) error {
	lock := e.closeLock(position.ID)
	lock.Lock()
	defer lock.Unlock()

	// Settle against the stored state, not the caller's snapshot: a scale
	// that landed since the caller loaded the position changed size and entry,
	// and both the realized PNL and the closing quantity must reflect it.
	if current, err := e.positions.GetPosition(ctx, position.ID); err == nil {
		position = current
	}

	pnl, pnlPercent := position.ComputePNL(exitPrice)

	if err := e.positions.ClosePosition(ctx, position.ID, exitPrice, pnl, pnlPercent, reason); err != nil {
		if errors.Is(err, domain.ErrPositionClosed) {
			e.logger.Debug("Position already closed", zap.String("position_id", position.ID))
		}
		return err
	}

	orderSide := domain.OrderSell
	if position.Side == domain.SideShort {
		orderSide = domain.OrderBuy
	}
	trade, err := e.execute(ctx, position.ID, position.UserID, position.Symbol, orderSide, position.Size, exitPrice)
	if err != nil {
		// The position is already closed in storage; record the failed fill.
		e.logger.Error("Closing order failed", zap.String("position_id", position.ID), zap.Error(err))
		e.bus.PublishError("executor", "closing order failed", err)
	} else if err := e.trades.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("Failed to save closing trade", zap.Error(err))
	}

	if closeSignal {
		if err := e.signals.CloseSignal(ctx, position.SignalID, reason); err != nil {
			e.logger.Error("Failed to close signal", zap.String("signal_id", position.SignalID), zap.Error(err))
		}
	}

	e.creditPaper(position.EntryPrice*position.Size + pnl)
	metrics.PositionsClosed.WithLabelValues(reason).Inc()
	metrics.OpenPositions.Dec()

	closed := *position
	closed.Status = domain.PositionClosed
	closed.ExitPrice = exitPrice
	closed.PNL = pnl
	closed.PNLPercent = pnlPercent
	closed.CloseReason = reason
	now := time.Now().UTC()
	closed.ClosedAt = &now
	e.bus.PublishPositionClosed(&closed)
	if trade != nil {
		e.bus.PublishTradeExecuted(trade)
	}

	e.logger.Info("Position closed",
		zap.String("position_id", position.ID),
		zap.String("reason", reason),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", pnl),
		zap.Float64("pnl_pct", pnlPercent))
	return nil
}

// partialClose reduces the position by the decision's closePercentage. A full
// percentage falls through to a normal close.
func (e *TradeExecutor) partialClose(ctx context.Context, position *domain.Position, decision *domain.Decision) error {
	pct, ok := decision.FloatMeta("closePercentage")
	if !ok || pct <= 0 || pct > 100 {
		e.logger.Warn("Partial close without a usable percentage",
			zap.String("position_id", position.ID))
		return nil
	}

	price := e.currentPrice(position.Symbol, position.EntryPrice)
	if pct >= 100 {
		return e.Close(ctx, position, price, domain.CloseReasonAIRecommendation)
	}

	closeSize := position.Size * pct / 100
	orderSide := domain.OrderSell
	if position.Side == domain.SideShort {
		orderSide = domain.OrderBuy
	}
	trade, err := e.execute(ctx, position.ID, position.UserID, position.Symbol, orderSide, closeSize, price)
	if err != nil {
		return err
	}
	if err := e.trades.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("Failed to save partial close trade", zap.Error(err))
	}

	realized, _ := (&domain.Position{Side: position.Side, EntryPrice: position.EntryPrice, Size: closeSize}).ComputePNL(price)
	position.Size -= closeSize
	if err := e.positions.UpdatePosition(ctx, position); err != nil {
		return err
	}

	e.creditPaper(position.EntryPrice*closeSize + realized)
	e.bus.PublishTradeExecuted(trade)

	e.logger.Info("Position reduced",
		zap.String("position_id", position.ID),
		zap.Float64("percent", pct),
		zap.Float64("remaining", position.Size),
		zap.Float64("realized_pnl", realized))
	return nil
}

// scaleIn adds to the position by scaleInAmount (quote units) and moves the
// entry to the volume-weighted average.
func (e *TradeExecutor) scaleIn(ctx context.Context, position *domain.Position, decision *domain.Decision) error {
	quote, ok := decision.FloatMeta("scaleInAmount")
	if !ok || quote <= 0 {
		e.logger.Warn("Scale in without a usable amount",
			zap.String("position_id", position.ID))
		return nil
	}

	price := e.currentPrice(position.Symbol, position.EntryPrice)
	addSize := quote / price

	orderSide := domain.OrderBuy
	if position.Side == domain.SideShort {
		orderSide = domain.OrderSell
	}
	trade, err := e.execute(ctx, position.ID, position.UserID, position.Symbol, orderSide, addSize, price)
	if err != nil {
		return err
	}
	if err := e.trades.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("Failed to save scale-in trade", zap.Error(err))
	}

	total := position.Size + addSize
	position.EntryPrice = (position.EntryPrice*position.Size + trade.Price*addSize) / total
	position.Size = total
	if err := e.positions.UpdatePosition(ctx, position); err != nil {
		return err
	}

	e.debitPaper(quote)
	e.bus.PublishTradeExecuted(trade)

	e.logger.Info("Position scaled in",
		zap.String("position_id", position.ID),
		zap.Float64("added", addSize),
		zap.Float64("entry", position.EntryPrice))
	return nil
}

// flip closes the position and opens the opposite side on the same signal.
// The signal stays position_open throughout.
func (e *TradeExecutor) flip(ctx context.Context, trader *domain.Trader, signal *domain.Signal, position *domain.Position, decision *domain.Decision) error {
	price := e.currentPrice(position.Symbol, position.EntryPrice)
	if err := e.close(ctx, position, price, domain.CloseReasonFlip, false); err != nil {
		return err
	}

	side := domain.SideShort
	if position.Side == domain.SideShort {
		side = domain.SideLong
	}

	flipSignal := *signal
	flipSignal.CurrentPrice = price
	return e.openFlipped(ctx, &flipSignal, side, decision, price)
}

// openFlipped is openPosition without the signal transition, which already
// happened when the original position opened.
func (e *TradeExecutor) openFlipped(ctx context.Context, signal *domain.Signal, side domain.Side, decision *domain.Decision, price float64) error {
	quote := e.cfg.DefaultOrderSize
	if v, ok := decision.FloatMeta("positionSize"); ok && v > 0 {
		quote = v
	}
	size := quote / price

	orderSide := domain.OrderBuy
	if side == domain.SideShort {
		orderSide = domain.OrderSell
	}
	trade, err := e.execute(ctx, "", signal.UserID, signal.Symbol, orderSide, size, price)
	if err != nil {
		return err
	}

	position := &domain.Position{
		ID:         uuid.NewString(),
		SignalID:   signal.ID,
		UserID:     signal.UserID,
		Symbol:     signal.Symbol,
		Side:       side,
		EntryPrice: trade.Price,
		Size:       size,
		Status:     domain.PositionOpen,
		OpenedAt:   time.Now().UTC(),
	}
	if v, ok := decision.FloatMeta("stopLoss"); ok {
		position.StopLoss = v
	}
	if v, ok := decision.FloatMeta("takeProfit"); ok {
		position.TakeProfit = v
	}
	if v, ok := decision.FloatMeta("trailingStop"); ok {
		position.TrailingStop = v
	}

	if err := e.positions.CreatePosition(ctx, position); err != nil {
		return err
	}
	trade.PositionID = position.ID
	if err := e.trades.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("Failed to save flip trade", zap.Error(err))
	}

	e.debitPaper(quote)
	metrics.PositionsOpened.Inc()
	metrics.OpenPositions.Inc()
	e.bus.PublishPositionOpened(position)
	e.bus.PublishTradeExecuted(trade)

	e.logger.Info("Position flipped",
		zap.String("position_id", position.ID),
		zap.String("side", string(side)))
	return nil
}

// updateStopLoss moves the stop to the decision's stopLoss. On a trailing
// position a move that would loosen the stop is rejected: the trail only
// tightens and the reasoning service does not get to undo that.
func (e *TradeExecutor) updateStopLoss(ctx context.Context, position *domain.Position, decision *domain.Decision) error {
	newStop, ok := decision.FloatMeta("stopLoss")
	if !ok || newStop <= 0 {
		e.logger.Warn("Stop update without a usable stopLoss",
			zap.String("position_id", position.ID))
		return nil
	}

	if position.TrailingStop > 0 && loosensStop(position, newStop) {
		e.logger.Warn("Rejected stop update that loosens a trailing stop",
			zap.String("position_id", position.ID),
			zap.Float64("current", position.StopLoss),
			zap.Float64("requested", newStop))
		return nil
	}

	position.StopLoss = newStop
	if err := e.positions.UpdatePosition(ctx, position); err != nil {
		return err
	}
	e.logger.Info("Stop loss updated",
		zap.String("position_id", position.ID),
		zap.Float64("stop_loss", newStop))
	return nil
}

func (e *TradeExecutor) updateTakeProfit(ctx context.Context, position *domain.Position, decision *domain.Decision) error {
	newTarget, ok := decision.FloatMeta("takeProfit")
	if !ok || newTarget <= 0 {
		e.logger.Warn("Target update without a usable takeProfit",
			zap.String("position_id", position.ID))
		return nil
	}

	position.TakeProfit = newTarget
	if err := e.positions.UpdatePosition(ctx, position); err != nil {
		return err
	}
	e.logger.Info("Take profit updated",
		zap.String("position_id", position.ID),
		zap.Float64("take_profit", newTarget))
	return nil
}

func loosensStop(position *domain.Position, newStop float64) bool {
	if position.StopLoss == 0 {
		return false
	}
	if position.Side == domain.SideLong {
		return newStop < position.StopLoss
	}
	return newStop > position.StopLoss
}

// execute fills a market order. Paper mode fills instantly at the reference
// price; real mode routes through the order client.
func (e *TradeExecutor) execute(ctx context.Context, positionID, userID, symbol, side string, quantity, refPrice float64) (*domain.Trade, error) {
	trade := &domain.Trade{
		ID:         uuid.NewString(),
		PositionID: positionID,
		UserID:     userID,
		Type:       domain.TradePaper,
		Side:       side,
		Symbol:     symbol,
		Quantity:   quantity,
		Price:      refPrice,
		Status:     domain.TradeFilled,
		ExecutedAt: time.Now().UTC(),
	}

	if e.cfg.Mode == "real" && e.orders != nil {
		trade.Type = domain.TradeReal
		orderRef, fillPrice, err := e.orders.PlaceMarketOrder(ctx, symbol, side, quantity)
		if err != nil {
			trade.Status = domain.TradeFailed
			trade.ErrorMessage = err.Error()
			if saveErr := e.trades.SaveTrade(ctx, trade); saveErr != nil {
				e.logger.Error("Failed to save failed trade", zap.Error(saveErr))
			}
			metrics.TradesExecuted.WithLabelValues(string(trade.Type)).Inc()
			return nil, err
		}
		trade.OrderRef = orderRef
		if fillPrice > 0 {
			trade.Price = fillPrice
		}
	} else {
		trade.OrderRef = "paper-" + trade.ID
	}

	metrics.TradesExecuted.WithLabelValues(string(trade.Type)).Inc()
	return trade, nil
}

func (e *TradeExecutor) currentPrice(symbol string, fallback float64) float64 {
	if price, ok := e.feed.LastPrice(symbol); ok && price > 0 {
		return price
	}
	return fallback
}

func (e *TradeExecutor) closeLock(positionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.closeLocks[positionID]
	if !ok {
		lock = &sync.Mutex{}
		e.closeLocks[positionID] = lock
	}
	return lock
}

func (e *TradeExecutor) debitPaper(quote float64) {
	e.mu.Lock()
	e.paperBalance -= quote
	e.mu.Unlock()
}

func (e *TradeExecutor) creditPaper(quote float64) {
	e.mu.Lock()
	e.paperBalance += quote
	e.mu.Unlock()
}
