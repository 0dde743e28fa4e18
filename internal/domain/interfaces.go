package domain

import (
	"context"
	"time"
)

// TraderRepository defines storage operations for strategy configs.
type TraderRepository interface {
	ListActiveTraders(ctx context.Context) ([]*Trader, error)
	GetTrader(ctx context.Context, id string) (*Trader, error)
	UpdateTraderError(ctx context.Context, id, errorMessage string) error
}

// SignalRepository defines storage operations for signals.
type SignalRepository interface {
	CreateSignal(ctx context.Context, signal *Signal) error
	GetSignal(ctx context.Context, id string) (*Signal, error)
	// UpdateSignal advances status and refreshes the current price. Backward
	// transitions return ErrSignalRegression.
	UpdateSignal(ctx context.Context, id string, status SignalStatus, currentPrice float64) error
	// UpdateSignalPrice refreshes the current price without touching status.
	UpdateSignalPrice(ctx context.Context, id string, currentPrice float64) error
	CloseSignal(ctx context.Context, id, reason string) error
	ListWatchingSignals(ctx context.Context, traderID string) ([]*Signal, error)
}

// PositionRepository defines storage operations for positions.
type PositionRepository interface {
	// CreatePosition returns ErrOpenPositionExists if the signal already has
	// an open position.
	CreatePosition(ctx context.Context, position *Position) error
	UpdatePosition(ctx context.Context, position *Position) error
	// UpdateStopLoss moves only the stop on an open position, leaving size and
	// entry untouched. The trailing monitor uses it so its snapshot can never
	// overwrite a concurrent scale operation.
	UpdateStopLoss(ctx context.Context, id string, stopLoss float64) error
	// ClosePosition is conditional on status=open and returns
	// ErrPositionClosed when another closer won the race.
	ClosePosition(ctx context.Context, id string, exitPrice, pnl, pnlPercent float64, reason string) error
	GetPosition(ctx context.Context, id string) (*Position, error)
	ListOpenPositions(ctx context.Context) ([]*Position, error)
}

// TradeRepository defines storage operations for trades.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTradesByPosition(ctx context.Context, positionID string) ([]*Trade, error)
}

// AnalysisRepository appends reasoning-service decisions to history.
type AnalysisRepository interface {
	SaveAnalysis(ctx context.Context, analysis *Analysis) error
}

// Analyzer is the external reasoning service.
type Analyzer interface {
	Analyze(ctx context.Context, req *AnalysisRequest) (*Decision, error)
}

// MarketFeed provides live prices and candle history.
type MarketFeed interface {
	LastPrice(symbol string) (float64, bool)
	GetTicker(symbol string) (Ticker, bool)
	Klines(symbol, timeframe string, limit int) []Candle
	Symbols() []string
	OnPriceUpdate(callback func(symbol string, price float64))
	Subscribe(symbols []string) error
	IsConnected() bool
	LastUpdate() time.Time
}

// ConditionChecker evaluates a strategy's entry condition for one symbol.
// The condition language itself is outside this module.
type ConditionChecker interface {
	Check(ctx context.Context, trader *Trader, data *MarketData) (bool, error)
}

// OrderClient routes real orders to an execution venue.
type OrderClient interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (orderRef string, fillPrice float64, err error)
}
