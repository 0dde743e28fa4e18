package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

// MockSignalRepo
type MockSignalRepo struct {
	mu      sync.Mutex
	Signals map[string]*domain.Signal
}

func NewMockSignalRepo() *MockSignalRepo {
	return &MockSignalRepo{Signals: make(map[string]*domain.Signal)}
}

func (m *MockSignalRepo) CreateSignal(ctx context.Context, signal *domain.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *signal
	m.Signals[signal.ID] = &copied
	return nil
}

func (m *MockSignalRepo) GetSignal(ctx context.Context, id string) (*domain.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.Signals[id]
	if !ok {
		return nil, fmt.Errorf("signal not found: %s", id)
	}
	copied := *sig
	return &copied, nil
}

func (m *MockSignalRepo) UpdateSignal(ctx context.Context, id string, status domain.SignalStatus, currentPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.Signals[id]
	if !ok {
		return fmt.Errorf("signal not found: %s", id)
	}
	if !sig.Status.CanAdvanceTo(status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrSignalRegression, sig.Status, status)
	}
	sig.Status = status
	sig.CurrentPrice = currentPrice
	return nil
}

func (m *MockSignalRepo) UpdateSignalPrice(ctx context.Context, id string, currentPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sig, ok := m.Signals[id]; ok {
		sig.CurrentPrice = currentPrice
	}
	return nil
}

func (m *MockSignalRepo) CloseSignal(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.Signals[id]
	if !ok {
		return fmt.Errorf("signal not found: %s", id)
	}
	if sig.Status != domain.SignalClosed {
		now := time.Now().UTC()
		sig.Status = domain.SignalClosed
		sig.CloseReason = reason
		sig.ClosedAt = &now
	}
	return nil
}

func (m *MockSignalRepo) ListWatchingSignals(ctx context.Context, traderID string) ([]*domain.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Signal
	for _, sig := range m.Signals {
		if sig.TraderID == traderID && sig.Status == domain.SignalWatching {
			copied := *sig
			out = append(out, &copied)
		}
	}
	return out, nil
}

// MockPositionRepo
type MockPositionRepo struct {
	mu        sync.Mutex
	Positions map[string]*domain.Position
	CloseErr  error
}

func NewMockPositionRepo() *MockPositionRepo {
	return &MockPositionRepo{Positions: make(map[string]*domain.Position)}
}

func (m *MockPositionRepo) CreatePosition(ctx context.Context, position *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Positions {
		if p.SignalID == position.SignalID && p.Status == domain.PositionOpen {
			return fmt.Errorf("%w: signal %s", domain.ErrOpenPositionExists, position.SignalID)
		}
	}
	copied := *position
	m.Positions[position.ID] = &copied
	return nil
}

func (m *MockPositionRepo) UpdatePosition(ctx context.Context, position *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Positions[position.ID]
	if !ok {
		return fmt.Errorf("position not found: %s", position.ID)
	}
	if p.Status != domain.PositionOpen {
		return nil
	}
	p.EntryPrice = position.EntryPrice
	p.Size = position.Size
	p.StopLoss = position.StopLoss
	p.TakeProfit = position.TakeProfit
	p.TrailingStop = position.TrailingStop
	return nil
}

func (m *MockPositionRepo) UpdateStopLoss(ctx context.Context, id string, stopLoss float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Positions[id]
	if !ok {
		return fmt.Errorf("position not found: %s", id)
	}
	if p.Status != domain.PositionOpen {
		return nil
	}
	p.StopLoss = stopLoss
	return nil
}

func (m *MockPositionRepo) ClosePosition(ctx context.Context, id string, exitPrice, pnl, pnlPercent float64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	p, ok := m.Positions[id]
	if !ok {
		return fmt.Errorf("position not found: %s", id)
	}
	if p.Status != domain.PositionOpen {
		return fmt.Errorf("%w: position %s", domain.ErrPositionClosed, id)
	}
	now := time.Now().UTC()
	p.Status = domain.PositionClosed
	p.ExitPrice = exitPrice
	p.PNL = pnl
	p.PNLPercent = pnlPercent
	p.CloseReason = reason
	p.ClosedAt = &now
	return nil
}

func (m *MockPositionRepo) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Positions[id]
	if !ok {
		return nil, fmt.Errorf("position not found: %s", id)
	}
	copied := *p
	return &copied, nil
}

func (m *MockPositionRepo) ListOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.Positions {
		if p.Status == domain.PositionOpen {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

// openPosition is a test helper: one open position per signal for the trader.
func (m *MockPositionRepo) openPosition(signalID string) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Positions {
		if p.SignalID == signalID && p.Status == domain.PositionOpen {
			copied := *p
			return &copied
		}
	}
	return nil
}

// MockTradeRepo
type MockTradeRepo struct {
	mu     sync.Mutex
	Trades []*domain.Trade
}

func (m *MockTradeRepo) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *trade
	m.Trades = append(m.Trades, &copied)
	return nil
}

func (m *MockTradeRepo) ListTradesByPosition(ctx context.Context, positionID string) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.Trades {
		if t.PositionID == positionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockTradeRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Trades)
}

// MockAnalysisRepo
type MockAnalysisRepo struct {
	mu      sync.Mutex
	Records []*domain.Analysis
}

func (m *MockAnalysisRepo) SaveAnalysis(ctx context.Context, analysis *domain.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *analysis
	m.Records = append(m.Records, &copied)
	return nil
}

// MockAnalyzer
type MockAnalyzer struct {
	mu       sync.Mutex
	Decision *domain.Decision
	Err      error
	Calls    int
}

func (m *MockAnalyzer) Analyze(ctx context.Context, req *domain.AnalysisRequest) (*domain.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Decision, nil
}

// MockTraderRepo
type MockTraderRepo struct {
	mu      sync.Mutex
	Traders []*domain.Trader
	Errored map[string]string
}

func (m *MockTraderRepo) ListActiveTraders(ctx context.Context) ([]*domain.Trader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Traders, nil
}

func (m *MockTraderRepo) GetTrader(ctx context.Context, id string) (*domain.Trader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Traders {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("trader not found: %s", id)
}

func (m *MockTraderRepo) UpdateTraderError(ctx context.Context, id, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Errored == nil {
		m.Errored = make(map[string]string)
	}
	m.Errored[id] = errorMessage
	return nil
}

// MockFeed
type MockFeed struct {
	mu      sync.Mutex
	Prices  map[string]float64
	Tickers map[string]domain.Ticker
	Candles map[string][]domain.Candle // key: symbol+"/"+timeframe
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		Prices:  make(map[string]float64),
		Tickers: make(map[string]domain.Ticker),
		Candles: make(map[string][]domain.Candle),
	}
}

func (m *MockFeed) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[symbol] = price
}

func (m *MockFeed) LastPrice(symbol string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.Prices[symbol]
	return price, ok
}

func (m *MockFeed) GetTicker(symbol string) (domain.Ticker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tickers[symbol]
	return t, ok
}

func (m *MockFeed) Klines(symbol, timeframe string, limit int) []domain.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Candles[symbol+"/"+timeframe]
}

func (m *MockFeed) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Prices))
	for s := range m.Prices {
		out = append(out, s)
	}
	return out
}

func (m *MockFeed) OnPriceUpdate(callback func(symbol string, price float64)) {}
func (m *MockFeed) Subscribe(symbols []string) error                          { return nil }
func (m *MockFeed) IsConnected() bool                                         { return true }
func (m *MockFeed) LastUpdate() time.Time                                     { return time.Now() }

// MockOrderClient
type MockOrderClient struct {
	mu     sync.Mutex
	Orders []string
	Err    error
}

func (m *MockOrderClient) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (string, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", 0, m.Err
	}
	ref := fmt.Sprintf("order-%d", len(m.Orders)+1)
	m.Orders = append(m.Orders, side+" "+symbol)
	return ref, 0, nil
}
