package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS traders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			symbols TEXT NOT NULL,
			timeframes TEXT NOT NULL,
			check_interval TEXT NOT NULL,
			reanalysis_interval TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			error_message TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			trader_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			status TEXT NOT NULL,
			trigger_price REAL NOT NULL,
			current_price REAL NOT NULL,
			close_reason TEXT,
			closed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_signals_trader_status ON signals(trader_id, status);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			signal_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			size REAL NOT NULL,
			stop_loss REAL NOT NULL DEFAULT 0,
			take_profit REAL NOT NULL DEFAULT 0,
			trailing_stop REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			exit_price REAL NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			pnl_percent REAL NOT NULL DEFAULT 0,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			close_reason TEXT
		);`,
		// One open position per signal, enforced at the storage layer.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_signal ON positions(signal_id) WHERE status = 'open';`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			side TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			status TEXT NOT NULL,
			order_ref TEXT,
			error_message TEXT,
			executed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id);`,
		`CREATE TABLE IF NOT EXISTS analysis_history (
			id TEXT PRIMARY KEY,
			signal_id TEXT NOT NULL,
			trader_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			decision TEXT NOT NULL,
			reasoning TEXT,
			confidence INTEGER NOT NULL DEFAULT 0,
			context TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_signal ON analysis_history(signal_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// TraderRepository Implementation

func (s *SQLiteStore) UpsertTrader(ctx context.Context, trader *domain.Trader) error {
	symbols, err := json.Marshal(trader.Symbols)
	if err != nil {
		return err
	}
	timeframes, err := json.Marshal(trader.Timeframes)
	if err != nil {
		return err
	}

	query := `INSERT INTO traders (id, user_id, name, description, symbols, timeframes, check_interval, reanalysis_interval, status, error_message, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  user_id=excluded.user_id,
			  name=excluded.name,
			  description=excluded.description,
			  symbols=excluded.symbols,
			  timeframes=excluded.timeframes,
			  check_interval=excluded.check_interval,
			  reanalysis_interval=excluded.reanalysis_interval,
			  status=excluded.status,
			  updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		trader.ID, trader.UserID, trader.Name, trader.Description, string(symbols), string(timeframes),
		trader.CheckInterval, trader.ReanalysisInterval, trader.Status, trader.ErrorMessage,
		trader.CreatedAt, trader.UpdatedAt)
	return err
}

func (s *SQLiteStore) ListActiveTraders(ctx context.Context) ([]*domain.Trader, error) {
	query := `SELECT id, user_id, name, description, symbols, timeframes, check_interval, reanalysis_interval, status, error_message, created_at, updated_at
			  FROM traders WHERE status = 'active'`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traders []*domain.Trader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

func (s *SQLiteStore) GetTrader(ctx context.Context, id string) (*domain.Trader, error) {
	query := `SELECT id, user_id, name, description, symbols, timeframes, check_interval, reanalysis_interval, status, error_message, created_at, updated_at
			  FROM traders WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanTrader(row)
}

func (s *SQLiteStore) UpdateTraderError(ctx context.Context, id, errorMessage string) error {
	status := "active"
	if errorMessage != "" {
		status = "error"
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE traders SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, errorMessage, time.Now().UTC(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrader(row rowScanner) (*domain.Trader, error) {
	var t domain.Trader
	var symbols, timeframes string
	var description, errorMessage sql.NullString
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &description, &symbols, &timeframes,
		&t.CheckInterval, &t.ReanalysisInterval, &t.Status, &errorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	t.ErrorMessage = errorMessage.String
	if err := json.Unmarshal([]byte(symbols), &t.Symbols); err != nil {
		return nil, fmt.Errorf("failed to decode symbols for trader %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(timeframes), &t.Timeframes); err != nil {
		return nil, fmt.Errorf("failed to decode timeframes for trader %s: %w", t.ID, err)
	}
	return &t, nil
}

// SignalRepository Implementation

func (s *SQLiteStore) CreateSignal(ctx context.Context, signal *domain.Signal) error {
	query := `INSERT INTO signals (id, trader_id, user_id, symbol, timestamp, status, trigger_price, current_price, close_reason, closed_at, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		signal.ID, signal.TraderID, signal.UserID, signal.Symbol, signal.Timestamp, signal.Status,
		signal.TriggerPrice, signal.CurrentPrice, signal.CloseReason, signal.ClosedAt,
		signal.CreatedAt, signal.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (*domain.Signal, error) {
	query := `SELECT id, trader_id, user_id, symbol, timestamp, status, trigger_price, current_price, close_reason, closed_at, created_at, updated_at
			  FROM signals WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanSignal(row)
}

// UpdateSignal advances a signal's status and refreshes its price. The update
// is conditional on the status it read, so a concurrent forward transition
// cannot be rolled back.
func (s *SQLiteStore) UpdateSignal(ctx context.Context, id string, status domain.SignalStatus, currentPrice float64) error {
	var current domain.SignalStatus
	row := s.db.QueryRowContext(ctx, `SELECT status FROM signals WHERE id = ?`, id)
	if err := row.Scan(&current); err != nil {
		return err
	}

	if !current.CanAdvanceTo(status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrSignalRegression, current, status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ?, current_price = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, currentPrice, time.Now().UTC(), id, current)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: signal %s changed concurrently", domain.ErrSignalRegression, id)
	}
	return nil
}

func (s *SQLiteStore) UpdateSignalPrice(ctx context.Context, id string, currentPrice float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET current_price = ?, updated_at = ? WHERE id = ?`,
		currentPrice, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) CloseSignal(ctx context.Context, id, reason string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ?, close_reason = ?, closed_at = ?, updated_at = ? WHERE id = ? AND status != ?`,
		domain.SignalClosed, reason, now, now, id, domain.SignalClosed)
	return err
}

func (s *SQLiteStore) ListWatchingSignals(ctx context.Context, traderID string) ([]*domain.Signal, error) {
	query := `SELECT id, trader_id, user_id, symbol, timestamp, status, trigger_price, current_price, close_reason, closed_at, created_at, updated_at
			  FROM signals WHERE trader_id = ? AND status = ?`
	rows, err := s.db.QueryContext(ctx, query, traderID, domain.SignalWatching)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func scanSignal(row rowScanner) (*domain.Signal, error) {
	var sig domain.Signal
	var closeReason sql.NullString
	var closedAt sql.NullTime
	err := row.Scan(&sig.ID, &sig.TraderID, &sig.UserID, &sig.Symbol, &sig.Timestamp, &sig.Status,
		&sig.TriggerPrice, &sig.CurrentPrice, &closeReason, &closedAt, &sig.CreatedAt, &sig.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sig.CloseReason = closeReason.String
	if closedAt.Valid {
		t := closedAt.Time
		sig.ClosedAt = &t
	}
	return &sig, nil
}

// PositionRepository Implementation

func (s *SQLiteStore) CreatePosition(ctx context.Context, position *domain.Position) error {
	query := `INSERT INTO positions (id, signal_id, user_id, symbol, side, entry_price, size, stop_loss, take_profit, trailing_stop, status, exit_price, pnl, pnl_percent, opened_at, closed_at, close_reason)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		position.ID, position.SignalID, position.UserID, position.Symbol, position.Side,
		position.EntryPrice, position.Size, position.StopLoss, position.TakeProfit, position.TrailingStop,
		position.Status, position.ExitPrice, position.PNL, position.PNLPercent,
		position.OpenedAt, position.ClosedAt, position.CloseReason)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: signal %s", domain.ErrOpenPositionExists, position.SignalID)
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) UpdatePosition(ctx context.Context, position *domain.Position) error {
	query := `UPDATE positions SET entry_price = ?, size = ?, stop_loss = ?, take_profit = ?, trailing_stop = ?, pnl = ?, pnl_percent = ?
			  WHERE id = ? AND status = ?`
	_, err := s.db.ExecContext(ctx, query,
		position.EntryPrice, position.Size, position.StopLoss, position.TakeProfit, position.TrailingStop,
		position.PNL, position.PNLPercent, position.ID, domain.PositionOpen)
	return err
}

func (s *SQLiteStore) UpdateStopLoss(ctx context.Context, id string, stopLoss float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET stop_loss = ? WHERE id = ? AND status = ?`,
		stopLoss, id, domain.PositionOpen)
	return err
}

// ClosePosition is the single close path: the UPDATE is conditional on
// status=open, so of two concurrent closers exactly one wins and the loser
// gets ErrPositionClosed.
func (s *SQLiteStore) ClosePosition(ctx context.Context, id string, exitPrice, pnl, pnlPercent float64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = ?, exit_price = ?, pnl = ?, pnl_percent = ?, close_reason = ?, closed_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PositionClosed, exitPrice, pnl, pnlPercent, reason, time.Now().UTC(), id, domain.PositionOpen)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetPosition(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: position %s", domain.ErrPositionClosed, id)
	}
	return nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT id, signal_id, user_id, symbol, side, entry_price, size, stop_loss, take_profit, trailing_stop, status, exit_price, pnl, pnl_percent, opened_at, closed_at, close_reason
			  FROM positions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanPosition(row)
}

func (s *SQLiteStore) ListOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT id, signal_id, user_id, symbol, side, entry_price, size, stop_loss, take_profit, trailing_stop, status, exit_price, pnl, pnl_percent, opened_at, closed_at, close_reason
			  FROM positions WHERE status = ?`
	rows, err := s.db.QueryContext(ctx, query, domain.PositionOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var closeReason sql.NullString
	var closedAt sql.NullTime
	err := row.Scan(&p.ID, &p.SignalID, &p.UserID, &p.Symbol, &p.Side,
		&p.EntryPrice, &p.Size, &p.StopLoss, &p.TakeProfit, &p.TrailingStop,
		&p.Status, &p.ExitPrice, &p.PNL, &p.PNLPercent, &p.OpenedAt, &closedAt, &closeReason)
	if err != nil {
		return nil, err
	}
	p.CloseReason = closeReason.String
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return &p, nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	query := `INSERT INTO trades (id, position_id, user_id, type, side, symbol, price, quantity, status, order_ref, error_message, executed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		trade.ID, trade.PositionID, trade.UserID, trade.Type, trade.Side, trade.Symbol,
		trade.Price, trade.Quantity, trade.Status, trade.OrderRef, trade.ErrorMessage, trade.ExecutedAt)
	return err
}

func (s *SQLiteStore) ListTradesByPosition(ctx context.Context, positionID string) ([]*domain.Trade, error) {
	query := `SELECT id, position_id, user_id, type, side, symbol, price, quantity, status, order_ref, error_message, executed_at
			  FROM trades WHERE position_id = ? ORDER BY executed_at`
	rows, err := s.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var orderRef, errorMessage sql.NullString
		if err := rows.Scan(&t.ID, &t.PositionID, &t.UserID, &t.Type, &t.Side, &t.Symbol,
			&t.Price, &t.Quantity, &t.Status, &orderRef, &errorMessage, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.OrderRef = orderRef.String
		t.ErrorMessage = errorMessage.String
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// AnalysisRepository Implementation

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, analysis *domain.Analysis) error {
	contextJSON, err := json.Marshal(analysis.Context)
	if err != nil {
		return err
	}
	metadataJSON, err := json.Marshal(analysis.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO analysis_history (id, signal_id, trader_id, user_id, decision, reasoning, confidence, context, metadata, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		analysis.ID, analysis.SignalID, analysis.TraderID, analysis.UserID,
		analysis.Decision, analysis.Reasoning, analysis.Confidence,
		string(contextJSON), string(metadataJSON), analysis.CreatedAt)
	return err
}
