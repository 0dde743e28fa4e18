package domain

import "time"

type TradeType string

const (
	TradePaper TradeType = "paper"
	TradeReal  TradeType = "real"
)

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeCancelled TradeStatus = "cancelled"
	TradeFailed    TradeStatus = "failed"
)

// Order sides on the execution venue.
const (
	OrderBuy  = "BUY"
	OrderSell = "SELL"
)

// Trade is one immutable execution record (a fill). Trades are append-only:
// corrections produce new rows, existing rows are never mutated.
type Trade struct {
	ID           string      `json:"id"`
	PositionID   string      `json:"position_id"`
	UserID       string      `json:"user_id"`
	Type         TradeType   `json:"type"`
	Side         string      `json:"side"` // BUY, SELL
	Symbol       string      `json:"symbol"`
	Price        float64     `json:"price"`
	Quantity     float64     `json:"quantity"`
	Status       TradeStatus `json:"status"`
	OrderRef     string      `json:"order_ref"` // external order reference
	ErrorMessage string      `json:"error_message,omitempty"`
	ExecutedAt   time.Time   `json:"executed_at"`
}
