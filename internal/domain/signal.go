package domain

import "time"

type SignalStatus string

const (
	SignalNew          SignalStatus = "new"
	SignalWatching     SignalStatus = "watching"
	SignalPositionOpen SignalStatus = "position_open"
	SignalClosed       SignalStatus = "closed"
)

// Close reasons recorded on signals and positions.
const (
	CloseReasonAIRecommendation = "ai_recommendation"
	CloseReasonStopLoss         = "stop_loss"
	CloseReasonTakeProfit       = "take_profit"
	CloseReasonManual           = "manual_close"
	CloseReasonFlip             = "flip_position"
)

var signalStatusRank = map[SignalStatus]int{
	SignalNew:          0,
	SignalWatching:     1,
	SignalPositionOpen: 2,
	SignalClosed:       3,
}

// CanAdvanceTo reports whether moving to next is a forward transition.
// Signals only ever move forward; closed is terminal.
func (s SignalStatus) CanAdvanceTo(next SignalStatus) bool {
	cur, ok := signalStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := signalStatusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Signal is one detected trading opportunity for a (trader, symbol) pair.
type Signal struct {
	ID           string       `json:"id"`
	TraderID     string       `json:"trader_id"`
	UserID       string       `json:"user_id"`
	Symbol       string       `json:"symbol"`
	Timestamp    time.Time    `json:"timestamp"`
	Status       SignalStatus `json:"status"`
	TriggerPrice float64      `json:"trigger_price"`
	CurrentPrice float64      `json:"current_price"`
	CloseReason  string       `json:"close_reason,omitempty"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
