package domain

import "time"

// Decision tags returned by the reasoning service. For a watching signal the
// service answers with one of the open/close-watch tags; for an open position
// with one of the position-action tags. Anything else is a no-op.
const (
	DecisionOpenLong         = "open_long"
	DecisionOpenShort        = "open_short"
	DecisionCloseWatch       = "close_watch"
	DecisionClose            = "close"
	DecisionPartialClose     = "partial_close"
	DecisionScaleIn          = "scale_in"
	DecisionScaleOut         = "scale_out"
	DecisionFlipPosition     = "flip_position"
	DecisionUpdateStopLoss   = "update_stop_loss"
	DecisionUpdateTakeProfit = "update_take_profit"
)

// Decision is the reasoning service's recommended action for one evaluation.
// Decisions are transient: consumed once, persisted to the analysis history,
// never mutated.
type Decision struct {
	Decision   string                 `json:"decision"`
	Reasoning  string                 `json:"reasoning"`
	Confidence int                    `json:"confidence"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// FloatMeta extracts a numeric metadata field. A missing or non-numeric
// value returns ok=false; callers treat that as a no-op, not an error.
func (d *Decision) FloatMeta(key string) (float64, bool) {
	if d == nil || d.Metadata == nil {
		return 0, false
	}
	switch v := d.Metadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Analysis is one append-only row of the analysis history.
type Analysis struct {
	ID         string                 `json:"id"`
	SignalID   string                 `json:"signal_id"`
	TraderID   string                 `json:"trader_id"`
	UserID     string                 `json:"user_id"`
	Decision   string                 `json:"decision"`
	Reasoning  string                 `json:"reasoning"`
	Confidence int                    `json:"confidence"`
	Context    map[string]interface{} `json:"context"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  time.Time              `json:"created_at"`
}
