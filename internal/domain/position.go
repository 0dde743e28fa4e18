package domain

import "time"

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is an open or closed market exposure tied to exactly one signal.
// At most one open position exists per signal at any time.
type Position struct {
	ID           string         `json:"id"`
	SignalID     string         `json:"signal_id"`
	UserID       string         `json:"user_id"`
	Symbol       string         `json:"symbol"`
	Side         Side           `json:"side"`
	EntryPrice   float64        `json:"entry_price"`
	Size         float64        `json:"size"`
	StopLoss     float64        `json:"stop_loss"`
	TakeProfit   float64        `json:"take_profit"`
	TrailingStop float64        `json:"trailing_stop"` // distance; 0 = disabled
	Status       PositionStatus `json:"status"`
	ExitPrice    float64        `json:"exit_price"`
	PNL          float64        `json:"pnl"`
	PNLPercent   float64        `json:"pnl_percent"`
	OpenedAt     time.Time      `json:"opened_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	CloseReason  string         `json:"close_reason,omitempty"`
}

// ComputePNL returns absolute and percent PNL at the given exit price.
func (p *Position) ComputePNL(exitPrice float64) (pnl, pnlPercent float64) {
	if p.Side == SideLong {
		pnl = (exitPrice - p.EntryPrice) * p.Size
	} else {
		pnl = (p.EntryPrice - exitPrice) * p.Size
	}
	if p.EntryPrice > 0 && p.Size > 0 {
		pnlPercent = (pnl / (p.EntryPrice * p.Size)) * 100
	}
	return pnl, pnlPercent
}

// StopLossHit reports whether the stop-loss triggers at price.
func (p *Position) StopLossHit(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == SideLong {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// TakeProfitHit reports whether the take-profit triggers at price.
func (p *Position) TakeProfitHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == SideLong {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

// TrailedStop returns the candidate stop for the current price and whether
// applying it would tighten the stop. The trailing stop follows favorable
// movement only: a long stop never moves down, a short stop never moves up.
func (p *Position) TrailedStop(price float64) (newStop float64, tightens bool) {
	if p.TrailingStop <= 0 {
		return p.StopLoss, false
	}
	if p.Side == SideLong {
		newStop = price - p.TrailingStop
		return newStop, newStop > p.StopLoss
	}
	newStop = price + p.TrailingStop
	return newStop, p.StopLoss == 0 || newStop < p.StopLoss
}

// PositionStatusView is a position paired with live market data, served by
// the status endpoint.
type PositionStatusView struct {
	Position          Position `json:"position"`
	CurrentPrice      float64  `json:"current_price"`
	CurrentPNL        float64  `json:"current_pnl"`
	CurrentPNLPercent float64  `json:"current_pnl_percent"`
}
