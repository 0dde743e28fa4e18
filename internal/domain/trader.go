package domain

import "time"

// Trader is a trading strategy configuration. It is immutable per tick: the
// scan and reanalysis tasks bound to it read the loaded copy and config
// changes take effect only through a reload.
type Trader struct {
	ID                 string   `json:"id"`
	UserID             string   `json:"user_id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Symbols            []string `json:"symbols"` // empty = all known symbols
	Timeframes         []string `json:"timeframes"`
	CheckInterval      string   `json:"check_interval"`
	ReanalysisInterval string   `json:"reanalysis_interval"`
	Status             string   `json:"status"` // active, paused, error
	ErrorMessage       string   `json:"error_message"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
