package domain

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type Ticker struct {
	Symbol            string  `json:"symbol"`
	LastPrice         float64 `json:"lastPrice"`
	Volume24h         float64 `json:"volume24h"`
	PriceChange24hPct float64 `json:"priceChange24hPct"`
	High24h           float64 `json:"high24h"`
	Low24h            float64 `json:"low24h"`
}

// MarketData is the snapshot sent to the reasoning service: current ticker,
// recent candle history per timeframe, and precomputed indicator values.
type MarketData struct {
	Symbol     string              `json:"symbol"`
	Timestamp  int64               `json:"timestamp"`
	Ticker     Ticker              `json:"ticker"`
	Klines     map[string][]Candle `json:"klinesByTimeframe"`
	Indicators map[string]float64  `json:"indicators"`
}

// AnalysisRequest is the reasoning-service request payload.
type AnalysisRequest struct {
	TraderID   string     `json:"traderId"`
	SignalID   string     `json:"signalId"`
	MarketData MarketData `json:"marketData"`
}

// AnalysisResponse is the reasoning-service response payload. Success=false
// is a recoverable failure, not a fatal one.
type AnalysisResponse struct {
	Success  bool     `json:"success"`
	Analysis Decision `json:"analysis"`
	Error    string   `json:"error"`
}
