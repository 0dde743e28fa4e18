package usecase

import (
	"context"
	"math"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

// ConditionFunc adapts a function to domain.ConditionChecker.
type ConditionFunc func(ctx context.Context, trader *domain.Trader, data *domain.MarketData) (bool, error)

func (f ConditionFunc) Check(ctx context.Context, trader *domain.Trader, data *domain.MarketData) (bool, error) {
	return f(ctx, trader, data)
}

// PriceMoveChecker fires when the 24h move exceeds a percent threshold.
// It is the built-in entry filter; the real edge lives in the reasoning
// service, this only gates how often it is consulted.
type PriceMoveChecker struct {
	ThresholdPct float64
}

func (c *PriceMoveChecker) Check(_ context.Context, _ *domain.Trader, data *domain.MarketData) (bool, error) {
	if c.ThresholdPct <= 0 {
		return false, nil
	}
	return math.Abs(data.Ticker.PriceChange24hPct) >= c.ThresholdPct, nil
}
