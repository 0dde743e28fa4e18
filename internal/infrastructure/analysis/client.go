package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Client calls the external reasoning service over HTTP. Transport failures
// trip a circuit breaker so a dead service does not stall every scan tick for
// the full timeout; an explicit rejection from the service is not a breaker
// failure.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "analysis",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Analysis breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		logger:  logger,
	}
}

// Analyze sends market context to the reasoning service and returns its
// decision. A success=false response maps to ErrAnalysisRejected, which
// callers treat as recoverable: the signal stays watching and is retried on
// the next cycle.
func (c *Client) Analyze(ctx context.Context, req *domain.AnalysisRequest) (*domain.Decision, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var response domain.AnalysisResponse
		// ForceContentType makes resty parse the body even when the service
		// mislabels its content type; a non-JSON body then fails loudly
		// instead of reading as a zero-value rejection.
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&response).
			ForceContentType("application/json").
			Post("/analyze")
		if err != nil {
			return nil, fmt.Errorf("analysis request failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("analysis service returned %s", resp.Status())
		}
		return &response, nil
	})
	if err != nil {
		return nil, err
	}

	response := result.(*domain.AnalysisResponse)
	if !response.Success {
		return nil, fmt.Errorf("%w: %s", domain.ErrAnalysisRejected, response.Error)
	}

	c.logger.Debug("Analysis decision received",
		zap.String("signal_id", req.SignalID),
		zap.String("decision", response.Analysis.Decision),
		zap.Int("confidence", response.Analysis.Confidence))

	return &response.Analysis, nil
}
