package events

import (
	"fmt"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

// Topics published on the bus.
const (
	SignalTriggered   = "signal.triggered"
	AnalysisCompleted = "analysis.completed"
	PositionOpened    = "position.opened"
	PositionClosed    = "position.closed"
	TradeExecuted     = "trade.executed"
	ErrorOccurred     = "error.occurred"
)

// Bus wraps EventBus with typed publish/subscribe per topic. Handlers run
// asynchronously so publish never blocks the caller; same-topic handlers are
// invoked in registration order. A handler error or panic is reported on the
// error topic instead of propagating to the publisher. Subscriptions are
// registered at startup and never removed, so dispatch reads a stable list.
type Bus struct {
	bus    EventBus.Bus
	logger *zap.Logger
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		bus:    EventBus.New(),
		logger: logger,
	}
}

func (b *Bus) PublishSignalTriggered(signal *domain.Signal) {
	b.bus.Publish(SignalTriggered, signal)
}

func (b *Bus) SubscribeSignalTriggered(fn func(*domain.Signal) error) error {
	return b.bus.SubscribeAsync(SignalTriggered, func(signal *domain.Signal) {
		b.guard("signal-triggered handler", func() error { return fn(signal) })
	}, false)
}

func (b *Bus) PublishAnalysisCompleted(signal *domain.Signal, decision *domain.Decision) {
	b.bus.Publish(AnalysisCompleted, signal, decision)
}

func (b *Bus) SubscribeAnalysisCompleted(fn func(*domain.Signal, *domain.Decision) error) error {
	return b.bus.SubscribeAsync(AnalysisCompleted, func(signal *domain.Signal, decision *domain.Decision) {
		b.guard("analysis-completed handler", func() error { return fn(signal, decision) })
	}, false)
}

func (b *Bus) PublishPositionOpened(position *domain.Position) {
	b.bus.Publish(PositionOpened, position)
}

func (b *Bus) SubscribePositionOpened(fn func(*domain.Position) error) error {
	return b.bus.SubscribeAsync(PositionOpened, func(position *domain.Position) {
		b.guard("position-opened handler", func() error { return fn(position) })
	}, false)
}

func (b *Bus) PublishPositionClosed(position *domain.Position) {
	b.bus.Publish(PositionClosed, position)
}

func (b *Bus) SubscribePositionClosed(fn func(*domain.Position) error) error {
	return b.bus.SubscribeAsync(PositionClosed, func(position *domain.Position) {
		b.guard("position-closed handler", func() error { return fn(position) })
	}, false)
}

func (b *Bus) PublishTradeExecuted(trade *domain.Trade) {
	b.bus.Publish(TradeExecuted, trade)
}

func (b *Bus) SubscribeTradeExecuted(fn func(*domain.Trade) error) error {
	return b.bus.SubscribeAsync(TradeExecuted, func(trade *domain.Trade) {
		b.guard("trade-executed handler", func() error { return fn(trade) })
	}, false)
}

// PublishError reports a component failure to error-topic observers.
func (b *Bus) PublishError(component, message string, err error) {
	b.logger.Error("Component error",
		zap.String("component", component),
		zap.String("message", message),
		zap.Error(err))

	b.bus.Publish(ErrorOccurred, component, message, err)
}

func (b *Bus) SubscribeError(fn func(component, message string, err error)) error {
	return b.bus.SubscribeAsync(ErrorOccurred, func(component, message string, err error) {
		// Error handlers only get logged on failure; republishing here could
		// loop.
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Error handler panicked", zap.Any("panic", r))
			}
		}()
		fn(component, message, err)
	}, false)
}

// WaitAsync blocks until all in-flight handlers have finished. Used during
// shutdown.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}

// guard runs a handler, converting errors and panics into error-topic
// reports so they never reach the publisher.
func (b *Bus) guard(component string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.PublishError(component, "handler panicked", fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(); err != nil {
		b.PublishError(component, "handler failed", err)
	}
}
