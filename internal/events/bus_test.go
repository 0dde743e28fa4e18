package events_test

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
	"github.com/vitos/crypto_trade_ai/internal/events"
)

func TestPublishSubscribeRoundtrip(t *testing.T) {
	bus := events.New(zap.NewNop())

	var (
		mu       sync.Mutex
		signals  []string
		openings []string
	)
	if err := bus.SubscribeSignalTriggered(func(s *domain.Signal) error {
		mu.Lock()
		signals = append(signals, s.ID)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.SubscribePositionOpened(func(p *domain.Position) error {
		mu.Lock()
		openings = append(openings, p.ID)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	bus.PublishSignalTriggered(&domain.Signal{ID: "sig-1"})
	bus.PublishPositionOpened(&domain.Position{ID: "pos-1"})
	bus.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	if len(signals) != 1 || signals[0] != "sig-1" {
		t.Errorf("signal handler got %v", signals)
	}
	if len(openings) != 1 || openings[0] != "pos-1" {
		t.Errorf("position handler got %v", openings)
	}
}

func TestHandlerErrorReachesErrorTopic(t *testing.T) {
	bus := events.New(zap.NewNop())

	errs := make(chan error, 1)
	if err := bus.SubscribeError(func(component, message string, err error) {
		errs <- err
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	boom := errors.New("handler broke")
	if err := bus.SubscribeTradeExecuted(func(*domain.Trade) error {
		return boom
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	bus.PublishTradeExecuted(&domain.Trade{ID: "trade-1"})
	bus.WaitAsync()

	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Errorf("error topic got %v, want %v", err, boom)
		}
	default:
		t.Fatal("handler error never reached the error topic")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := events.New(zap.NewNop())

	errs := make(chan error, 1)
	if err := bus.SubscribeError(func(component, message string, err error) {
		errs <- err
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.SubscribePositionClosed(func(*domain.Position) error {
		panic("bad handler")
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	bus.PublishPositionClosed(&domain.Position{ID: "pos-1"})
	bus.WaitAsync()

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected a panic error on the error topic")
		}
	default:
		t.Fatal("panic never reached the error topic")
	}
}
