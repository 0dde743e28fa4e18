package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
	"github.com/vitos/crypto_trade_ai/internal/usecase"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	engine    *usecase.Engine
	monitor   *usecase.PositionMonitor
	executor  *usecase.TradeExecutor
	positions domain.PositionRepository
	trades    domain.TradeRepository
	feed      domain.MarketFeed
	logger    *zap.Logger
	started   time.Time
}

func NewServer(
	port int,
	engine *usecase.Engine,
	monitor *usecase.PositionMonitor,
	executor *usecase.TradeExecutor,
	positions domain.PositionRepository,
	trades domain.TradeRepository,
	feed domain.MarketFeed,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		engine:    engine,
		monitor:   monitor,
		executor:  executor,
		positions: positions,
		trades:    trades,
		feed:      feed,
		logger:    logger,
		started:   time.Now(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Health & metrics
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", promhttp.Handler())

	// Positions
	s.router.HandleFunc("GET /positions", s.handlePositions)
	s.router.HandleFunc("GET /positions/{id}/trades", s.handlePositionTrades)
	s.router.HandleFunc("POST /positions/{id}/close", s.handleClosePosition)

	// Strategies
	s.router.HandleFunc("GET /strategies", s.handleStrategies)
	s.router.HandleFunc("POST /reload", s.handleReload)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
