package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := "ok"
	if !s.feed.IsConnected() {
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"version":        Version,
		"uptime":         time.Since(s.started).String(),
		"active_traders": len(s.engine.ActiveStrategies()),
		"feed_connected": s.feed.IsConnected(),
		"feed_last_tick": s.feed.LastUpdate(),
		"open_positions": len(s.monitor.Views()),
		"paper_balance":  s.executor.PaperBalance(),
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc_mb":  mem.HeapAlloc / 1024 / 1024,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.monitor.Views())
}

func (s *Server) handlePositionTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trades, err := s.trades.ListTradesByPosition(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// handleClosePosition settles one position at the current market price. A
// position already closed by another path returns 409.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	position, err := s.positions.GetPosition(r.Context(), id)
	if err != nil {
		http.Error(w, "Position not found", http.StatusNotFound)
		return
	}

	price, ok := s.feed.LastPrice(position.Symbol)
	if !ok || price <= 0 {
		http.Error(w, "No market price available", http.StatusServiceUnavailable)
		return
	}

	if err := s.executor.Close(r.Context(), position, price, domain.CloseReasonManual); err != nil {
		if errors.Is(err, domain.ErrPositionClosed) {
			http.Error(w, "Position already closed", http.StatusConflict)
			return
		}
		s.logger.Error("Manual close failed", zap.String("position_id", id), zap.Error(err))
		http.Error(w, "Close failed", http.StatusInternalServerError)
		return
	}

	closed, err := s.positions.GetPosition(r.Context(), id)
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	s.writeJSON(w, http.StatusOK, closed)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.ActiveStrategies())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	added, removed, err := s.engine.Reload(r.Context())
	if err != nil {
		s.logger.Error("Reload failed", zap.Error(err))
		http.Error(w, "Reload failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"started": added,
		"stopped": removed,
	})
}
