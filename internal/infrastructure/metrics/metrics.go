package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_signals_triggered_total",
		Help: "Signals created by strategy scans.",
	})

	AnalysisCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_analysis_calls_total",
		Help: "Reasoning service calls by result.",
	}, []string{"result"})

	PositionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_positions_opened_total",
		Help: "Positions opened.",
	})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_positions_closed_total",
		Help: "Positions closed by reason.",
	}, []string{"reason"})

	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trades_executed_total",
		Help: "Trade executions by type.",
	}, []string{"type"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_open_positions",
		Help: "Positions currently open.",
	})
)
