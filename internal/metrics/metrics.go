// Package metrics holds the process-wide Prometheus collectors and the HTTP endpoint serving them.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "records_total", Help: "Records read from the source by kind"},
		[]string{"feed", "kind"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals emitted by model and outcome"},
		[]string{"model", "outcome"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Paper fills by model and leg"},
		[]string{"model", "leg"},
	)
	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "positions_closed_total", Help: "Closed positions by model and exit reason"},
		[]string{"model", "reason"},
	)
	TransportEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "transport_events_total", Help: "Transport connection events"},
		[]string{"transport", "event"},
	)
	ArchiveFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "archive_fetches_total", Help: "Archive object lookups by result"},
		[]string{"result"},
	)
	BalanceCents = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "portfolio_balance_cents", Help: "Realized portfolio balance"},
	)
	DrawdownPct = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "portfolio_drawdown_pct", Help: "Drawdown from peak balance"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "portfolio_open_positions", Help: "Open positions"},
	)
	Halted = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "portfolio_halted", Help: "1 once the drawdown breaker has tripped"},
	)
	ActiveInstruments = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "active_instruments", Help: "Instruments past the activation threshold"},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsTotal, SignalsTotal, FillsTotal, PositionsClosed, TransportEvents, ArchiveFetches,
		BalanceCents, DrawdownPct, OpenPositions, Halted, ActiveInstruments,
	)
}

// HealthFunc reports liveness. A nil error means healthy.
type HealthFunc func() error

// Router exposes /metrics and /healthz.
func Router(health HealthFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, code := "ok", http.StatusOK
		if health != nil {
			if err := health(); err != nil {
				status, code = err.Error(), http.StatusServiceUnavailable
			}
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}).Methods(http.MethodGet)
	return r
}

// Serve starts the metrics server in the background.
func Serve(addr string, health HealthFunc) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Router(health), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
