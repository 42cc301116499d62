package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"netsentry/internal/aggregator"
	"netsentry/internal/engine/collector"
	"netsentry/internal/predictor"

	"github.com/gorilla/mux"
)

// Server exposes the engine's operations over HTTP for the service layer
// and for an external scheduler.
type Server struct {
	collector  *collector.Collector
	aggregator *aggregator.Aggregator
	predictor  *predictor.Predictor
	http       *http.Server
}

// NewServer wires the handlers onto a mux router.
func NewServer(listenAddr string, c *collector.Collector, a *aggregator.Aggregator, p *predictor.Predictor) *Server {
	s := &Server{collector: c, aggregator: a, predictor: p}

	r := mux.NewRouter()
	r.HandleFunc("/api/capture/start", s.handleCaptureStart).Methods("POST")
	r.HandleFunc("/api/capture/stop", s.handleCaptureStop).Methods("POST")
	r.HandleFunc("/api/snapshot", s.handleSnapshot).Methods("GET")
	r.HandleFunc("/api/analytics", s.handleAnalytics).Methods("GET")
	r.HandleFunc("/api/packets", s.handlePacketLog).Methods("GET")
	r.HandleFunc("/api/connections", s.handleConnections).Methods("GET")
	r.HandleFunc("/api/rollup/daily", s.handleRollup(a.RunDailyRollup)).Methods("POST")
	r.HandleFunc("/api/rollup/monthly", s.handleRollup(a.RunMonthlyRollup)).Methods("POST")
	r.HandleFunc("/api/rollup/yearly", s.handleRollup(a.RunYearlyRollup)).Methods("POST")
	r.HandleFunc("/api/rollup/devices", s.handleRollup(a.RunDeviceRollups)).Methods("POST")
	r.HandleFunc("/api/forecast", s.handleForecast).Methods("GET")
	r.HandleFunc("/api/anomalies", s.handleAnomalies).Methods("GET")

	s.http = &http.Server{Addr: listenAddr, Handler: r}
	return s
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() {
	go func() {
		log.Printf("HTTP API server starting on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	if err := s.collector.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	s.collector.Stop()
	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collector.Snapshot())
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collector.AnalyticsSummary())
}

func (s *Server) handlePacketLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := collector.LogFilter{
		Protocol: q.Get("protocol"),
		IP:       q.Get("ip"),
		Flag:     q.Get("flag"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("port"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			filter.Port = uint16(n)
		}
	}
	writeJSON(w, s.collector.PacketLog(filter))
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.collector.ExternalConnections())
}

func (s *Server) handleRollup(run func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
		defer cancel()
		if err := run(ctx); err != nil {
			log.Printf("rollup failed: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	f, err := s.predictor.ForecastTotalUsage(r.Context())
	if err != nil {
		if errors.Is(err, predictor.ErrInsufficientData) {
			writeJSON(w, map[string]string{"error": "insufficient data"})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, f)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	orgParam := r.URL.Query().Get("org")
	if orgParam == "" {
		// Anomaly detection is always organization-scoped; an unscoped
		// call is a caller contract violation.
		http.Error(w, "missing required org parameter", http.StatusBadRequest)
		return
	}
	orgID, err := strconv.ParseInt(orgParam, 10, 64)
	if err != nil {
		http.Error(w, "invalid org parameter", http.StatusBadRequest)
		return
	}

	anomalies, err := s.predictor.DetectAnomalies(r.Context(), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if anomalies == nil {
		anomalies = []predictor.Anomaly{}
	}
	writeJSON(w, anomalies)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
