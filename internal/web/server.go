// Package web provides an HTTP status server for the agent.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muteq/mute-agent/internal/status"
)

// Server serves the status page, the JSON status, and Prometheus metrics.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(newRegistry(tracker), promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// newRegistry exposes tracker state as Prometheus gauges. Everything is
// read through Snapshot at scrape time, so no metric update calls are
// scattered through the pipeline.
func newRegistry(tracker *status.Tracker) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	gauge := func(name, help string, value func(status.Snapshot) float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mute",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return value(tracker.Snapshot())
		}))
	}

	gauge("last_peak_db", "Peak SPL of the last closed window in dB.", func(s status.Snapshot) float64 {
		return s.LastPeak
	})
	gauge("mqtt_connected", "Whether the local broker connection is up.", func(s status.Snapshot) float64 {
		if s.MQTTConnected {
			return 1
		}
		return 0
	})
	gauge("http_retry_queue_depth", "Messages waiting in the in-memory HTTP retry queue.", func(s status.Snapshot) float64 {
		return float64(s.HTTPQueueDepth)
	})
	gauge("mqtt_offline_queue_depth", "Messages waiting in the durable MQTT offline queue.", func(s status.Snapshot) float64 {
		return float64(s.DurableQueueDepth)
	})
	gauge("realtime_sent_total", "Realtime measurements delivered over HTTP since startup.", func(s status.Snapshot) float64 {
		return float64(s.Counts.RealtimeSent)
	})
	gauge("threshold_sent_total", "Threshold events delivered over HTTP since startup.", func(s status.Snapshot) float64 {
		return float64(s.Counts.ThresholdSent)
	})
	gauge("sensor_read_errors_total", "Failed sensor reads since startup.", func(s status.Snapshot) float64 {
		return float64(s.Counts.ReadErrors)
	})
	gauge("uptime_seconds", "Seconds since the agent started.", func(s status.Snapshot) float64 {
		return s.Uptime().Seconds()
	})

	return reg
}
