package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/soundstage/internal/version"
)

// metricsState holds runtime metrics for the /metrics endpoint.
type metricsState struct {
	startTime time.Time
	wsClients atomic.Int64

	mu      sync.RWMutex
	mapName string
}

// SetMapName sets the data map label reported with every metric.
func (s *Server) SetMapName(name string) {
	s.metrics.mu.Lock()
	s.metrics.mapName = name
	s.metrics.mu.Unlock()
}

func boolGauge(v bool) int {
	if v {
		return 1
	}
	return 0
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.metrics.mu.RLock()
	mapName := s.metrics.mapName
	s.metrics.mu.RUnlock()

	s.readiness.mu.RLock()
	mqttConnected := s.readiness.mqttConnected
	postgresConnected := s.readiness.postgresConnected
	s.readiness.mu.RUnlock()

	sceneActive := false
	if st, err := s.op.Status(r.Context()); err == nil {
		sceneActive = st.State == "active"
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	labels := fmt.Sprintf(`map="%s",instance="%s",version="%s"`, mapName, hostname, version.Version)

	writeMetric("soundstage_uptime_seconds", "gauge",
		"Number of seconds since the process started", time.Since(s.metrics.startTime).Seconds(), labels)
	writeMetric("soundstage_scene_active", "gauge",
		"Whether a scene is playing (1) or the sequencer is idle (0)", boolGauge(sceneActive), labels)
	writeMetric("soundstage_events_total", "counter",
		"Total number of events emitted since startup", s.bus.TotalCount(), labels)
	writeMetric("soundstage_mqtt_connected", "gauge",
		"Whether MQTT broker is connected (1) or not (0)", boolGauge(mqttConnected), labels)
	writeMetric("soundstage_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", boolGauge(postgresConnected), labels)
	writeMetric("soundstage_ws_clients", "gauge",
		"Number of active WebSocket client connections", s.metrics.wsClients.Load(), labels)
}
