package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

type readiness struct {
	mu                sync.RWMutex
	sessionReady      bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

// CheckStatus is one dependency line of the /ready response.
type CheckStatus struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckStatus `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

// SetSessionReady marks whether the session runner is accepting commands.
func (s *Server) SetSessionReady(ready bool) {
	s.readiness.mu.Lock()
	s.readiness.sessionReady = ready
	s.readiness.mu.Unlock()
}

// SetMQTTState records broker connectivity. An optional dependency never
// makes the service unready.
func (s *Server) SetMQTTState(connected, optional bool) {
	s.readiness.mu.Lock()
	s.readiness.mqttConnected = connected
	s.readiness.mqttOptional = optional
	s.readiness.mu.Unlock()
}

// SetPostgresState records journal connectivity.
func (s *Server) SetPostgresState(connected, optional bool) {
	s.readiness.mu.Lock()
	s.readiness.postgresConnected = connected
	s.readiness.postgresOptional = optional
	s.readiness.mu.Unlock()
}

// FollowLinks keeps the MQTT readiness flag in step with mqtt.* events
// until ctx is done.
func (s *Server) FollowLinks(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			switch e.Name {
			case "mqtt.connected":
				s.setMQTTConnected(true)
			case "mqtt.disconnected":
				s.setMQTTConnected(false)
			}
		}
	}
}

func (s *Server) setMQTTConnected(connected bool) {
	s.readiness.mu.Lock()
	s.readiness.mqttConnected = connected
	s.readiness.mu.Unlock()
}

func check(ok, optional bool) CheckStatus {
	switch {
	case ok:
		return CheckStatus{Status: "ok", Optional: optional}
	case optional:
		return CheckStatus{Status: "unavailable", Optional: true}
	default:
		return CheckStatus{Status: "not_ready"}
	}
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	rd := s.readiness
	rd.mu.RLock()
	resp := ReadinessResponse{
		Ready: true,
		Checks: map[string]CheckStatus{
			"session":  check(rd.sessionReady, false),
			"mqtt":     check(rd.mqttConnected, rd.mqttOptional),
			"postgres": check(rd.postgresConnected, rd.postgresOptional),
		},
	}
	rd.mu.RUnlock()

	var reasons []string
	for _, name := range []string{"session", "mqtt", "postgres"} {
		if resp.Checks[name].Status == "not_ready" {
			resp.Ready = false
			reasons = append(reasons, name+" not ready")
		}
	}

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
		resp.NotReadyMsg = strings.Join(reasons, "; ")
	}
	writeJSON(w, code, resp)
}
