package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/AaronLay10/soundstage/internal/events"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertMQTTDisconnected = "mqtt_disconnected"
	AlertSystemError      = "system_error"
)

// DefaultMQTTAlertDelay is how long the broker may be gone before alerting.
const DefaultMQTTAlertDelay = 30 * time.Second

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	MapName   string                 `json:"map_name"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Alerter watches the bus for link loss and errors and posts alerts to a
// webhook. Without a webhook URL alerts are only logged.
type Alerter struct {
	webhookURL string
	mapName    string
	mqttDelay  time.Duration
	send       func(AlertPayload)

	mu                    sync.Mutex
	mqttDisconnectedSince time.Time
	mqttAlertSent         bool
	lastError             map[string]time.Time
}

// NewAlerter creates an alerter. A zero mqttDelay uses DefaultMQTTAlertDelay.
func NewAlerter(webhookURL, mapName string, mqttDelay time.Duration) *Alerter {
	if mqttDelay <= 0 {
		mqttDelay = DefaultMQTTAlertDelay
	}
	a := &Alerter{
		webhookURL: webhookURL,
		mapName:    mapName,
		mqttDelay:  mqttDelay,
		lastError:  make(map[string]time.Time),
	}
	a.send = a.post
	return a
}

// Follow consumes bus events until ctx is done, checking the MQTT link on
// every tick.
func (a *Alerter) Follow(ctx context.Context, bus *events.Bus, tick time.Duration) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Check(now)
		case e, ok := <-sub:
			if !ok {
				return
			}
			a.Observe(e, time.Now())
		}
	}
}

// Observe updates link state from one event and alerts on errors. The same
// error message is alerted at most once a minute.
func (a *Alerter) Observe(e events.Event, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case e.Name == "mqtt.disconnected":
		if a.mqttDisconnectedSince.IsZero() {
			a.mqttDisconnectedSince = now
		}
	case e.Name == "mqtt.connected":
		if a.mqttAlertSent {
			a.dispatch(AlertMQTTDisconnected, SeverityInfo, "MQTT connection restored", map[string]interface{}{
				"recovered_at": now.UTC().Format(time.RFC3339),
			})
		}
		a.mqttDisconnectedSince = time.Time{}
		a.mqttAlertSent = false
	case e.Level == "error":
		if last, ok := a.lastError[e.Message]; ok && now.Sub(last) < time.Minute {
			return
		}
		a.lastError[e.Message] = now
		a.dispatch(AlertSystemError, SeverityCritical, e.Message, e.Fields)
	}
}

// Check sends the MQTT alert once the broker has been gone long enough.
func (a *Alerter) Check(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mqttAlertSent || a.mqttDisconnectedSince.IsZero() {
		return
	}
	gone := now.Sub(a.mqttDisconnectedSince)
	if gone < a.mqttDelay {
		return
	}
	a.mqttAlertSent = true
	a.dispatch(AlertMQTTDisconnected, SeverityWarning, "MQTT broker disconnected", map[string]interface{}{
		"disconnected_since":   a.mqttDisconnectedSince.UTC().Format(time.RFC3339),
		"disconnected_seconds": int(gone.Seconds()),
	})
}

// dispatch must be called with a.mu held.
func (a *Alerter) dispatch(event, severity, message string, details map[string]interface{}) {
	mapName := a.mapName
	if mapName == "" {
		mapName = "unknown"
	}
	a.send(AlertPayload{
		MapName:   mapName,
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  severity,
		Message:   message,
		Details:   details,
	})
}

func (a *Alerter) post(payload AlertPayload) {
	if a.webhookURL == "" {
		log.Printf("[ALERT] %s severity=%s msg=%q details=%v", payload.Event, payload.Severity, payload.Message, payload.Details)
		return
	}
	go sendWebhook(a.webhookURL, payload)
}

// sendWebhook performs the actual HTTP POST (runs in goroutine).
func sendWebhook(url string, payload AlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("alert: failed to marshal payload: %v", err)
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("alert: webhook POST failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("alert: webhook returned status %d", resp.StatusCode)
	}
}
