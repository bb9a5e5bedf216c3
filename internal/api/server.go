package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/AaronLay10/soundstage/internal/config"
	"github.com/AaronLay10/soundstage/internal/display"
	"github.com/AaronLay10/soundstage/internal/events"
	"github.com/AaronLay10/soundstage/internal/resources"
	"github.com/AaronLay10/soundstage/internal/sequencer"
	"github.com/AaronLay10/soundstage/internal/session"
	"github.com/AaronLay10/soundstage/internal/storage/postgres"
)

// Operator drives the session. session.Runner implements it.
type Operator interface {
	Start(ctx context.Context, sceneID string) error
	Step(ctx context.Context) error
	Jump(ctx context.Context, sceneID string) error
	Status(ctx context.Context) (session.Status, error)
}

// FrameSource exposes the last rendered art frame.
type FrameSource interface {
	Frame() (display.Frame, bool)
}

// JournalReader reads back the diagnostics journal.
type JournalReader interface {
	Query(ctx context.Context, limit int) ([]postgres.EventRow, error)
}

// Server serves the operator HTTP surface.
type Server struct {
	cfg     config.APIConfig
	bus     *events.Bus
	op      Operator
	frames  FrameSource
	journal JournalReader
	auth    *authConfig

	readiness *readiness
	metrics   *metricsState
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithFrames enables GET /art/current.
func WithFrames(f FrameSource) Option {
	return func(s *Server) { s.frames = f }
}

// WithJournal enables GET /journal.
func WithJournal(j JournalReader) Option {
	return func(s *Server) { s.journal = j }
}

// New creates a server. Auth is enabled when cfg carries admin credentials.
func New(cfg config.APIConfig, bus *events.Bus, op Operator, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		bus:       bus,
		op:        op,
		auth:      newAuth(cfg),
		readiness: &readiness{},
		metrics:   &metricsState{startTime: time.Now()},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.uiHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.HandleFunc("/events", s.requireAnyRole(s.eventsHandler))
	mux.HandleFunc("/ws/events", s.requireAnyRole(s.wsEventsHandler))
	mux.HandleFunc("/state", s.requireAnyRole(s.stateHandler))
	mux.HandleFunc("/operator/start", s.requireAnyRole(s.operatorStartHandler))
	mux.HandleFunc("/operator/step", s.requireAnyRole(s.operatorStepHandler))
	mux.HandleFunc("/operator/jump", s.requireAnyRole(s.operatorJumpHandler))
	mux.HandleFunc("/art/current", s.requireAnyRole(s.artHandler))
	mux.HandleFunc("/journal", s.requireAdmin(s.journalHandler))
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tlsCfg, err := LoadTLSConfig(s.cfg)
	if err != nil {
		return err
	}
	srv.TLSConfig = tlsCfg

	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			log.Printf("API listening on %s (TLS)", srv.Addr)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		log.Printf("API listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.bus.CloseAllSubscribers()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "soundstage",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	writeJSON(w, http.StatusOK, s.bus.RecentEvents(n))
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.op.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type OperatorRequest struct {
	Scene string `json:"scene"`
}

type OperatorResponse struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Status *session.Status `json:"status,omitempty"`
}

func (s *Server) operatorStartHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOperator(w, r)
	if !ok {
		return
	}
	s.respond(w, r, s.op.Start(r.Context(), req.Scene))
}

func (s *Server) operatorStepHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, OperatorResponse{OK: false, Error: "method not allowed"})
		return
	}
	s.respond(w, r, s.op.Step(r.Context()))
}

func (s *Server) operatorJumpHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOperator(w, r)
	if !ok {
		return
	}
	s.respond(w, r, s.op.Jump(r.Context(), req.Scene))
}

// decodeOperator validates method and body of an operator request.
func decodeOperator(w http.ResponseWriter, r *http.Request) (OperatorRequest, bool) {
	var req OperatorRequest
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, OperatorResponse{OK: false, Error: "method not allowed"})
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, OperatorResponse{OK: false, Error: "invalid JSON"})
		return req, false
	}
	if req.Scene == "" {
		writeJSON(w, http.StatusBadRequest, OperatorResponse{OK: false, Error: "scene required"})
		return req, false
	}
	return req, true
}

// respond reports a command result together with the position it left.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	resp := OperatorResponse{OK: true}
	if st, err := s.op.Status(r.Context()); err == nil {
		resp.Status = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) artHandler(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		writeJSON(w, http.StatusNotFound, OperatorResponse{OK: false, Error: "display disabled"})
		return
	}
	frame, ok := s.frames.Frame()
	if !ok {
		writeJSON(w, http.StatusNotFound, OperatorResponse{OK: false, Error: "no art shown"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Art-Id", frame.ArtID)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(frame.PNG)
}

func (s *Server) journalHandler(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, OperatorResponse{OK: false, Error: "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.journal.Query(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, OperatorResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// statusFor maps sequencer and session errors to HTTP codes.
func statusFor(err error) int {
	var missing *resources.MissingResourceError
	var cycle *sequencer.CueCycleError
	switch {
	case errors.As(err, &missing):
		return http.StatusNotFound
	case errors.Is(err, sequencer.ErrInvalidState), errors.As(err, &cycle):
		return http.StatusConflict
	case errors.Is(err, session.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), OperatorResponse{OK: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
