// Command rustflowd is a thin HTTP/WebSocket front end over the engine:
// submit a workflow document, stream its lifecycle events, and route
// inbound webhook requests to whichever running job registered that
// path. It owns no business logic beyond wiring HTTP requests to the
// compiler and scheduler packages, matching the teacher's
// cmd/services/gateway's role as a thin transport layer in front of
// domain packages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/coryv/rustflow/internal/compiler"
	"github.com/coryv/rustflow/internal/graphdef"
	"github.com/coryv/rustflow/internal/nodes"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/platform/config"
	"github.com/coryv/rustflow/internal/platform/logger"
	"github.com/coryv/rustflow/internal/platform/metrics"
	"github.com/coryv/rustflow/internal/platform/telemetry"
	"github.com/coryv/rustflow/internal/scheduler"
)

// runningJob tracks one in-flight or finished job for the HTTP API.
type runningJob struct {
	bus    *scheduler.Bus
	cancel context.CancelFunc

	mu     sync.Mutex
	result *scheduler.Result
}

type server struct {
	log       logger.Logger
	metrics   *metrics.Metrics
	telemetry *telemetry.Telemetry
	mu        sync.RWMutex
	jobs      map[string]*runningJob
}

func newServer(log logger.Logger, m *metrics.Metrics, t *telemetry.Telemetry) *server {
	return &server{log: log, metrics: m, telemetry: t, jobs: make(map[string]*runningJob)}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.HTTPMetricsMiddleware())
	r.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	r.HandleFunc("/workflows", s.handleSubmitWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/workflows/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/workflows/{id}/events", s.handleJobEvents)
	r.PathPrefix("/webhooks/").HandlerFunc(s.handleWebhook)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, noderuntime.Global.List())
}

func (s *server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	def, err := graphdef.Parse(doc)
	if err != nil {
		http.Error(w, fmt.Sprintf("parse workflow: %v", err), http.StatusBadRequest)
		return
	}
	jobID := uuid.New().String()
	bus := scheduler.NewBus()
	graph, err := compiler.Compile(def, compiler.Options{Registry: noderuntime.Global, EdgeEmit: scheduler.EdgeEmit(jobID, bus)})
	if err != nil {
		http.Error(w, fmt.Sprintf("compile workflow: %v", err), http.StatusUnprocessableEntity)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	rj := &runningJob{bus: bus, cancel: cancel}
	s.mu.Lock()
	s.jobs[jobID] = rj
	s.mu.Unlock()

	job := &scheduler.Job{ID: jobID, Trigger: "http", Graph: graph, Bus: bus, Logger: s.log, Metrics: s.metrics}
	if s.telemetry != nil {
		job.Tracer = s.telemetry.Tracer()
	}
	go func() {
		result := scheduler.Run(ctx, job)
		rj.mu.Lock()
		rj.result = result
		rj.mu.Unlock()
		bus.Close()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	s.mu.RLock()
	rj, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	rj.mu.Lock()
	result := rj.result
	rj.mu.Unlock()

	if result == nil {
		writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "status": string(scheduler.StatusRunning)})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleJobEvents streams a job's event bus over a WebSocket connection
// until the job finishes or the client disconnects, grounded on the
// Bus's non-blocking per-subscriber broadcast model.
func (s *server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	s.mu.RLock()
	rj, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("rustflowd: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := rj.bus.Subscribe()
	defer rj.bus.Unsubscribe(sub)

	for ev := range sub {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	nodes.HandleWebhook(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	cfg, err := config.Load("rustflowd")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Logger)
	log.Info("Starting rustflowd", "version", cfg.Version, "port", cfg.HTTP.Port)

	m := metrics.NewMetrics("rustflow")

	tel, err := telemetry.New(telemetry.Config{
		ServiceName:    "rustflowd",
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		log.Error("failed to initialize telemetry", "error", err)
		tel = nil
	}
	if tel != nil {
		defer tel.Close()
	}

	srv := newServer(log, m, tel)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      srv.routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("rustflowd stopped gracefully")
}
