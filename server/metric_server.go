package server

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/Ishiihara/chroma/compactor"
	"github.com/Ishiihara/chroma/config"
	"github.com/Ishiihara/chroma/core"
	"github.com/arl/statsviz"
	"github.com/go-chi/chi/v5"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
	maxIngestBody          = 8 << 20
)

// Admin is the compaction surface exposed over HTTP.
type Admin interface {
	Jobs(ctx context.Context) ([]compactor.JobInfo, error)
	FailedJobs() []compactor.FailedJob
	Submit(ctx context.Context, task compactor.Task) error
}

// Ingester appends records to the log for a tenant.
type Ingester interface {
	Ingest(ctx context.Context, tenantID string, records []*core.EmbeddingRecord) (int, error)
}

// IngesterFunc adapts a function to Ingester.
type IngesterFunc func(ctx context.Context, tenantID string, records []*core.EmbeddingRecord) (int, error)

func (f IngesterFunc) Ingest(ctx context.Context, tenantID string, records []*core.EmbeddingRecord) (int, error) {
	return f(ctx, tenantID, records)
}

// DebugServerParams configures NewDebugServer. Admin and Ingester are
// optional; their routes are only mounted when set.
type DebugServerParams struct {
	Config   *config.DebugConfig
	Admin    Admin
	Ingester Ingester
	Logger   *slog.Logger
}

// DebugServer manages the HTTP server for metrics, profiling and the
// compaction admin endpoints.
type DebugServer struct {
	server  *http.Server
	router  chi.Router
	admin   Admin
	ingest  Ingester
	logger  *slog.Logger
	started bool
	mu      sync.Mutex
}

// NewDebugServer creates and configures a new HTTP server.
func NewDebugServer(p DebugServerParams) *DebugServer {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := p.Config
	if cfg == nil {
		cfg = &config.DebugConfig{}
	}
	s := &DebugServer{
		admin:  p.Admin,
		ingest: p.Ingester,
		logger: logger.With("component", "DebugServer"),
	}
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)

	if cfg.PProfEnabled {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/{profile}", http.HandlerFunc(pprof.Index))
		s.logger.Info("pprof profiling endpoints enabled on /debug/pprof")
	}
	if cfg.MetricsEnabled {
		r.Handle("/metrics", expvar.Handler())
		s.logger.Info("expvar metrics endpoint enabled on /metrics")
		if cfg.MonitorUIEnabled {
			mux := http.NewServeMux()
			if err := statsviz.Register(mux,
				statsviz.Root("/viz"),
				statsviz.SendFrequency(250*time.Millisecond),
			); err != nil {
				s.logger.Warn("Could not register statsviz", "error", err)
			} else {
				r.Handle("/viz", mux)
				r.Handle("/viz/*", mux)
				s.logger.Info("Runtime monitor is available at /viz")
			}
		}
	}
	if cfg.AdminEnabled {
		r.Route("/admin", func(r chi.Router) {
			if s.admin != nil {
				r.Get("/jobs", s.handleJobs)
				r.Get("/jobs/failed", s.handleFailedJobs)
				r.Post("/collections/{collectionID}/compact", s.handleCompact)
			}
			if s.ingest != nil {
				r.Post("/collections/{collectionID}/records", s.handleIngest)
			}
		})
	}
	s.router = r

	addr := cfg.ListenAddress
	if addr == "" {
		addr = ":6060"
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for mounting in tests.
func (s *DebugServer) Handler() http.Handler { return s.router }

// Start starts the debug server. It's a blocking call.
func (s *DebugServer) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Debug server listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Debug server failed", "error", err)
		return fmt.Errorf("failed to start debug server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the debug server.
// A Stop that races ahead of Start still makes Start return.
func (s *DebugServer) Stop() {
	s.logger.Info("Stopping debug server...")
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Debug server shutdown failed", "error", err)
	} else {
		s.logger.Info("Debug server stopped gracefully.")
	}
}

func (s *DebugServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *DebugServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.admin.Jobs(r.Context())
	if err != nil {
		s.logger.Warn("Could not list jobs", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *DebugServer) handleFailedJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.FailedJobs())
}

type compactRequest struct {
	TenantID string `json:"tenant_id"`
	Offset   int64  `json:"offset"`
	Batch    int    `json:"batch_size"`
}

func (s *DebugServer) handleCompact(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")
	var req compactRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxIngestBody)).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	task := compactor.NewTask(collectionID, req.TenantID, req.Offset)
	if req.Batch > 0 {
		task.BatchSize = req.Batch
	}
	if err := s.admin.Submit(r.Context(), task); err != nil {
		s.logger.Warn("Could not submit compaction", "collection_id", collectionID, "error", err)
		status := http.StatusServiceUnavailable
		if errors.Is(err, compactor.ErrAlreadyScheduled) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.logger.Info("Compaction submitted", "collection_id", collectionID, "task_id", task.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID.String()})
}

type ingestRecord struct {
	ID        string         `json:"id"`
	Embedding []float32      `json:"embedding"`
	Encoding  string         `json:"encoding"`
	Metadata  map[string]any `json:"metadata"`
	Operation string         `json:"operation"`
}

type ingestRequest struct {
	TenantID string         `json:"tenant_id"`
	Records  []ingestRecord `json:"records"`
}

func (s *DebugServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")
	var req ingestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxIngestBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, "records cannot be empty", http.StatusBadRequest)
		return
	}
	records := make([]*core.EmbeddingRecord, 0, len(req.Records))
	for _, in := range req.Records {
		op, err := parseOperation(in.Operation)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records = append(records, &core.EmbeddingRecord{
			ID:           in.ID,
			Embedding:    in.Embedding,
			Encoding:     in.Encoding,
			Metadata:     in.Metadata,
			Operation:    op,
			CollectionID: collectionID,
		})
	}
	n, err := s.ingest.Ingest(r.Context(), req.TenantID, records)
	if err != nil {
		s.logger.Warn("Ingest failed", "collection_id", collectionID, "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ingested": n})
}

func parseOperation(s string) (core.Operation, error) {
	switch s {
	case "", "add":
		return core.OperationAdd, nil
	case "update":
		return core.OperationUpdate, nil
	case "upsert":
		return core.OperationUpsert, nil
	case "delete":
		return core.OperationDelete, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
