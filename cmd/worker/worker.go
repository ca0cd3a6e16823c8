package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Ishiihara/chroma/assignment"
	"github.com/Ishiihara/chroma/cache"
	"github.com/Ishiihara/chroma/compactor"
	"github.com/Ishiihara/chroma/config"
	"github.com/Ishiihara/chroma/core"
	"github.com/Ishiihara/chroma/hooks"
	"github.com/Ishiihara/chroma/hooks/listeners"
	"github.com/Ishiihara/chroma/logstore"
	"github.com/Ishiihara/chroma/memberlist"
	"github.com/Ishiihara/chroma/segment"
	"github.com/Ishiihara/chroma/server"
	"github.com/Ishiihara/chroma/sysdb"
	"github.com/Ishiihara/chroma/system"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// WorkerParams groups parameters for NewWorker.
type WorkerParams struct {
	Config         *config.Config
	TracerProvider *sdktrace.TracerProvider
	// MetricsPrefix publishes counters on expvar when set.
	MetricsPrefix string
	// Membership overrides the source built from Config.Membership.
	Membership memberlist.Source
	Logger     *slog.Logger
}

// Worker is a fully wired compaction worker.
type Worker struct {
	cfg       *config.Config
	sys       *system.System
	log       *logstore.InMemoryLog
	catalog   *sysdb.Memory
	segments  *segment.LocalManager
	flusher   *segment.Flusher
	hooks     hooks.HookManager
	scheduler *compactor.Scheduler
	pipeline  *compactor.Pipeline
	producer  *system.ComponentHandle[*assignment.Producer]
	ingest    system.Receiver[logstore.Batch]
	zk        *memberlist.ZKSource
	app       *server.AppServer
	logger    *slog.Logger
}

// NewWorker builds and starts every component. Servers are started by Serve.
func NewWorker(ctx context.Context, p WorkerParams) (*Worker, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tp := p.TracerProvider
	if tp == nil {
		tp = sdktrace.NewTracerProvider()
	}

	compression, err := core.ParseCompressionType(cfg.Segment.Compression)
	if err != nil {
		return nil, err
	}
	segments, err := segment.NewLocalManager(segment.LocalManagerParams{
		Dir:         cfg.Segment.DataDir,
		Compression: compression,
		Logger:      logger,
		Tracer:      tp.Tracer("chroma/segment"),
		Metrics:     segment.NewMetrics(p.MetricsPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open segments: %w", err)
	}

	w := &Worker{
		cfg:       cfg,
		sys:       system.New(ctx, system.Params{Logger: logger, MultiThreadWorkers: cfg.Worker.MultiThreadWorkers}),
		log:       logstore.NewInMemoryLog(logger),
		catalog:   sysdb.NewMemory(),
		segments:  segments,
		hooks:     hooks.NewHookManager(logger),
		scheduler: compactor.NewScheduler(),
		logger:    logger.With("component", "Worker"),
	}
	ok := false
	defer func() {
		if !ok {
			w.Close()
		}
	}()

	ing := logstore.NewIngestor(w.log, cfg.Ingest.QueueSize, logger)
	w.ingest = ing.Receiver(system.Start(w.sys, ing))

	w.flusher = segment.NewFlusher(segments, config.ParseDuration(cfg.Segment.FlushInterval, 30*time.Second, logger), logger)
	system.Start(w.sys, w.flusher)

	collections := system.Start(w.sys, cache.NewManager[string, core.Collection](cache.NewLRUCache[string, core.Collection](cfg.Cache.Capacity, nil)))
	segs := system.Start(w.sys, cache.NewManager[string, core.Segment](cache.NewLRUCache[string, core.Segment](cfg.Cache.Capacity, nil)))
	metadata := cache.NewMetadataCache(cache.NewClient(collections), cache.NewClient(segs), w.catalog, logger)

	w.registerListeners(logger)

	cc := cfg.Compaction
	manager := compactor.NewCompactionManager(compactor.ManagerParams{
		Log:       w.log,
		Scheduler: w.scheduler,
		Segments:  segments,
		Hooks:     w.hooks,
		Metadata:  metadata,
		Config: compactor.Config{
			NumWriteTasks:   cc.NumWriteTasks,
			PartitionSize:   cc.PartitionSize,
			MaxJobsInFlight: cc.MaxJobsInFlight,
			MaxWriteRetries: compactor.Retries(cc.MaxWriteRetries),
			BackoffInitial:  config.ParseDuration(cc.BackoffInitial, 100*time.Millisecond, logger),
			BackoffMax:      config.ParseDuration(cc.BackoffMax, 10*time.Second, logger),
			PollInterval:    config.ParseDuration(cc.PollInterval, 100*time.Millisecond, logger),
			ScanBatchSize:   cc.ScanBatchSize,
		},
		Logger:  logger,
		Tracer:  tp.Tracer("chroma/compactor"),
		Metrics: compactor.NewMetrics(p.MetricsPrefix),
	})
	w.pipeline = compactor.StartPipeline(w.sys, manager, compactor.WriterParams{
		RateLimit: cc.WriterRateLimit,
		Workers:   cc.WriterWorkers,
		Logger:    logger,
	})

	w.producer = system.Start(w.sys, assignment.NewProducer(assignment.ProducerParams{
		Self:      cfg.Worker.MyAddress,
		Policy:    assignment.RendezvousPolicy{},
		Log:       w.log,
		Scheduler: w.scheduler,
		Interval:  config.ParseDuration(cc.ScheduleInterval, time.Second, logger),
		BatchSize: cc.ScanBatchSize,
		Logger:    logger,
	}))
	src := p.Membership
	if src == nil {
		if src, err = w.membership(logger); err != nil {
			return nil, err
		}
	}
	if err := assignment.Follow(w.sys.Context(), w.sys, w.producer, src); err != nil {
		return nil, fmt.Errorf("follow memberlist: %w", err)
	}

	if cfg.SelfMonitoring.Enabled {
		collector := server.NewSystemCollector(cfg.Segment.DataDir,
			config.ParseDuration(cfg.SelfMonitoring.Interval, 15*time.Second, logger),
			server.NewSystemMetrics(p.MetricsPrefix), logger)
		system.Start(w.sys, collector)
	}

	w.app, err = server.NewAppServer(server.AppServerParams{
		Config:   cfg,
		Admin:    w.pipeline,
		Ingester: server.IngesterFunc(w.Ingest),
		Services: []string{"compaction", "producer"},
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return w, nil
}

func (w *Worker) registerListeners(logger *slog.Logger) {
	cc := w.cfg.Compaction
	alerter := listeners.NewFailureAlerterListener(logger, cc.FailureAlertAfter)
	w.hooks.Register(hooks.EventOnJobFailed, alerter)
	w.hooks.Register(hooks.EventPostCompaction, alerter)
	w.hooks.Register(hooks.EventPostCompaction, listeners.NewDedupRatioListener(logger))
	w.hooks.Register(hooks.EventPostWriteTask, listeners.NewSlowWriteDetectorListener(logger,
		config.ParseDuration(cc.SlowWriteThreshold, 5*time.Second, logger)))
	if len(cc.BlockedCollections) > 0 {
		w.hooks.Register(hooks.EventPreCompaction, listeners.NewCollectionBlocklistListener(cc.BlockedCollections...))
	}
}

func (w *Worker) membership(logger *slog.Logger) (memberlist.Source, error) {
	m := w.cfg.Membership
	switch m.Mode {
	case "zookeeper":
		zk, err := memberlist.NewZKSource(memberlist.ZKParams{
			Servers:        m.Servers,
			Root:           m.Root,
			Self:           w.cfg.Worker.MyAddress,
			SessionTimeout: config.ParseDuration(m.SessionTimeout, 5*time.Second, logger),
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		w.zk = zk
		return zk, nil
	default:
		members := m.Members
		if len(members) == 0 {
			members = []string{w.cfg.Worker.MyAddress}
		}
		return memberlist.StaticSource{Members: members}, nil
	}
}

// Ingest registers the collections of records in the catalog when they are
// new and appends the records to the log.
func (w *Worker) Ingest(ctx context.Context, tenantID string, records []*core.EmbeddingRecord) (int, error) {
	seen := make(map[string]struct{})
	for _, r := range records {
		if r == nil || r.CollectionID == "" {
			continue
		}
		if _, ok := seen[r.CollectionID]; ok {
			continue
		}
		seen[r.CollectionID] = struct{}{}
		err := w.catalog.CreateCollection(ctx, core.Collection{ID: r.CollectionID, Name: r.CollectionID, Tenant: tenantID})
		if err != nil && !errors.Is(err, sysdb.ErrAlreadyExists) {
			return 0, err
		}
		err = w.catalog.CreateSegment(ctx, core.Segment{
			ID:           core.RecordSegmentID(r.CollectionID),
			Type:         core.SegmentTypeRecord,
			Scope:        core.SegmentScopeMetadata,
			CollectionID: r.CollectionID,
		})
		if err != nil && !errors.Is(err, sysdb.ErrAlreadyExists) {
			return 0, err
		}
	}
	return logstore.Ingest(ctx, w.ingest, tenantID, records)
}

// Serve runs the network servers until ctx is done or one of them fails.
// Components that exit early are reported NOT_SERVING on the health service.
func (w *Worker) Serve(ctx context.Context) error {
	if g := w.app.GRPC(); g != nil {
		go g.Watch(ctx, "compaction", w.pipeline.Manager.Done())
		go g.Watch(ctx, "producer", w.producer.Done())
	}
	return w.app.Start(ctx)
}

// Close stops components in dependency order and flushes what is buffered.
func (w *Worker) Close() {
	if w.app != nil {
		w.app.Stop()
	}
	if w.producer != nil {
		w.producer.Stop()
	}
	if w.pipeline != nil {
		w.pipeline.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if w.flusher != nil {
		if err := w.flusher.FlushAll(ctx); err != nil {
			w.logger.Warn("Final flush incomplete.", "error", err)
		}
	}
	w.sys.Stop()
	if err := w.sys.Join(ctx); err != nil {
		w.logger.Warn("Components did not stop in time.", "error", err)
	}
	w.hooks.Stop()
	if w.zk != nil {
		_ = w.zk.Close()
	}
	if err := w.segments.Close(); err != nil {
		w.logger.Warn("Closing segments failed.", "error", err)
	}
}
