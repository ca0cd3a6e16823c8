package assignment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Ishiihara/chroma/compactor"
	"github.com/Ishiihara/chroma/logstore"
	"github.com/Ishiihara/chroma/memberlist"
	"github.com/Ishiihara/chroma/system"
)

// CollectionLister lists the collections present in the log.
type CollectionLister interface {
	Collections() []logstore.CollectionRecord
}

// TaskScheduler accepts compaction tasks.
type TaskScheduler interface {
	Schedule(task compactor.Task) error
}

// ProducerParams groups parameters for NewProducer.
type ProducerParams struct {
	Self      string
	Policy    Policy
	Log       CollectionLister
	Scheduler TaskScheduler
	Interval  time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// Producer schedules compaction of the collections this worker owns. It
// keeps a per-collection cursor of the next offset to compact and, on
// every tick, schedules one task per owned collection whose log has moved
// past the cursor.
type Producer struct {
	self      string
	policy    Policy
	log       CollectionLister
	scheduler TaskScheduler
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	members memberlist.Memberlist
	cursors map[string]int64
}

func NewProducer(params ProducerParams) *Producer {
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Producer{
		self:      params.Self,
		policy:    params.Policy,
		log:       params.Log,
		scheduler: params.Scheduler,
		interval:  params.Interval,
		batchSize: params.BatchSize,
		logger:    logger.With("component", "TaskProducer"),
		cursors:   make(map[string]int64),
	}
	if p.policy == nil {
		p.policy = RendezvousPolicy{}
	}
	if p.interval <= 0 {
		p.interval = time.Second
	}
	if p.batchSize <= 0 {
		p.batchSize = compactor.DefaultScanBatchSize
	}
	return p
}

func (p *Producer) Name() string                 { return "TaskProducer" }
func (p *Producer) QueueSize() int               { return 10 }
func (p *Producer) Placement() system.Placement { return system.PlacementGlobal }
func (p *Producer) OnStart(*system.Context)      {}

// Run schedules work on every tick until ctx is done.
func (p *Producer) Run(ctx context.Context, _ *system.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// HandleMemberlist replaces the current member set.
func (p *Producer) HandleMemberlist(_ context.Context, members memberlist.Memberlist, _ *system.Context) {
	members = members.Normalize()
	p.mu.Lock()
	changed := !members.Equal(p.members)
	p.members = members
	p.mu.Unlock()
	if changed {
		p.logger.Info("Memberlist updated.", "members", len(members), "self_member", members.Contains(p.self))
	}
}

// Owns reports whether this worker owns collectionID under the current
// memberlist.
func (p *Producer) Owns(collectionID string) bool {
	p.mu.Lock()
	members := p.members
	p.mu.Unlock()
	owner, err := p.policy.Assign(collectionID, members)
	return err == nil && owner == p.self
}

// Tick schedules one task per owned collection with unscheduled records
// and returns how many were scheduled.
func (p *Producer) Tick() int {
	scheduled := 0
	for _, coll := range p.log.Collections() {
		if !p.Owns(coll.ID) {
			continue
		}
		p.mu.Lock()
		cursor := p.cursors[coll.ID]
		p.mu.Unlock()
		if coll.LatestOffset < cursor {
			continue
		}
		n := int(min(coll.LatestOffset-cursor+1, int64(p.batchSize)))
		task := compactor.NewTask(coll.ID, coll.TenantID, cursor)
		task.BatchSize = n

		if err := p.scheduler.Schedule(task); err != nil {
			if !errors.Is(err, compactor.ErrAlreadyScheduled) {
				p.logger.Warn("Failed to schedule compaction.", "collection_id", coll.ID, "error", err)
			}
			continue
		}
		p.mu.Lock()
		p.cursors[coll.ID] = cursor + int64(n)
		p.mu.Unlock()
		scheduled++
		p.logger.Debug("Scheduled compaction.", "collection_id", coll.ID, "offset", cursor, "batch_size", n)
	}
	return scheduled
}

// Cursor returns the next offset that will be scheduled for collectionID.
func (p *Producer) Cursor(collectionID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursors[collectionID]
}

// Follow starts streaming memberlist updates from src into the producer.
func Follow(ctx context.Context, sys *system.System, h *system.ComponentHandle[*Producer], src memberlist.Source) error {
	updates, err := src.Watch(ctx)
	if err != nil {
		return err
	}
	system.RegisterStream(sys, h, updates, (*Producer).HandleMemberlist)
	return nil
}

var (
	_ system.Component = (*Producer)(nil)
	_ system.Runner    = (*Producer)(nil)
)
