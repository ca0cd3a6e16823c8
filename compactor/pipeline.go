package compactor

import (
	"context"

	"github.com/Ishiihara/chroma/system"
)

// Pipeline holds the running manager and writer.
type Pipeline struct {
	Manager *system.ComponentHandle[*CompactionManager]
	Writer  *system.ComponentHandle[*CompactionWriter]
}

// StartPipeline starts manager and a writer built from params, and wires
// them to each other. Responses and FlushResponses in params are replaced.
func StartPipeline(sys *system.System, manager *CompactionManager, params WriterParams) *Pipeline {
	mh := system.Start(sys, manager)
	params.Responses = system.AsReceiver(mh.Sender(), (*CompactionManager).HandleWriteTaskResponse)
	params.FlushResponses = system.AsReceiver(mh.Sender(), (*CompactionManager).HandleFlushTaskResponse)
	wh := system.Start(sys, NewCompactionWriter(params))
	manager.Connect(
		system.AsReceiver(wh.Sender(), (*CompactionWriter).HandleWriteTask),
		system.AsReceiver(wh.Sender(), (*CompactionWriter).HandleFlushTask),
	)
	return &Pipeline{Manager: mh, Writer: wh}
}

// Submit queues a task behind the scheduler. It fails with
// ErrAlreadyScheduled while the collection is queued or being compacted.
func (p *Pipeline) Submit(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Manager.Component().Schedule(task)
}

// ReportTimeout tells the manager that a write task timed out.
func (p *Pipeline) ReportTimeout(ctx context.Context, r TimeoutReport) error {
	return ReportTimeout(ctx, p.Manager.Sender(), r.TaskID, r.JobID)
}

// Jobs asks the manager for a snapshot of its live jobs through its mailbox.
func (p *Pipeline) Jobs(ctx context.Context) ([]JobInfo, error) {
	reply := make(chan []JobInfo, 1)
	if err := p.Manager.Sender().Send(ctx, system.Envelope(JobsQuery{Reply: reply}, (*CompactionManager).HandleJobsQuery)); err != nil {
		return nil, err
	}
	select {
	case jobs := <-reply:
		return jobs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop stops both components.
func (p *Pipeline) Stop() {
	p.Manager.Stop()
	p.Writer.Stop()
}

// FailedJobs returns the manager's dead-letter list.
func (p *Pipeline) FailedJobs() []FailedJob {
	return p.Manager.Component().FailedJobs()
}
