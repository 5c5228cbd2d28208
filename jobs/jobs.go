// Package jobs runs fire-and-forget reconciliation work (auto-approval,
// cancellation cleanup) on a river queue. The engine itself never retries;
// transient upstream failures surface as job errors and river's retry policy
// takes it from there.
package jobs

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/open-rails/procurekit/events"
	"github.com/open-rails/procurekit/procurement"
)

type AutoApproveArgs struct {
	ProjectID     string `json:"project_id"`
	EntitlementID string `json:"entitlement_id"`
}

func (AutoApproveArgs) Kind() string { return "entitlement_auto_approve" }

type CancelArgs struct {
	ProjectID     string `json:"project_id"`
	EntitlementID string `json:"entitlement_id"`
}

func (CancelArgs) Kind() string { return "entitlement_cancel" }

type AutoApproveWorker struct {
	river.WorkerDefaults[AutoApproveArgs]
	Engine *procurement.Engine
}

func (w *AutoApproveWorker) Work(ctx context.Context, job *river.Job[AutoApproveArgs]) error {
	return w.Engine.AutoApproveEntitlement(ctx, job.Args.ProjectID, job.Args.EntitlementID)
}

type CancelWorker struct {
	river.WorkerDefaults[CancelArgs]
	Engine *procurement.Engine
}

func (w *CancelWorker) Work(ctx context.Context, job *river.Job[CancelArgs]) error {
	return w.Engine.CancelEntitlement(ctx, job.Args.ProjectID, job.Args.EntitlementID)
}

// NewClient assembles a river client with both reconciliation workers
// registered on the default queue.
func NewClient(pool *pgxpool.Pool, engine *procurement.Engine) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, &AutoApproveWorker{Engine: engine})
	river.AddWorker(workers, &CancelWorker{Engine: engine})
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
}

// argsForEvent maps a verified marketplace event to its job args. ok is
// false for event types with no engine-side handling.
func argsForEvent(ev events.Event) (river.JobArgs, bool) {
	switch ev.Type {
	case events.TypeCreationRequested:
		return AutoApproveArgs{ProjectID: ev.ProjectID, EntitlementID: ev.EntitlementID}, true
	case events.TypeCancelled:
		return CancelArgs{ProjectID: ev.ProjectID, EntitlementID: ev.EntitlementID}, true
	}
	return nil, false
}

// EnqueueForEvent inserts the background job matching a verified marketplace
// event. Duplicate deliveries of the same notification dedupe on args.
// Unknown event types are ignored.
func EnqueueForEvent(ctx context.Context, c *river.Client[pgx.Tx], ev events.Event) error {
	args, ok := argsForEvent(ev)
	if !ok {
		return nil
	}
	_, err := c.Insert(ctx, args, &river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	})
	return err
}
