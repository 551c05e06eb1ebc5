package worker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/storyvault/storyvault/pkg/models"
)

// ProcessReconcileJob recomputes has_paid_chapters for every story and stores
// the sweep counts on the job. Stories that could not be repaired get one
// warning each in the job's log.
func (w *Worker) ProcessReconcileJob(ctx context.Context, job *models.Job) error {
	jl := w.jobLogService.NewJobLogger(ctx, job.ID)
	jl.Info("starting reconcile", nil)

	result, err := w.consistencyService.RecalculateAll(ctx)
	if err != nil {
		jl.Error("reconcile aborted", err, nil)
		return errors.WithStack(err)
	}

	for _, id := range result.FailedStoryIDs {
		jl.Warn("story could not be repaired", logger.Data{"story_id": id})
	}

	data := &models.JobReconcileData{
		Scanned: result.Scanned,
		Updated: result.Updated,
		Failed:  result.Failed,
	}
	b, err := json.Marshal(data)
	if err != nil {
		return errors.WithStack(err)
	}
	job.Data = string(b)
	job.DataParsed = data
	job.Progress = 100

	jl.Info("finished reconcile", logger.Data{
		"scanned": result.Scanned,
		"updated": result.Updated,
		"failed":  result.Failed,
	})
	return nil
}
