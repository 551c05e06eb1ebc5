package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/storyvault/storyvault/pkg/consistency"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/joblogs"
	"github.com/storyvault/storyvault/pkg/jobs"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
)

var processID = randStringBytes(8)

type Worker struct {
	config *config.Config
	log    logger.Logger

	processFuncs map[string]func(ctx context.Context, job *models.Job) error

	consistencyService *consistency.Service
	jobService         *jobs.Service
	jobLogService      *joblogs.Service

	queue          chan *models.Job
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneScheduling chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, db *bun.DB) *Worker {
	w := &Worker{
		config: cfg,
		log:    logger.New(),

		consistencyService: consistency.NewService(db, consistency.Options{
			BatchSize:   cfg.RepairBatchSize,
			Concurrency: cfg.RepairConcurrency,
		}),
		jobService:    jobs.NewService(db),
		jobLogService: joblogs.NewService(db),

		queue:          make(chan *models.Job, cfg.WorkerProcesses),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneScheduling: make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),
	}

	w.processFuncs = map[string]func(ctx context.Context, job *models.Job) error{
		models.JobTypeReconcile: w.ProcessReconcileJob,
	}

	return w
}

func (w *Worker) Start() {
	go w.fetchJobs()
	go w.scheduleJobs()
	for i := 0; i < w.config.WorkerProcesses; i++ {
		go w.processJobs()
	}
}

func (w *Worker) fetchJobs() {
	duration := 5 * time.Second
	timer := time.NewTimer(duration)

	for {
		select {
		case <-w.shutdown:
			// We're shutting down, so stop adding more jobs to the queue.
			w.doneFetching <- struct{}{}
			return
		case <-timer.C:
			j, err := w.jobService.ListJobs(context.Background(), jobs.ListJobsOptions{
				Limit:              pointerutil.Int(1),
				Statuses:           []string{models.JobStatusPending, models.JobStatusInProgress},
				ProcessIDToExclude: &processID,
			})
			if err != nil {
				w.log.Err(err).Error("list jobs error")
				timer.Reset(duration)
				continue
			}
			for _, job := range j {
				w.queue <- job
			}
			timer.Reset(duration)
		}
	}
}

// scheduleJobs enqueues a reconcile job every ReconcileIntervalMinutes. An
// interval of 0 turns the schedule off.
func (w *Worker) scheduleJobs() {
	if w.config.ReconcileIntervalMinutes <= 0 {
		<-w.shutdown
		w.doneScheduling <- struct{}{}
		return
	}

	duration := time.Duration(w.config.ReconcileIntervalMinutes) * time.Minute
	timer := time.NewTimer(duration)

	for {
		select {
		case <-w.shutdown:
			timer.Stop()
			w.doneScheduling <- struct{}{}
			return
		case <-timer.C:
			if _, err := w.scheduleReconcile(context.Background()); err != nil {
				w.log.Err(err).Error("schedule reconcile error")
			}
			timer.Reset(duration)
		}
	}
}

// scheduleReconcile enqueues a reconcile job unless one is already pending or
// running. It reports whether a job was created.
func (w *Worker) scheduleReconcile(ctx context.Context) (bool, error) {
	job, err := w.jobService.EnqueueReconcile(ctx)
	if errcodes.HasCode(err, "conflict") {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	w.log.Info("scheduled reconcile job", logger.Data{"job_id": job.ID})
	return true, nil
}

func (w *Worker) processJobs() {
	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case job := <-w.queue:
			w.runJob(job)
		}
	}
}

// runJob claims job for this process, runs its process function and records
// the final status.
func (w *Worker) runJob(job *models.Job) {
	// Prep the context to be passed down to the process function.
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"job_id": job.ID, "type": job.Type, "process_id": processID})
	ctx := log.WithContext(context.Background())

	// Update job to be in progress and claimed by this process.
	job.Status = models.JobStatusInProgress
	job.ProcessID = &processID

	err = w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "process_id"},
	})
	if err != nil {
		log.Err(err).Error("update job error")
		return
	}

	// Find and invoke the appropriate process function.
	job.Status = models.JobStatusCompleted
	fn, ok := w.processFuncs[job.Type]
	if !ok {
		log.Error("can't find process function for type")
		job.Status = models.JobStatusFailed
	} else if err := fn(ctx, job); err != nil {
		log.Err(err).Error("process error")
		job.Status = models.JobStatusFailed
	}

	// Completed and failed jobs are not picked up anymore.
	err = w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "data", "progress"},
	})
	if err != nil {
		log.Err(err).Error("update job error")
	}
}

func (w *Worker) Shutdown() {
	close(w.shutdown)

	<-w.doneFetching
	<-w.doneScheduling
	for i := 0; i < w.config.WorkerProcesses; i++ {
		<-w.doneProcessing
	}
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
