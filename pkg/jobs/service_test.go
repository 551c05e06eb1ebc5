package jobs

import (
	"context"
	"database/sql"
	"testing"

	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/migrations"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestHasActiveJobByType_NoJobs(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	hasActive, err := svc.HasActiveJobByType(ctx, models.JobTypeReconcile)
	require.NoError(t, err)
	assert.False(t, hasActive)
}

func TestHasActiveJobByType(t *testing.T) {
	tests := []struct {
		status   string
		expected bool
	}{
		{models.JobStatusPending, true},
		{models.JobStatusInProgress, true},
		{models.JobStatusCompleted, false},
		{models.JobStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			db := newTestDB(t)
			svc := NewService(db)
			ctx := context.Background()

			job := &models.Job{
				Type:       models.JobTypeReconcile,
				Status:     tt.status,
				DataParsed: &models.JobReconcileData{},
			}
			require.NoError(t, svc.CreateJob(ctx, job))

			hasActive, err := svc.HasActiveJobByType(ctx, models.JobTypeReconcile)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, hasActive)
		})
	}
}

func TestCreateJob_DefaultsData(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	job := &models.Job{Type: models.JobTypeReconcile, Status: models.JobStatusPending}
	require.NoError(t, svc.CreateJob(ctx, job))
	assert.JSONEq(t, `{"scanned":0,"updated":0,"failed":0}`, job.Data)

	err := svc.CreateJob(ctx, &models.Job{Type: "export", Status: models.JobStatusPending})
	require.Error(t, err)
}

func TestEnqueueReconcile(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	job, err := svc.EnqueueReconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	_, err = svc.EnqueueReconcile(ctx)
	require.Error(t, err)
	assert.True(t, errcodes.HasCode(err, "conflict"))

	job.Status = models.JobStatusCompleted
	job.DataParsed = &models.JobReconcileData{Scanned: 3, Updated: 1}
	job.Data = `{"scanned":3,"updated":1,"failed":0}`
	require.NoError(t, svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status", "data"}}))

	retrieved, err := svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	data, ok := retrieved.DataParsed.(*models.JobReconcileData)
	require.True(t, ok)
	assert.Equal(t, 3, data.Scanned)
	assert.Equal(t, 1, data.Updated)

	second, err := svc.EnqueueReconcile(ctx)
	require.NoError(t, err)

	pending := []string{models.JobStatusPending}
	jobs, total, err := svc.ListJobsWithTotal(ctx, ListJobsOptions{Statuses: pending})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, second.ID, jobs[0].ID)

	reconcile := models.JobTypeReconcile
	all, err := svc.ListJobs(ctx, ListJobsOptions{Type: &reconcile})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.RetrieveJob(ctx, RetrieveJobOptions{ID: func() *int { i := 9999; return &i }()})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
}
