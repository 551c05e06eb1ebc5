package worker

import (
	"context"
	"database/sql"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/storyvault/storyvault/pkg/consistency"
	"github.com/storyvault/storyvault/pkg/joblogs"
	"github.com/storyvault/storyvault/pkg/jobs"
	"github.com/storyvault/storyvault/pkg/migrations"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// testContext holds all the dependencies needed for testing the worker.
type testContext struct {
	t          *testing.T
	ctx        context.Context
	db         *bun.DB
	worker     *Worker
	jobService *jobs.Service
}

// newTestContext creates a new test context with an in-memory SQLite database
// and all necessary services initialized.
func newTestContext(t *testing.T) *testContext {
	t.Helper()

	// Create in-memory SQLite database
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	// Run migrations
	_, err = migrations.BringUpToDate(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	jobService := jobs.NewService(db)

	// Create worker
	cfg := config.NewForTest()
	cfg.WorkerProcesses = 1
	w := &Worker{
		config:             cfg,
		log:                logger.New(),
		consistencyService: consistency.NewService(db, consistency.Options{BatchSize: 2, Concurrency: 2}),
		jobService:         jobService,
		jobLogService:      joblogs.NewService(db),
	}
	w.processFuncs = map[string]func(ctx context.Context, job *models.Job) error{
		models.JobTypeReconcile: w.ProcessReconcileJob,
	}

	// Create context with logger
	ctx := logger.New().WithContext(context.Background())

	tc := &testContext{
		t:          t,
		ctx:        ctx,
		db:         db,
		worker:     w,
		jobService: jobService,
	}

	t.Cleanup(func() {
		db.Close()
	})

	return tc
}

// createStory inserts a story with the given stored flag and paid chapters.
func (tc *testContext) createStory(slug string, isPaid, hasPaidChapters bool, paidChapters int) *models.Story {
	tc.t.Helper()

	story := &models.Story{Slug: slug, Title: slug, IsPaid: isPaid, HasPaidChapters: hasPaidChapters}
	if isPaid {
		story.Price = 100
	}
	if _, err := tc.db.NewInsert().Model(story).Exec(tc.ctx); err != nil {
		tc.t.Fatalf("failed to create story: %v", err)
	}

	for i := 0; i < paidChapters; i++ {
		chapter := &models.Chapter{StoryID: story.ID, Title: "chapter", SortOrder: i + 1, IsPaid: true, Price: 10}
		if _, err := tc.db.NewInsert().Model(chapter).Exec(tc.ctx); err != nil {
			tc.t.Fatalf("failed to create chapter: %v", err)
		}
	}

	return story
}

// storedFlag reads has_paid_chapters straight from the database.
func (tc *testContext) storedFlag(storyID int) bool {
	tc.t.Helper()

	story := &models.Story{}
	if err := tc.db.NewSelect().Model(story).Where("s.id = ?", storyID).Scan(tc.ctx); err != nil {
		tc.t.Fatalf("failed to load story: %v", err)
	}
	return story.HasPaidChapters
}
