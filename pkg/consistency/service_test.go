package consistency

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/migrations"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
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

func createStory(ctx context.Context, t *testing.T, db *bun.DB, story *models.Story) *models.Story {
	t.Helper()
	if story.Title == "" {
		story.Title = story.Slug
	}
	_, err := db.NewInsert().Model(story).Exec(ctx)
	require.NoError(t, err)
	return story
}

func createChapter(ctx context.Context, t *testing.T, db *bun.DB, storyID int, isPaid bool) *models.Chapter {
	t.Helper()
	ch := &models.Chapter{StoryID: storyID, Title: "chapter", IsPaid: isPaid}
	if isPaid {
		ch.Price = 10
	}
	_, err := db.NewInsert().Model(ch).Exec(ctx)
	require.NoError(t, err)
	return ch
}

func storedFlag(ctx context.Context, t *testing.T, db *bun.DB, storyID int) bool {
	t.Helper()
	story := &models.Story{}
	err := db.NewSelect().Model(story).Where("s.id = ?", storyID).Scan(ctx)
	require.NoError(t, err)
	return story.HasPaidChapters
}

func testContext() context.Context {
	return logger.New().WithContext(context.Background())
}

func TestPaidChaptersByStory(t *testing.T) {
	t.Parallel()

	chapters := []*models.Chapter{
		{StoryID: 1, IsPaid: false},
		{StoryID: 1, IsPaid: true},
		{StoryID: 2, IsPaid: false},
		{StoryID: 9, IsPaid: true},
	}
	got := PaidChaptersByStory([]int{1, 2, 3}, chapters)
	assert.Equal(t, map[int]bool{1: true, 2: false, 3: false}, got)
}

func TestCalculator(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	db := setupTestDB(t)
	calc := NewCalculator(db)

	free := createStory(ctx, t, db, &models.Story{Slug: "free"})
	perChapter := createStory(ctx, t, db, &models.Story{Slug: "per-chapter"})
	empty := createStory(ctx, t, db, &models.Story{Slug: "empty"})
	createChapter(ctx, t, db, free.ID, false)
	createChapter(ctx, t, db, perChapter.ID, false)
	createChapter(ctx, t, db, perChapter.ID, true)

	got, err := calc.CalculateHasPaidChapters(ctx, free.ID)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = calc.CalculateHasPaidChapters(ctx, perChapter.ID)
	require.NoError(t, err)
	assert.True(t, got)

	batch, err := calc.CalculateBatchHasPaidChapters(ctx, []int{free.ID, perChapter.ID, empty.ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{free.ID: false, perChapter.ID: true, empty.ID: false, 9999: false}, batch)

	batch, err = calc.CalculateBatchHasPaidChapters(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestRepairStory(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	db := setupTestDB(t)
	svc := NewService(db, Options{})

	t.Run("sets the flag once a paid chapter exists and is idempotent", func(t *testing.T) {
		story := createStory(ctx, t, db, &models.Story{Slug: "repair-set"})
		createChapter(ctx, t, db, story.ID, true)

		result, err := svc.RepairStory(ctx, story.ID)
		require.NoError(t, err)
		assert.True(t, result.Updated)
		assert.True(t, result.Value)
		assert.True(t, storedFlag(ctx, t, db, story.ID))

		result, err = svc.RepairStory(ctx, story.ID)
		require.NoError(t, err)
		assert.False(t, result.Updated)
		assert.True(t, result.Value)
	})

	t.Run("clears a stale flag", func(t *testing.T) {
		story := createStory(ctx, t, db, &models.Story{Slug: "repair-clear", HasPaidChapters: true})
		createChapter(ctx, t, db, story.ID, false)

		result, err := svc.RepairStory(ctx, story.ID)
		require.NoError(t, err)
		assert.True(t, result.Updated)
		assert.False(t, result.Value)
		assert.False(t, storedFlag(ctx, t, db, story.ID))
	})

	t.Run("refuses to break mutual exclusion", func(t *testing.T) {
		story := createStory(ctx, t, db, &models.Story{Slug: "repair-conflict", IsPaid: true, Price: 100})
		createChapter(ctx, t, db, story.ID, true)

		_, err := svc.RepairStory(ctx, story.ID)
		require.Error(t, err)
		assert.True(t, errcodes.HasCode(err, errcodes.CodeMutualExclusionViolation))
		assert.False(t, storedFlag(ctx, t, db, story.ID))
	})

	t.Run("unknown story", func(t *testing.T) {
		_, err := svc.RepairStory(ctx, 424242)
		assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
	})
}

func TestRepairStory_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	db := setupTestDB(t)
	svc := NewService(db, Options{})

	story := createStory(ctx, t, db, &models.Story{Slug: "concurrent"})
	createChapter(ctx, t, db, story.ID, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RepairStory(ctx, story.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, storedFlag(ctx, t, db, story.ID))
	result, err := svc.RepairStory(ctx, story.ID)
	require.NoError(t, err)
	assert.False(t, result.Updated)
}

func TestRepairBatch(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	db := setupTestDB(t)
	// A small batch size forces several chunks.
	svc := NewService(db, Options{BatchSize: 2})

	var ids []int
	for i := 0; i < 5; i++ {
		story := createStory(ctx, t, db, &models.Story{Slug: fmt.Sprintf("batch-paid-%d", i)})
		createChapter(ctx, t, db, story.ID, true)
		ids = append(ids, story.ID)
	}
	stale := createStory(ctx, t, db, &models.Story{Slug: "batch-stale", HasPaidChapters: true})
	correct := createStory(ctx, t, db, &models.Story{Slug: "batch-correct"})
	conflict := createStory(ctx, t, db, &models.Story{Slug: "batch-conflict", IsPaid: true, Price: 10})
	createChapter(ctx, t, db, conflict.ID, true)

	input := append([]int{}, ids...)
	input = append(input, stale.ID, correct.ID, conflict.ID, ids[0], 999999)

	results, err := svc.RepairBatch(ctx, input)
	require.NoError(t, err)
	require.Len(t, results, 9, "duplicates are dropped")

	byID := map[int]*RepairResult{}
	for _, r := range results {
		byID[r.StoryID] = r
	}
	for _, id := range ids {
		assert.True(t, byID[id].Updated)
		assert.True(t, byID[id].Value)
		assert.Empty(t, byID[id].Error)
		assert.True(t, storedFlag(ctx, t, db, id))
	}
	assert.True(t, byID[stale.ID].Updated)
	assert.False(t, byID[stale.ID].Value)
	assert.False(t, storedFlag(ctx, t, db, stale.ID))

	assert.False(t, byID[correct.ID].Updated)
	assert.Empty(t, byID[correct.ID].Error)

	assert.False(t, byID[conflict.ID].Updated)
	assert.NotEmpty(t, byID[conflict.ID].Error)
	assert.False(t, storedFlag(ctx, t, db, conflict.ID))

	assert.NotEmpty(t, byID[999999].Error)

	again, err := svc.RepairBatch(ctx, ids)
	require.NoError(t, err)
	for _, r := range again {
		assert.False(t, r.Updated)
	}
}

func TestRepairBatch_Empty(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := NewService(db, Options{})

	results, err := svc.RepairBatch(testContext(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecalculateAll(t *testing.T) {
	t.Parallel()
	ctx := testContext()
	db := setupTestDB(t)
	svc := NewService(db, Options{Concurrency: 3})

	drifted := 0
	for i := 0; i < 12; i++ {
		story := createStory(ctx, t, db, &models.Story{Slug: fmt.Sprintf("sweep-%d", i)})
		if i%3 == 0 {
			createChapter(ctx, t, db, story.ID, true)
			drifted++
		} else {
			createChapter(ctx, t, db, story.ID, false)
		}
	}
	conflict := createStory(ctx, t, db, &models.Story{Slug: "sweep-conflict", IsPaid: true, Price: 5})
	createChapter(ctx, t, db, conflict.ID, true)

	result, err := svc.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 13, result.Scanned)
	assert.Equal(t, drifted, result.Updated)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []int{conflict.ID}, result.FailedStoryIDs)

	// The sweep leaves no story with both flags set.
	count, err := db.NewSelect().
		Model((*models.Story)(nil)).
		Where("s.is_paid = ?", true).
		Where("s.has_paid_chapters = ?", true).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	result, err = svc.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Updated)
}

func TestChunkInts(t *testing.T) {
	t.Parallel()

	assert.Nil(t, chunkInts(nil, 3))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunkInts([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, chunkInts([]int{1, 2, 3}, 3))
}
