package stories

import (
	"context"
	"database/sql"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
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

func testCtx() context.Context {
	return logger.New().WithContext(context.Background())
}

func TestCreateStory(t *testing.T) {
	t.Parallel()
	ctx := testCtx()
	svc := NewService(setupTestDB(t), 0)

	story := &models.Story{Title: "The Long Night", IsPaid: true, Price: 120, HasPaidChapters: true}
	require.NoError(t, svc.CreateStory(ctx, story))
	assert.NotZero(t, story.ID)
	assert.Equal(t, "the-long-night", story.Slug)
	assert.False(t, story.HasPaidChapters, "the flag is never taken from the caller")

	got, err := svc.RetrieveStory(ctx, RetrieveStoryOptions{Slug: pointerutil.String("the-long-night")})
	require.NoError(t, err)
	assert.Equal(t, story.ID, got.ID)
	assert.True(t, got.IsPaid)
	assert.Equal(t, 120, got.Price)

	err = svc.CreateStory(ctx, &models.Story{Title: "The Long Night"})
	assert.True(t, errcodes.HasCode(err, "conflict"))

	err = svc.CreateStory(ctx, &models.Story{Title: "Priceless", IsPaid: true})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeModelAViolation))

	err = svc.CreateStory(ctx, &models.Story{Title: "Free But Priced", Price: 10})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeFreeModelViolation))
}

func TestUpdateStory_MutualExclusion(t *testing.T) {
	t.Parallel()
	ctx := testCtx()
	db := setupTestDB(t)
	svc := NewService(db, 0)

	story := &models.Story{Title: "Serial", Slug: "serial"}
	require.NoError(t, svc.CreateStory(ctx, story))
	_, err := db.NewInsert().Model(&models.Chapter{StoryID: story.ID, Title: "One", IsPaid: true, Price: 50}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewUpdate().Model((*models.Story)(nil)).Set("has_paid_chapters = ?", true).Where("id = ?", story.ID).Exec(ctx)
	require.NoError(t, err)

	story.IsPaid = true
	story.Price = 300
	err = svc.UpdateStory(ctx, story, UpdateStoryOptions{Columns: []string{"is_paid", "price"}})
	require.Error(t, err)
	assert.True(t, errcodes.HasCode(err, errcodes.CodeMutualExclusionViolation))

	got, err := svc.RetrieveStory(ctx, RetrieveStoryOptions{ID: &story.ID})
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	assert.Zero(t, got.Price)
}

func TestUpdateStory_StaleFlagUsesLiveChapters(t *testing.T) {
	t.Parallel()
	ctx := testCtx()
	db := setupTestDB(t)
	svc := NewService(db, 0)

	story := &models.Story{Title: "Lagging", Slug: "lagging"}
	require.NoError(t, svc.CreateStory(ctx, story))
	// The chapter is paid but no repair has run yet.
	_, err := db.NewInsert().Model(&models.Chapter{StoryID: story.ID, Title: "One", IsPaid: true, Price: 50}).Exec(ctx)
	require.NoError(t, err)

	story.IsPaid = true
	story.Price = 300
	err = svc.UpdateStory(ctx, story, UpdateStoryOptions{Columns: []string{"is_paid", "price"}})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeModelBViolation))
}

func TestUpdateStory(t *testing.T) {
	t.Parallel()
	ctx := testCtx()
	svc := NewService(setupTestDB(t), 0)

	story := &models.Story{Title: "Plain", Slug: "plain"}
	require.NoError(t, svc.CreateStory(ctx, story))

	story.IsPaid = true
	story.Price = 90
	story.Title = "Premium"
	story.HasPaidChapters = true
	err := svc.UpdateStory(ctx, story, UpdateStoryOptions{Columns: []string{"is_paid", "price", "title", "has_paid_chapters"}})
	require.NoError(t, err)

	got, err := svc.RetrieveStory(ctx, RetrieveStoryOptions{ID: &story.ID})
	require.NoError(t, err)
	assert.True(t, got.IsPaid)
	assert.Equal(t, 90, got.Price)
	assert.Equal(t, "Premium", got.Title)
	assert.False(t, got.HasPaidChapters)

	// Going back to free requires dropping the price too.
	story.IsPaid = false
	err = svc.UpdateStory(ctx, story, UpdateStoryOptions{Columns: []string{"is_paid"}})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeFreeModelViolation))

	story.Price = 0
	err = svc.UpdateStory(ctx, story, UpdateStoryOptions{Columns: []string{"is_paid", "price"}})
	require.NoError(t, err)

	missing := &models.Story{ID: 9999, Title: "x"}
	err = svc.UpdateStory(ctx, missing, UpdateStoryOptions{Columns: []string{"title"}})
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
}

func TestListAndDeleteStories(t *testing.T) {
	t.Parallel()
	ctx := testCtx()
	db := setupTestDB(t)
	svc := NewService(db, 0)

	for _, s := range []*models.Story{
		{Title: "A", IsPublished: true},
		{Title: "B"},
		{Title: "C", IsPublished: true},
	} {
		require.NoError(t, svc.CreateStory(ctx, s))
	}

	all, total, err := svc.ListStoriesWithTotal(ctx, ListStoriesOptions{Limit: pointerutil.Int(2)})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 2)

	published := true
	list, err := svc.ListStories(ctx, ListStoriesOptions{IsPublished: &published})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	story := list[0]
	_, err = db.NewInsert().Model(&models.Chapter{StoryID: story.ID, Title: "One"}).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteStory(ctx, story.ID))
	count, err := db.NewSelect().Model((*models.Chapter)(nil)).Where("ch.story_id = ?", story.ID).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = svc.DeleteStory(ctx, story.ID)
	assert.True(t, errcodes.HasCode(err, errcodes.CodeNotFound))
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "the-long-night", slugify("The Long Night"))
	assert.Equal(t, "hello-world", slugify("Hello, World!"))
	assert.Equal(t, "chapter-2-returns", slugify("  Chapter 2: Returns "))
	assert.Equal(t, "", slugify("!!!"))
}
