package chapters

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/storyvault/storyvault/pkg/config"
	"github.com/storyvault/storyvault/pkg/consistency"
	"github.com/storyvault/storyvault/pkg/database"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/storyvault/storyvault/pkg/pricing"
	"github.com/uptrace/bun"
)

type RetrieveChapterOptions struct {
	ID *int
}

type ListChaptersOptions struct {
	StoryID     *int
	IsPublished *bool
	Limit       *int
	Offset      *int

	includeTotal bool
}

type UpdateChapterOptions struct {
	Columns []string
}

type Service struct {
	db         *bun.DB
	repair     *consistency.Service
	maxRetries int
	maxBulk    int
}

func NewService(db *bun.DB, cfg *config.Config) *Service {
	return &Service{
		db: db,
		repair: consistency.NewService(db, consistency.Options{
			BatchSize:   cfg.RepairBatchSize,
			Concurrency: cfg.RepairConcurrency,
		}),
		maxRetries: cfg.DatabaseMaxRetries,
		maxBulk:    cfg.MaxBulkChapters,
	}
}

func (svc *Service) RetrieveChapter(ctx context.Context, opts RetrieveChapterOptions) (*models.Chapter, error) {
	chapter := &models.Chapter{}

	q := svc.db.NewSelect().
		Model(chapter)

	if opts.ID != nil {
		q = q.Where("ch.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Chapter")
		}
		return nil, errors.WithStack(err)
	}

	return chapter, nil
}

func (svc *Service) ListChapters(ctx context.Context, opts ListChaptersOptions) ([]*models.Chapter, error) {
	c, _, err := svc.listChaptersWithTotal(ctx, opts)
	return c, errors.WithStack(err)
}

func (svc *Service) ListChaptersWithTotal(ctx context.Context, opts ListChaptersOptions) ([]*models.Chapter, int, error) {
	opts.includeTotal = true
	return svc.listChaptersWithTotal(ctx, opts)
}

func (svc *Service) listChaptersWithTotal(ctx context.Context, opts ListChaptersOptions) ([]*models.Chapter, int, error) {
	chapters := []*models.Chapter{}
	var total int
	var err error

	q := svc.db.NewSelect().
		Model(&chapters).
		Order("ch.sort_order ASC", "ch.id ASC")

	if opts.StoryID != nil {
		q = q.Where("ch.story_id = ?", *opts.StoryID)
	}
	if opts.IsPublished != nil {
		q = q.Where("ch.is_published = ?", *opts.IsPublished)
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return chapters, total, nil
}

// CreateChapter validates the chapter's pricing against its story and
// inserts it at the end of the story unless a sort order is given. Adding a
// paid chapter repairs the story's flag afterwards.
func (svc *Service) CreateChapter(ctx context.Context, chapter *models.Chapter) error {
	now := time.Now()
	if chapter.CreatedAt.IsZero() {
		chapter.CreatedAt = now
	}
	chapter.UpdatedAt = chapter.CreatedAt

	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		err := pricing.NewService(tx).ValidateChapterPricing(ctx, chapter.StoryID, pricing.ChapterDraft{
			IsPaid: chapter.IsPaid,
			Price:  chapter.Price,
		})
		if err != nil {
			return err
		}

		if chapter.SortOrder == 0 {
			chapter.SortOrder, err = nextSortOrder(ctx, tx, chapter.StoryID)
			if err != nil {
				return err
			}
		}

		_, err = tx.NewInsert().
			Model(chapter).
			Returning("*").
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return err
	}

	if chapter.IsPaid {
		svc.repairStories(ctx, chapter.StoryID)
	}
	return nil
}

// UpdateChapter writes the given columns. A chapter's story is changed with
// MoveChapter, never here.
func (svc *Service) UpdateChapter(ctx context.Context, chapter *models.Chapter, opts UpdateChapterOptions) error {
	columns := slices.DeleteFunc(slices.Clone(opts.Columns), func(c string) bool {
		return c == "story_id"
	})
	if len(columns) == 0 {
		return nil
	}

	chapter.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")

	stored := &models.Chapter{}
	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(stored).
			Column("ch.id", "ch.story_id", "ch.is_paid", "ch.price").
			Where("ch.id = ?", chapter.ID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Chapter")
			}
			return errors.WithStack(err)
		}
		chapter.StoryID = stored.StoryID

		if slices.Contains(columns, "is_paid") || slices.Contains(columns, "price") {
			err = pricing.NewService(tx).ValidateChapterPricing(ctx, stored.StoryID, pricing.ChapterDraft{
				IsPaid: chapter.IsPaid,
				Price:  chapter.Price,
			})
			if err != nil {
				return err
			}
		}

		_, err = tx.NewUpdate().
			Model(chapter).
			Column(columns...).
			WherePK().
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return err
	}

	if slices.Contains(columns, "is_paid") && stored.IsPaid != chapter.IsPaid {
		svc.repairStories(ctx, stored.StoryID)
	}
	return nil
}

// DeleteChapter removes a chapter. Removing a paid chapter repairs its story.
func (svc *Service) DeleteChapter(ctx context.Context, id int) error {
	chapter := &models.Chapter{}
	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(chapter).
			Column("ch.id", "ch.story_id", "ch.is_paid").
			Where("ch.id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Chapter")
			}
			return errors.WithStack(err)
		}

		_, err = tx.NewDelete().
			Model((*models.Chapter)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return err
	}

	if chapter.IsPaid {
		svc.repairStories(ctx, chapter.StoryID)
	}
	return nil
}

// MoveChapter moves a chapter to the end of another story. The chapter's
// pricing has to be allowed on the target story. Both stories are repaired
// afterwards.
func (svc *Service) MoveChapter(ctx context.Context, id, targetStoryID int) (*models.Chapter, error) {
	chapter := &models.Chapter{}
	var fromStoryID int
	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(chapter).
			Where("ch.id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Chapter")
			}
			return errors.WithStack(err)
		}
		fromStoryID = chapter.StoryID
		if fromStoryID == targetStoryID {
			return nil
		}

		err = pricing.NewService(tx).ValidateChapterPricing(ctx, targetStoryID, pricing.ChapterDraft{
			IsPaid: chapter.IsPaid,
			Price:  chapter.Price,
		})
		if err != nil {
			return err
		}

		chapter.StoryID = targetStoryID
		chapter.SortOrder, err = nextSortOrder(ctx, tx, targetStoryID)
		if err != nil {
			return err
		}
		chapter.UpdatedAt = time.Now()

		_, err = tx.NewUpdate().
			Model(chapter).
			Column("story_id", "sort_order", "updated_at").
			WherePK().
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, err
	}

	if fromStoryID != targetStoryID {
		svc.repairStories(ctx, fromStoryID, targetStoryID)
	}
	return chapter, nil
}

// RepairStories exposes a targeted repair of the given stories.
func (svc *Service) RepairStories(ctx context.Context, storyIDs []int) ([]*consistency.RepairResult, error) {
	return svc.repair.RepairBatch(ctx, storyIDs)
}

// repairStories recomputes has_paid_chapters after a chapter write has been
// committed. Failures are logged and left for the reconciliation sweep; they
// never fail the write that triggered them.
func (svc *Service) repairStories(ctx context.Context, storyIDs ...int) []int {
	log := logger.FromContext(ctx)

	results, err := svc.repair.RepairBatch(ctx, storyIDs)
	if err != nil {
		log.Err(err).Warn("has_paid_chapters repair failed", logger.Data{"story_ids": storyIDs})
		return []int{}
	}

	repaired := make([]int, 0, len(results))
	for _, result := range results {
		if result.Error != "" {
			log.Warn("has_paid_chapters repair failed", logger.Data{
				"story_id": result.StoryID,
				"error":    result.Error,
			})
			continue
		}
		repaired = append(repaired, result.StoryID)
	}
	return repaired
}

func nextSortOrder(ctx context.Context, tx bun.Tx, storyID int) (int, error) {
	var last int
	err := tx.NewSelect().
		Model((*models.Chapter)(nil)).
		ColumnExpr("COALESCE(MAX(ch.sort_order), 0)").
		Where("ch.story_id = ?", storyID).
		Scan(ctx, &last)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return last + 1, nil
}
