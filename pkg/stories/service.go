package stories

import (
	"context"
	"database/sql"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/database"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/storyvault/storyvault/pkg/pricing"
	"github.com/uptrace/bun"
)

var nonSlugRE = regexp.MustCompile(`[^a-z0-9]+`)

type RetrieveStoryOptions struct {
	ID   *int
	Slug *string
}

type ListStoriesOptions struct {
	Limit       *int
	Offset      *int
	IsPublished *bool

	includeTotal bool
}

type UpdateStoryOptions struct {
	Columns []string
}

type Service struct {
	db         *bun.DB
	maxRetries int
}

func NewService(db *bun.DB, maxRetries int) *Service {
	return &Service{db, maxRetries}
}

// CreateStory inserts a story. New stories have no chapters, so they start
// with has_paid_chapters unset and can only be free or sold whole.
func (svc *Service) CreateStory(ctx context.Context, story *models.Story) error {
	story.HasPaidChapters = false
	price := story.Price
	err := pricing.ValidateStory(pricing.StoryDraft{IsPaid: story.IsPaid, Price: &price})
	if err != nil {
		return err
	}

	if story.Slug == "" {
		story.Slug = slugify(story.Title)
	}
	if story.Slug == "" {
		return errcodes.ValidationError(`"slug" is required`)
	}

	now := time.Now()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.UpdatedAt = story.CreatedAt

	_, err = svc.db.NewInsert().
		Model(story).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errcodes.Conflict("A story with this slug already exists.")
		}
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveStory(ctx context.Context, opts RetrieveStoryOptions) (*models.Story, error) {
	story := &models.Story{}

	q := svc.db.NewSelect().
		Model(story)

	if opts.ID != nil {
		q = q.Where("s.id = ?", *opts.ID)
	}
	if opts.Slug != nil {
		q = q.Where("s.slug = ?", *opts.Slug)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Story")
		}
		return nil, errors.WithStack(err)
	}

	return story, nil
}

func (svc *Service) ListStories(ctx context.Context, opts ListStoriesOptions) ([]*models.Story, error) {
	s, _, err := svc.listStoriesWithTotal(ctx, opts)
	return s, errors.WithStack(err)
}

func (svc *Service) ListStoriesWithTotal(ctx context.Context, opts ListStoriesOptions) ([]*models.Story, int, error) {
	opts.includeTotal = true
	return svc.listStoriesWithTotal(ctx, opts)
}

func (svc *Service) listStoriesWithTotal(ctx context.Context, opts ListStoriesOptions) ([]*models.Story, int, error) {
	stories := []*models.Story{}
	var total int
	var err error

	q := svc.db.NewSelect().
		Model(&stories).
		Order("s.id ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.IsPublished != nil {
		q = q.Where("s.is_published = ?", *opts.IsPublished)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return stories, total, nil
}

// UpdateStory writes the given columns. Writes that touch the purchase model
// are validated against the stored flag and the live chapters in the same
// transaction as the write. has_paid_chapters is never written here.
func (svc *Service) UpdateStory(ctx context.Context, story *models.Story, opts UpdateStoryOptions) error {
	columns := slices.DeleteFunc(slices.Clone(opts.Columns), func(c string) bool {
		return c == "has_paid_chapters"
	})
	if len(columns) == 0 {
		return nil
	}

	story.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")

	return database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		if slices.Contains(columns, "is_paid") || slices.Contains(columns, "price") {
			stored := &models.Story{}
			err := tx.NewSelect().
				Model(stored).
				Column("s.id", "s.has_paid_chapters").
				Where("s.id = ?", story.ID).
				Scan(ctx)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return errcodes.NotFound("Story")
				}
				return errors.WithStack(err)
			}
			story.HasPaidChapters = stored.HasPaidChapters

			price := story.Price
			err = pricing.NewService(tx).ValidateStoryWrite(ctx, story.ID, pricing.StoryDraft{
				IsPaid:          story.IsPaid,
				Price:           &price,
				HasPaidChapters: stored.HasPaidChapters,
			})
			if err != nil {
				return err
			}
		}

		res, err := tx.NewUpdate().
			Model(story).
			Column(columns...).
			WherePK().
			Exec(ctx)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return errcodes.Conflict("A story with this slug already exists.")
			}
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Story")
		}
		return nil
	})
}

// DeleteStory removes a story and its chapters. Purchase entries that point
// at it are kept.
func (svc *Service) DeleteStory(ctx context.Context, id int) error {
	return database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.Chapter)(nil)).
			Where("story_id = ?", id).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		res, err := tx.NewDelete().
			Model((*models.Story)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Story")
		}
		return nil
	})
}

func slugify(title string) string {
	slug := nonSlugRE.ReplaceAllString(strcase.ToKebab(title), "-")
	return strings.Trim(slug, "-")
}
