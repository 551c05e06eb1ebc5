package pricing

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/storyvault/storyvault/pkg/consistency"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
)

// StoryDraft is the monetization state a story write would leave behind.
// A nil Price means no price was given.
type StoryDraft struct {
	IsPaid          bool
	Price           *int
	HasPaidChapters bool
}

// ChapterDraft is the monetization state a chapter write would leave behind.
type ChapterDraft struct {
	IsPaid bool
	Price  int
}

// ValidateStory checks a draft against the monetization rules using only the
// flags it carries.
func ValidateStory(draft StoryDraft) error {
	return validateStory(draft, draft.HasPaidChapters)
}

func validateStory(draft StoryDraft, livePaidChapters bool) error {
	price := 0
	if draft.Price != nil {
		price = *draft.Price
	}
	if price < 0 {
		return errcodes.ValidationError(`"price" must be greater than or equal to 0`)
	}

	if draft.IsPaid && draft.HasPaidChapters {
		return errcodes.RuleViolation(errcodes.CodeMutualExclusionViolation,
			"A story cannot require a whole-story purchase while it has paid chapters.")
	}
	if draft.IsPaid && (draft.Price == nil || price <= 0) {
		return errcodes.RuleViolation(errcodes.CodeModelAViolation,
			"A story sold as a whole must have a positive price.")
	}
	// The stored flag can lag behind the chapters, so the live chapter set is
	// checked as well.
	if draft.IsPaid && livePaidChapters {
		return errcodes.RuleViolation(errcodes.CodeModelBViolation,
			"The story still has paid chapters, so it cannot be sold as a whole.")
	}
	if !draft.IsPaid && !draft.HasPaidChapters && price > 0 {
		return errcodes.RuleViolation(errcodes.CodeFreeModelViolation,
			"A free story cannot have a price.")
	}
	return nil
}

type Service struct {
	db bun.IDB
}

// NewService returns a validator that reads through db, which may be a
// transaction.
func NewService(db bun.IDB) *Service {
	return &Service{db}
}

// ValidateStoryWrite validates a draft for an existing story against both its
// flags and the story's current chapters.
func (svc *Service) ValidateStoryWrite(ctx context.Context, storyID int, draft StoryDraft) error {
	live := false
	if draft.IsPaid {
		var err error
		live, err = consistency.NewCalculator(svc.db).CalculateHasPaidChapters(ctx, storyID)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return validateStory(draft, live)
}

// ValidateChapterPricing checks that a chapter with the given pricing may
// belong to the story.
func (svc *Service) ValidateChapterPricing(ctx context.Context, storyID int, draft ChapterDraft) error {
	if draft.Price < 0 {
		return errcodes.ValidationError(`"price" must be greater than or equal to 0`)
	}
	if draft.IsPaid && draft.Price <= 0 {
		return errcodes.ValidationError("Paid chapters must have a positive price.")
	}

	story := &models.Story{}
	err := svc.db.NewSelect().
		Model(story).
		Column("s.id", "s.is_paid", "s.has_paid_chapters").
		Where("s.id = ?", storyID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Story")
		}
		return errors.WithStack(err)
	}

	if !draft.IsPaid {
		return nil
	}

	model, err := ModelOf(story.IsPaid, story.HasPaidChapters)
	if err != nil {
		return err
	}

	switch model {
	case ModelWholeStory:
		return errcodes.RuleViolation(errcodes.CodeMutualExclusionViolation,
			"Chapters of a story sold as a whole cannot be paid.")
	case ModelFree:
		logger.FromContext(ctx).Info("story will adopt the per-chapter purchase model", logger.Data{
			"story_id": storyID,
		})
	}

	return nil
}
