package access

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/storyvault/storyvault/pkg/pricing"
	"github.com/uptrace/bun"
)

const (
	ReasonStoryPurchased         = "story_purchased"
	ReasonStoryNotPurchased      = "story_not_purchased"
	ReasonChapterPurchased       = "chapter_purchased"
	ReasonChapterNotPurchased    = "chapter_not_purchased"
	ReasonFreeContent            = "free_content"
	ReasonAuthenticationRequired = "authentication_required"
)

// Prices are the amounts a caller can show on a paywall.
type Prices struct {
	Story   *int `json:"story,omitempty"`
	Chapter *int `json:"chapter,omitempty"`
}

// Decision is the outcome of an access check. Refinement narrows a denial
// down further, e.g. authentication_required when an anonymous caller hits a
// paywall; Reason keeps the purchase that would be needed.
type Decision struct {
	Granted    bool    `json:"granted"`
	Reason     string  `json:"reason"`
	Refinement string  `json:"refinement,omitempty"`
	Prices     *Prices `json:"prices,omitempty"`
}

// Resolver decides whether a user may view a story or one of its chapters. It
// only reads.
type Resolver struct {
	db bun.IDB
}

// NewResolver returns a resolver reading through db, which may be a
// transaction.
func NewResolver(db bun.IDB) *Resolver {
	return &Resolver{db}
}

// CheckAccess resolves access for userID, which is nil for anonymous callers.
// A missing story is an error rather than a denial.
func (r *Resolver) CheckAccess(ctx context.Context, userID *int, storyID int, chapterID *int) (*Decision, error) {
	story := &models.Story{}
	err := r.db.NewSelect().
		Model(story).
		Where("s.id = ?", storyID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Story")
		}
		return nil, errors.WithStack(err)
	}

	var chapter *models.Chapter
	if chapterID != nil && !story.IsPaid {
		chapter = &models.Chapter{}
		err := r.db.NewSelect().
			Model(chapter).
			Where("ch.id = ?", *chapterID).
			Where("ch.story_id = ?", storyID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errcodes.NotFound("Chapter")
			}
			return nil, errors.WithStack(err)
		}
	}

	var record *models.PurchaseRecord
	if userID != nil && (story.IsPaid || (chapter != nil && chapter.IsPaid)) {
		record, err = r.purchaseRecord(ctx, *userID, storyID, chapterID)
		if err != nil {
			return nil, err
		}
	}

	return Decide(story, chapter, record), nil
}

// purchaseRecord loads the user's active purchases of the story and, when
// given, of the chapter. Purchases are matched by their target; the stored
// story_id is where the money went and goes stale when a chapter is moved.
func (r *Resolver) purchaseRecord(ctx context.Context, userID, storyID int, chapterID *int) (*models.PurchaseRecord, error) {
	var entries []*models.Purchase
	err := r.db.NewSelect().
		Model(&entries).
		Where("p.user_id = ?", userID).
		Where("p.status = ?", models.PurchaseStatusActive).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("p.kind = ? AND p.target_id = ?", models.PurchaseKindStory, storyID)
			if chapterID != nil {
				q = q.WhereOr("p.kind = ? AND p.target_id = ?", models.PurchaseKindChapter, *chapterID)
			}
			return q
		}).
		Order("p.purchase_date ASC", "p.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return models.NewPurchaseRecord(userID, entries), nil
}

// Decide applies the access rules to already loaded state. chapter is nil
// when no chapter was asked for, and record is nil for anonymous callers.
func Decide(story *models.Story, chapter *models.Chapter, record *models.PurchaseRecord) *Decision {
	// A story purchase unlocks everything in either paid model.
	if record != nil && record.ActiveStoryPurchase(story.ID) != nil {
		return &Decision{Granted: true, Reason: ReasonStoryPurchased}
	}

	// Stored flags are never both set, so the error can't happen for rows
	// at rest; treat such a story as sold whole.
	model, err := pricing.ModelOf(story.IsPaid, story.HasPaidChapters)
	if err != nil {
		model = pricing.ModelWholeStory
	}

	if model == pricing.ModelWholeStory {
		price := story.Price
		return deny(record, ReasonStoryNotPurchased, &Prices{Story: &price})
	}

	if chapter == nil || !chapter.IsPaid {
		return &Decision{Granted: true, Reason: ReasonFreeContent}
	}

	if record != nil && record.ActiveChapterPurchase(chapter.ID) != nil {
		return &Decision{Granted: true, Reason: ReasonChapterPurchased}
	}

	price := chapter.Price
	return deny(record, ReasonChapterNotPurchased, &Prices{Chapter: &price})
}

func deny(record *models.PurchaseRecord, reason string, prices *Prices) *Decision {
	d := &Decision{Granted: false, Reason: reason, Prices: prices}
	if record == nil {
		d.Refinement = ReasonAuthenticationRequired
	}
	return d
}
