package consistency

import (
	"context"

	"github.com/pkg/errors"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
)

// PaidChaptersByStory computes the flag for every story in storyIDs from a
// flat chapter list. Stories without chapters map to false.
func PaidChaptersByStory(storyIDs []int, chapters []*models.Chapter) map[int]bool {
	result := make(map[int]bool, len(storyIDs))
	for _, id := range storyIDs {
		result[id] = false
	}
	for _, ch := range chapters {
		if _, ok := result[ch.StoryID]; ok && ch.IsPaid {
			result[ch.StoryID] = true
		}
	}
	return result
}

// Calculator computes has_paid_chapters from the chapters table. It never
// writes.
type Calculator struct {
	db bun.IDB
}

func NewCalculator(db bun.IDB) *Calculator {
	return &Calculator{db}
}

// CalculateHasPaidChapters runs an existence check, which stops at the first
// paid chapter found through the (story_id, is_paid) index.
func (calc *Calculator) CalculateHasPaidChapters(ctx context.Context, storyID int) (bool, error) {
	exists, err := calc.db.NewSelect().
		Model((*models.Chapter)(nil)).
		Where("ch.story_id = ?", storyID).
		Where("ch.is_paid = ?", true).
		Exists(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return exists, nil
}

// CalculateBatchHasPaidChapters computes the flag for all of storyIDs with a
// single grouped query that returns one paid chapter stand-in per story.
func (calc *Calculator) CalculateBatchHasPaidChapters(ctx context.Context, storyIDs []int) (map[int]bool, error) {
	if len(storyIDs) == 0 {
		return map[int]bool{}, nil
	}

	var paid []*models.Chapter
	err := calc.db.NewSelect().
		Model((*models.Chapter)(nil)).
		Column("ch.story_id", "ch.is_paid").
		Where("ch.story_id IN (?)", bun.In(storyIDs)).
		Where("ch.is_paid = ?", true).
		Group("ch.story_id", "ch.is_paid").
		Scan(ctx, &paid)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return PaidChaptersByStory(storyIDs, paid), nil
}
