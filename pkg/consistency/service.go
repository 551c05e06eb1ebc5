package consistency

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 25
	defaultConcurrency = 4
	sweepPageSize      = 500
)

// RepairResult is the outcome of repairing one story. Error is set instead of
// Updated/Value when the story could not be repaired.
type RepairResult struct {
	StoryID int    `json:"story_id"`
	Updated bool   `json:"updated"`
	Value   bool   `json:"value"`
	Error   string `json:"error,omitempty"`
}

// SweepResult summarizes a RecalculateAll run.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`

	FailedStoryIDs []int `json:"failed_story_ids,omitempty"`
}

type Options struct {
	// BatchSize is the number of stories written per UPDATE in RepairBatch.
	BatchSize int
	// Concurrency bounds the number of stories RecalculateAll repairs at once.
	Concurrency int
}

type Service struct {
	db          bun.IDB
	calc        *Calculator
	batchSize   int
	concurrency int
}

func NewService(db bun.IDB, opts Options) *Service {
	svc := &Service{
		db:          db,
		calc:        NewCalculator(db),
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultBatchSize
	}
	if svc.concurrency <= 0 {
		svc.concurrency = defaultConcurrency
	}
	return svc
}

// RepairStory recomputes has_paid_chapters for one story and writes it only
// if it changed.
func (svc *Service) RepairStory(ctx context.Context, storyID int) (*RepairResult, error) {
	story := &models.Story{}
	err := svc.db.NewSelect().
		Model(story).
		Column("s.id", "s.is_paid", "s.has_paid_chapters").
		Where("s.id = ?", storyID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Story")
		}
		return nil, errors.WithStack(err)
	}

	value, err := svc.calc.CalculateHasPaidChapters(ctx, storyID)
	if err != nil {
		return nil, err
	}

	result := &RepairResult{StoryID: storyID, Value: value}
	if value == story.HasPaidChapters {
		return result, nil
	}
	if value && story.IsPaid {
		return nil, conflictError(ctx, storyID)
	}

	ok, err := svc.writeFlag(ctx, storyID, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The story switched to whole-story mode between the read and the write.
		return nil, conflictError(ctx, storyID)
	}

	result.Updated = true
	logger.FromContext(ctx).Info("repaired has_paid_chapters", logger.Data{
		"story_id": storyID,
		"value":    value,
	})
	return result, nil
}

// RepairBatch repairs every distinct story in storyIDs. The flag values are
// computed with one grouped query and the writes go out in chunks. A failure
// on one story is reported on its own result and does not affect the others;
// the returned error is only set when nothing could be computed.
func (svc *Service) RepairBatch(ctx context.Context, storyIDs []int) ([]*RepairResult, error) {
	log := logger.FromContext(ctx)
	ids := dedupe(storyIDs)
	if len(ids) == 0 {
		return []*RepairResult{}, nil
	}

	var stories []*models.Story
	err := svc.db.NewSelect().
		Model(&stories).
		Column("s.id", "s.is_paid", "s.has_paid_chapters").
		Where("s.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	byID := make(map[int]*models.Story, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}

	values, err := svc.calc.CalculateBatchHasPaidChapters(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*RepairResult, 0, len(ids))
	resultByID := make(map[int]*RepairResult, len(ids))
	// Stories to write, split by the value they need.
	pending := map[bool][]int{}

	for _, id := range ids {
		result := &RepairResult{StoryID: id, Value: values[id]}
		results = append(results, result)
		resultByID[id] = result

		story, ok := byID[id]
		if !ok {
			result.Error = errcodes.NotFound("Story").Error()
			continue
		}
		if story.HasPaidChapters == result.Value {
			continue
		}
		if result.Value && story.IsPaid {
			result.Error = conflictError(ctx, id).Error()
			continue
		}
		pending[result.Value] = append(pending[result.Value], id)
	}

	for _, value := range []bool{true, false} {
		for _, chunk := range chunkInts(pending[value], svc.batchSize) {
			n, err := svc.writeFlagChunk(ctx, chunk, value)
			if err == nil && n == len(chunk) {
				for _, id := range chunk {
					resultByID[id].Updated = true
				}
				continue
			}
			if err != nil {
				log.Err(err).Warn("repair chunk failed, retrying per story", logger.Data{"story_ids": chunk})
			}
			// Fall back to one write per story so that each one reports its
			// own outcome.
			for _, id := range chunk {
				ok, err := svc.writeFlag(ctx, id, value)
				switch {
				case err != nil:
					resultByID[id].Error = err.Error()
				case !ok:
					resultByID[id].Error = conflictError(ctx, id).Error()
				default:
					resultByID[id].Updated = true
				}
			}
		}
	}

	updated := 0
	failed := 0
	for _, r := range results {
		if r.Updated {
			updated++
		}
		if r.Error != "" {
			failed++
		}
	}
	log.Info("repaired story batch", logger.Data{
		"requested": len(ids),
		"updated":   updated,
		"failed":    failed,
	})

	return results, nil
}

// RecalculateAll repairs every story. Per-story failures are logged and
// counted; only a cancelled context or a failure to page through the stories
// returns an error.
func (svc *Service) RecalculateAll(ctx context.Context) (*SweepResult, error) {
	log := logger.FromContext(ctx)
	result := &SweepResult{}
	var mu sync.Mutex

	lastID := 0
	for {
		var ids []int
		err := svc.db.NewSelect().
			Model((*models.Story)(nil)).
			Column("s.id").
			Where("s.id > ?", lastID).
			Order("s.id ASC").
			Limit(sweepPageSize).
			Scan(ctx, &ids)
		if err != nil {
			return result, errors.WithStack(err)
		}
		if len(ids) == 0 {
			break
		}
		lastID = ids[len(ids)-1]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(svc.concurrency)
		for _, id := range ids {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				r, err := svc.RepairStory(gctx, id)

				mu.Lock()
				defer mu.Unlock()
				result.Scanned++
				if err != nil {
					result.Failed++
					result.FailedStoryIDs = append(result.FailedStoryIDs, id)
					log.Err(err).Warn("story repair failed", logger.Data{"story_id": id})
					return nil
				}
				if r.Updated {
					result.Updated++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, errors.WithStack(err)
		}

		if len(ids) < sweepPageSize {
			break
		}
	}

	sort.Ints(result.FailedStoryIDs)

	log.Info("reconciliation sweep finished", logger.Data{
		"scanned": result.Scanned,
		"updated": result.Updated,
		"failed":  result.Failed,
	})
	return result, nil
}

// writeFlag sets the flag on one story. Setting it to true is refused for
// stories in whole-story mode, in which case ok is false.
func (svc *Service) writeFlag(ctx context.Context, storyID int, value bool) (bool, error) {
	n, err := svc.writeFlagChunk(ctx, []int{storyID}, value)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (svc *Service) writeFlagChunk(ctx context.Context, storyIDs []int, value bool) (int, error) {
	q := svc.db.NewUpdate().
		Model((*models.Story)(nil)).
		Set("has_paid_chapters = ?", value).
		Set("updated_at = ?", time.Now()).
		Where("id IN (?)", bun.In(storyIDs))
	if value {
		q = q.Where("is_paid = ?", false)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(n), nil
}

func conflictError(ctx context.Context, storyID int) error {
	logger.FromContext(ctx).Error("story is sold as a whole but has paid chapters", logger.Data{
		"story_id": storyID,
	})
	return errcodes.RuleViolation(errcodes.CodeMutualExclusionViolation,
		"Story is sold as a whole but has paid chapters.")
}

func dedupe(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func chunkInts(ids []int, size int) [][]int {
	var chunks [][]int
	for size < len(ids) {
		ids, chunks = ids[size:], append(chunks, ids[0:size:size])
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
