package chapters

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/storyvault/storyvault/pkg/database"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
)

const (
	fieldIsPaid = "is_paid"
	fieldPrice  = "price"

	maxPrice = math.MaxInt32
)

// bulkFields is the set of chapter columns a bulk update may write. Anything
// else in the request is ignored.
var bulkFields = map[string]struct{}{
	fieldIsPaid:        {},
	fieldPrice:         {},
	"is_published":     {},
	"is_featured":      {},
	"comments_enabled": {},
}

// BulkUpdateRequest targets chapters by story, by id, or both (combined with
// AND). Fields maps column names, in snake or camel case, to new values.
type BulkUpdateRequest struct {
	StoryID    *int
	ChapterIDs []int
	Fields     map[string]interface{}
}

type BulkUpdateResult struct {
	Matched          int   `json:"matched"`
	Modified         int   `json:"modified"`
	RepairedStoryIDs []int `json:"repaired_story_ids"`
}

type condition struct {
	query string
	args  []interface{}
}

// BulkUpdateChapters applies the same field values to every matching chapter
// in one statement. When is_paid changes on any chapter, the owning stories
// of those chapters are repaired after the commit. A repair failure is logged
// and does not fail the update.
func (svc *Service) BulkUpdateChapters(ctx context.Context, req BulkUpdateRequest) (*BulkUpdateResult, error) {
	log := logger.FromContext(ctx)

	fields, err := normalizeBulkFields(req.Fields)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errcodes.ValidationError("At least one updatable field is required.")
	}
	if req.StoryID == nil && req.ChapterIDs == nil {
		return nil, errcodes.ValidationError(`Either "story_id" or "chapter_ids" is required.`)
	}
	if req.ChapterIDs != nil && len(req.ChapterIDs) == 0 {
		return nil, errcodes.NoMatchingChapters()
	}
	if svc.maxBulk > 0 && len(req.ChapterIDs) > svc.maxBulk {
		return nil, errcodes.ValidationError(fmt.Sprintf(`"chapter_ids" may contain at most %d ids`, svc.maxBulk))
	}

	conds := req.conditions()
	newPaid, setsPaid := fields[fieldIsPaid].(bool)
	newPrice, setsPrice := fields[fieldPrice].(int)

	result := &BulkUpdateResult{RepairedStoryIDs: []int{}}
	var repairIDs []int

	err = database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		matched, err := selectChapters(tx, conds).Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if matched == 0 {
			return errcodes.NoMatchingChapters()
		}
		result.Matched = matched

		if setsPaid && newPaid {
			if setsPrice && newPrice <= 0 {
				return errcodes.ValidationError("Paid chapters must have a positive price.")
			}
			if !setsPrice {
				unpriced, err := selectChapters(tx, conds).Where("price <= 0").Exists(ctx)
				if err != nil {
					return errors.WithStack(err)
				}
				if unpriced {
					return errcodes.ValidationError("Paid chapters must have a positive price.")
				}
			}

			wholeStory, err := selectChapters(tx, conds).
				Where("story_id IN (SELECT id FROM stories WHERE is_paid = ?)", true).
				Exists(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			if wholeStory {
				return errcodes.RuleViolation(errcodes.CodeMutualExclusionViolation,
					"Chapters of a story sold as a whole cannot be paid.")
			}
		}
		if setsPrice && newPrice <= 0 && !setsPaid {
			paid, err := selectChapters(tx, conds).Where("is_paid = ?", true).Exists(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
			if paid {
				return errcodes.ValidationError("Paid chapters must have a positive price.")
			}
		}

		if setsPaid {
			err = selectChapters(tx, conds).
				ColumnExpr("DISTINCT story_id").
				Where("is_paid != ?", newPaid).
				Order("story_id ASC").
				Scan(ctx, &repairIDs)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		columns := make([]string, 0, len(fields))
		for col := range fields {
			columns = append(columns, col)
		}
		sort.Strings(columns)

		q := tx.NewUpdate().
			Model((*models.Chapter)(nil))
		for _, col := range columns {
			q = q.Set("? = ?", bun.Ident(col), fields[col])
		}
		q = q.Set("updated_at = ?", time.Now())
		for _, c := range conds {
			q = q.Where(c.query, c.args...)
		}
		q = q.WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			for _, col := range columns {
				q = q.WhereOr("? != ?", bun.Ident(col), fields[col])
			}
			return q
		})

		res, err := q.Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		modified, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		result.Modified = int(modified)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("bulk updated chapters", logger.Data{
		"matched":  result.Matched,
		"modified": result.Modified,
		"columns":  len(fields),
	})

	if len(repairIDs) > 0 {
		result.RepairedStoryIDs = svc.repairStories(ctx, repairIDs...)
	}

	return result, nil
}

func (req BulkUpdateRequest) conditions() []condition {
	conds := []condition{}
	if req.StoryID != nil {
		conds = append(conds, condition{"story_id = ?", []interface{}{*req.StoryID}})
	}
	if req.ChapterIDs != nil {
		conds = append(conds, condition{"id IN (?)", []interface{}{bun.In(req.ChapterIDs)}})
	}
	return conds
}

func selectChapters(tx bun.Tx, conds []condition) *bun.SelectQuery {
	q := tx.NewSelect().
		Model((*models.Chapter)(nil))
	for _, c := range conds {
		q = q.Where(c.query, c.args...)
	}
	return q
}

// normalizeBulkFields keeps the whitelisted fields and coerces their values to
// the column types.
func normalizeBulkFields(raw map[string]interface{}) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	for key, value := range raw {
		col := strcase.ToSnake(key)
		if _, ok := bulkFields[col]; !ok {
			continue
		}

		if col == fieldPrice {
			price, err := coercePrice(value)
			if err != nil {
				return nil, err
			}
			fields[col] = price
			continue
		}

		b, err := coerceBool(col, value)
		if err != nil {
			return nil, err
		}
		fields[col] = b
	}
	return fields, nil
}

func coerceBool(col string, value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, errcodes.ValidationError(fmt.Sprintf("%q must be a boolean", col))
		}
		return b, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	}
	return false, errcodes.ValidationError(fmt.Sprintf("%q must be a boolean", col))
}

func coercePrice(value interface{}) (int, error) {
	var price int
	switch v := value.(type) {
	case int:
		price = v
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, errcodes.ValidationError(`"price" must be a whole number`)
		}
		if math.Abs(v) > maxPrice {
			return 0, errcodes.ValidationError(fmt.Sprintf(`"price" must be at most %d`, maxPrice))
		}
		price = int(v)
	case string:
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errcodes.ValidationError(`"price" must be a whole number`)
		}
		price = p
	default:
		return 0, errcodes.ValidationError(`"price" must be a whole number`)
	}
	if price < 0 {
		return 0, errcodes.ValidationError(`"price" must be greater than or equal to 0`)
	}
	if price > maxPrice {
		return 0, errcodes.ValidationError(fmt.Sprintf(`"price" must be at most %d`, maxPrice))
	}
	return price, nil
}
