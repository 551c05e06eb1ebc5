package purchases

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/storyvault/storyvault/pkg/access"
	"github.com/storyvault/storyvault/pkg/database"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/ledger"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
)

// Receipt is returned by a successful purchase.
type Receipt struct {
	PurchaseID     int    `json:"purchase_id"`
	Kind           string `json:"kind"`
	StoryID        int    `json:"story_id"`
	ChapterID      *int   `json:"chapter_id,omitempty"`
	AmountCharged  int    `json:"amount_charged"`
	Balance        int    `json:"balance"`
	TransactionRef string `json:"transaction_ref"`
}

// Revenue is the income of one story from purchases that weren't refunded.
type Revenue struct {
	StoryID          int `json:"story_id"`
	StoryPurchases   int `json:"story_purchases"`
	StoryRevenue     int `json:"story_revenue"`
	ChapterPurchases int `json:"chapter_purchases"`
	ChapterRevenue   int `json:"chapter_revenue"`
	Total            int `json:"total"`
}

type RetrievePurchaseOptions struct {
	ID *int
}

type Service struct {
	db         *bun.DB
	maxRetries int
}

func NewService(db *bun.DB, maxRetries int) *Service {
	return &Service{db, maxRetries}
}

// PurchaseStory buys a whole story. The access check, balance check, debit
// and both appends run in one transaction, so either all of them land or
// none do.
func (svc *Service) PurchaseStory(ctx context.Context, userID, storyID int) (*Receipt, error) {
	var receipt *Receipt

	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		story := &models.Story{}
		err := tx.NewSelect().
			Model(story).
			Where("s.id = ?", storyID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Story")
			}
			return errors.WithStack(err)
		}

		if !story.IsPaid || story.Price <= 0 {
			return errcodes.NotForSale("Story")
		}

		decision, err := access.NewResolver(tx).CheckAccess(ctx, &userID, storyID, nil)
		if err != nil {
			return err
		}
		if decision.Granted {
			return errcodes.AlreadyPurchased("Story")
		}

		receipt, err = charge(ctx, tx, chargeRequest{
			userID:  userID,
			kind:    models.PurchaseKindStory,
			target:  story.ID,
			storyID: story.ID,
			price:   story.Price,
			memo:    fmt.Sprintf("story:%s", story.Slug),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("story purchased", logger.Data{
		"user_id":  userID,
		"story_id": storyID,
		"amount":   receipt.AmountCharged,
	})
	return receipt, nil
}

// PurchaseChapter buys a single chapter of a per-chapter story.
func (svc *Service) PurchaseChapter(ctx context.Context, userID, chapterID int) (*Receipt, error) {
	var receipt *Receipt

	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		chapter := &models.Chapter{}
		err := tx.NewSelect().
			Model(chapter).
			Relation("Story").
			Where("ch.id = ?", chapterID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errcodes.NotFound("Chapter")
			}
			return errors.WithStack(err)
		}

		if chapter.Story.IsPaid {
			return errcodes.IncompatiblePurchaseModel("Chapters of a story sold as a whole can't be bought separately.")
		}
		if !chapter.IsPaid || chapter.Price <= 0 {
			return errcodes.NotForSale("Chapter")
		}

		decision, err := access.NewResolver(tx).CheckAccess(ctx, &userID, chapter.StoryID, &chapter.ID)
		if err != nil {
			return err
		}
		if decision.Granted {
			return errcodes.AlreadyPurchased("Chapter")
		}

		receipt, err = charge(ctx, tx, chargeRequest{
			userID:    userID,
			kind:      models.PurchaseKindChapter,
			target:    chapter.ID,
			storyID:   chapter.StoryID,
			chapterID: &chapter.ID,
			price:     chapter.Price,
			memo:      fmt.Sprintf("chapter:%d", chapter.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("chapter purchased", logger.Data{
		"user_id":    userID,
		"chapter_id": chapterID,
		"amount":     receipt.AmountCharged,
	})
	return receipt, nil
}

type chargeRequest struct {
	userID    int
	kind      string
	target    int
	storyID   int
	chapterID *int
	price     int
	memo      string
}

// charge debits the price and appends the transaction and the purchase entry.
// It must run inside a transaction.
func charge(ctx context.Context, tx bun.Tx, c chargeRequest) (*Receipt, error) {
	l := ledger.NewService(tx)

	balance, err := l.GetBalance(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	if balance < c.price {
		return nil, errcodes.InsufficientFunds(balance, c.price)
	}

	balance, err = l.Debit(ctx, c.userID, c.price, c.memo)
	if err != nil {
		return nil, err
	}

	storyID := c.storyID
	ref, err := l.AppendTransaction(ctx, &models.Transaction{
		UserID:       c.userID,
		Kind:         models.TransactionKindPurchase,
		Amount:       -c.price,
		BalanceAfter: balance,
		Memo:         c.memo,
		StoryID:      &storyID,
		ChapterID:    c.chapterID,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	purchase := &models.Purchase{
		CreatedAt:      now,
		UpdatedAt:      now,
		UserID:         c.userID,
		Kind:           c.kind,
		TargetID:       c.target,
		StoryID:        c.storyID,
		PricePaid:      c.price,
		PurchaseDate:   now,
		TransactionRef: ref,
		Status:         models.PurchaseStatusActive,
	}
	_, err = tx.NewInsert().
		Model(purchase).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if database.IsUniqueViolation(err) {
			if c.kind == models.PurchaseKindStory {
				return nil, errcodes.AlreadyPurchased("Story")
			}
			return nil, errcodes.AlreadyPurchased("Chapter")
		}
		return nil, errors.WithStack(err)
	}

	return &Receipt{
		PurchaseID:     purchase.ID,
		Kind:           c.kind,
		StoryID:        c.storyID,
		ChapterID:      c.chapterID,
		AmountCharged:  c.price,
		Balance:        balance,
		TransactionRef: ref,
	}, nil
}

func (svc *Service) RetrievePurchase(ctx context.Context, opts RetrievePurchaseOptions) (*models.Purchase, error) {
	purchase := &models.Purchase{}

	q := svc.db.NewSelect().
		Model(purchase)

	if opts.ID != nil {
		q = q.Where("p.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Purchase")
		}
		return nil, errors.WithStack(err)
	}

	return purchase, nil
}

// RetrievePurchaseRecord returns every purchase entry of the user, in every
// status, ordered by purchase date.
func (svc *Service) RetrievePurchaseRecord(ctx context.Context, userID int) (*models.PurchaseRecord, error) {
	var entries []*models.Purchase
	err := svc.db.NewSelect().
		Model(&entries).
		Where("p.user_id = ?", userID).
		Order("p.purchase_date ASC", "p.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return models.NewPurchaseRecord(userID, entries), nil
}

// RefundPurchase moves an active purchase to refunded and credits the price
// back to the user.
func (svc *Service) RefundPurchase(ctx context.Context, purchaseID int) (*models.Purchase, error) {
	var purchase *models.Purchase

	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		var err error
		purchase, err = transition(ctx, tx, purchaseID, models.PurchaseStatusRefunded)
		if err != nil {
			return err
		}

		l := ledger.NewService(tx)
		var balance int
		if purchase.PricePaid > 0 {
			balance, err = l.Credit(ctx, purchase.UserID, purchase.PricePaid)
		} else {
			balance, err = l.GetBalance(ctx, purchase.UserID)
		}
		if err != nil {
			return err
		}

		storyID := purchase.StoryID
		entry := &models.Transaction{
			UserID:       purchase.UserID,
			Kind:         models.TransactionKindRefund,
			Amount:       purchase.PricePaid,
			BalanceAfter: balance,
			Memo:         fmt.Sprintf("refund:%s", purchase.TransactionRef),
			StoryID:      &storyID,
		}
		if purchase.Kind == models.PurchaseKindChapter {
			chapterID := purchase.TargetID
			entry.ChapterID = &chapterID
		}
		_, err = l.AppendTransaction(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("purchase refunded", logger.Data{
		"purchase_id": purchaseID,
		"user_id":     purchase.UserID,
		"amount":      purchase.PricePaid,
	})
	return purchase, nil
}

// ExpirePurchase moves an active purchase to expired. Nothing is credited.
func (svc *Service) ExpirePurchase(ctx context.Context, purchaseID int) (*models.Purchase, error) {
	var purchase *models.Purchase
	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		var err error
		purchase, err = transition(ctx, tx, purchaseID, models.PurchaseStatusExpired)
		return err
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// transition moves an active purchase to status. Entries are never deleted
// and only active ones can move.
func transition(ctx context.Context, tx bun.Tx, purchaseID int, status string) (*models.Purchase, error) {
	purchase := &models.Purchase{}
	err := tx.NewSelect().
		Model(purchase).
		Where("p.id = ?", purchaseID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Purchase")
		}
		return nil, errors.WithStack(err)
	}

	if !purchase.IsActive() {
		return nil, errcodes.Conflict(fmt.Sprintf("Purchase is %s, only active purchases can be changed.", purchase.Status))
	}

	purchase.Status = status
	purchase.UpdatedAt = time.Now()
	_, err = tx.NewUpdate().
		Model(purchase).
		Column("status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return purchase, nil
}

// StoryRevenue sums what a story earned, read from the story_id stored on
// every purchase so chapters never have to be joined.
func (svc *Service) StoryRevenue(ctx context.Context, storyID int) (*Revenue, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.Story)(nil)).
		Where("s.id = ?", storyID).
		Exists(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !exists {
		return nil, errcodes.NotFound("Story")
	}

	var rows []struct {
		Kind  string `bun:"kind"`
		Count int    `bun:"count"`
		Sum   int    `bun:"sum"`
	}
	err = svc.db.NewSelect().
		Model((*models.Purchase)(nil)).
		ColumnExpr("p.kind AS kind").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(p.price_paid), 0) AS sum").
		Where("p.story_id = ?", storyID).
		Where("p.status != ?", models.PurchaseStatusRefunded).
		Group("p.kind").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	revenue := &Revenue{StoryID: storyID}
	for _, r := range rows {
		switch r.Kind {
		case models.PurchaseKindStory:
			revenue.StoryPurchases = r.Count
			revenue.StoryRevenue = r.Sum
		case models.PurchaseKindChapter:
			revenue.ChapterPurchases = r.Count
			revenue.ChapterRevenue = r.Sum
		}
	}
	revenue.Total = revenue.StoryRevenue + revenue.ChapterRevenue
	return revenue, nil
}
