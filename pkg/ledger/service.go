package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/storyvault/storyvault/pkg/errcodes"
	"github.com/storyvault/storyvault/pkg/models"
	"github.com/uptrace/bun"
)

type ListTransactionsOptions struct {
	Limit  *int
	Offset *int
	UserID *int

	includeTotal bool
}

// Service holds coin balances and the append-only transaction log.
type Service struct {
	db bun.IDB
}

// NewService returns a ledger operating through db, which may be a
// transaction.
func NewService(db bun.IDB) *Service {
	return &Service{db}
}

// GetBalance returns the user's balance. Users without a wallet have 0.
func (svc *Service) GetBalance(ctx context.Context, userID int) (int, error) {
	wallet := &models.Wallet{}
	err := svc.db.NewSelect().
		Model(wallet).
		Where("w.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.WithStack(err)
	}
	return wallet.Balance, nil
}

// Debit takes amount off the user's balance and returns the new balance. The
// balance check and the write are one statement, so a balance can never go
// negative.
func (svc *Service) Debit(ctx context.Context, userID, amount int, memo string) (int, error) {
	if amount <= 0 {
		return 0, errcodes.ValidationError(`"amount" must be greater than 0`)
	}

	var balance int
	err := svc.db.NewUpdate().
		Model((*models.Wallet)(nil)).
		Set("balance = balance - ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Where("balance >= ?", amount).
		Returning("balance").
		Scan(ctx, &balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, err := svc.GetBalance(ctx, userID)
			if err != nil {
				return 0, err
			}
			return 0, errcodes.InsufficientFunds(current, amount)
		}
		return 0, errors.WithStack(err)
	}

	logger.FromContext(ctx).Info("wallet debited", logger.Data{
		"user_id": userID,
		"amount":  amount,
		"balance": balance,
		"memo":    memo,
	})
	return balance, nil
}

// Credit adds amount to the user's balance, creating the wallet if needed,
// and returns the new balance.
func (svc *Service) Credit(ctx context.Context, userID, amount int) (int, error) {
	if amount <= 0 {
		return 0, errcodes.ValidationError(`"amount" must be greater than 0`)
	}

	now := time.Now()
	var balance int
	err := svc.db.NewRaw(`
		INSERT INTO wallets (user_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + excluded.balance, updated_at = excluded.updated_at
		RETURNING balance
	`, userID, amount, now, now).Scan(ctx, &balance)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return balance, nil
}

// AppendTransaction records an entry in the log and returns its reference.
// A reference is generated when the entry has none.
func (svc *Service) AppendTransaction(ctx context.Context, entry *models.Transaction) (string, error) {
	if entry.Ref == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", errors.WithStack(err)
		}
		entry.Ref = id.String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := svc.db.NewInsert().
		Model(entry).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return entry.Ref, nil
}

func (svc *Service) ListTransactions(ctx context.Context, opts ListTransactionsOptions) ([]*models.Transaction, error) {
	t, _, err := svc.listTransactionsWithTotal(ctx, opts)
	return t, errors.WithStack(err)
}

func (svc *Service) ListTransactionsWithTotal(ctx context.Context, opts ListTransactionsOptions) ([]*models.Transaction, int, error) {
	opts.includeTotal = true
	return svc.listTransactionsWithTotal(ctx, opts)
}

func (svc *Service) listTransactionsWithTotal(ctx context.Context, opts ListTransactionsOptions) ([]*models.Transaction, int, error) {
	transactions := []*models.Transaction{}
	var total int
	var err error

	q := svc.db.NewSelect().
		Model(&transactions).
		Order("t.created_at DESC", "t.id DESC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.UserID != nil {
		q = q.Where("t.user_id = ?", *opts.UserID)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return transactions, total, nil
}
