package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	TransactionKindPurchase = "purchase"
	TransactionKindRefund   = "refund"
	TransactionKindCredit   = "credit"
)

type Wallet struct {
	bun.BaseModel `bun:"table:wallets,alias:w"`

	UserID    int       `bun:",pk" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Balance   int       `json:"balance"`
}

// Transaction is an immutable ledger entry. Amount is signed: debits are
// negative.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID           int       `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Ref          string    `bun:",notnull" json:"ref"`
	UserID       int       `bun:",notnull" json:"user_id"`
	Kind         string    `bun:",notnull" json:"kind"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balance_after"`
	Memo         string    `json:"memo"`
	StoryID      *int      `json:"story_id,omitempty"`
	ChapterID    *int      `json:"chapter_id,omitempty"`
}
