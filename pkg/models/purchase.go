package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	PurchaseKindStory   = "story"
	PurchaseKindChapter = "chapter"
)

const (
	PurchaseStatusActive   = "active"
	PurchaseStatusExpired  = "expired"
	PurchaseStatusRefunded = "refunded"
)

// Purchase is one entry of a user's purchase record. TargetID is the story id
// for story purchases and the chapter id for chapter purchases; StoryID is
// always the owning story so that reporting never has to join chapters.
type Purchase struct {
	bun.BaseModel `bun:"table:purchases,alias:p"`

	ID             int       `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	UserID         int       `bun:",notnull" json:"user_id"`
	Kind           string    `bun:",notnull" json:"kind"`
	TargetID       int       `bun:",notnull" json:"target_id"`
	StoryID        int       `bun:",notnull" json:"story_id"`
	PricePaid      int       `json:"price_paid"`
	PurchaseDate   time.Time `json:"purchase_date"`
	TransactionRef string    `bun:",notnull" json:"transaction_ref"`
	Status         string    `bun:",notnull" json:"status"`
}

func (p *Purchase) IsActive() bool {
	return p.Status == PurchaseStatusActive
}

// PurchaseRecord is the per-user view over purchase entries, split by kind and
// ordered by purchase date.
type PurchaseRecord struct {
	UserID   int         `json:"user_id"`
	Stories  []*Purchase `json:"stories"`
	Chapters []*Purchase `json:"chapters"`
}

// NewPurchaseRecord splits entries by kind, preserving their order.
func NewPurchaseRecord(userID int, entries []*Purchase) *PurchaseRecord {
	record := &PurchaseRecord{
		UserID:   userID,
		Stories:  []*Purchase{},
		Chapters: []*Purchase{},
	}
	for _, p := range entries {
		switch p.Kind {
		case PurchaseKindStory:
			record.Stories = append(record.Stories, p)
		case PurchaseKindChapter:
			record.Chapters = append(record.Chapters, p)
		}
	}
	return record
}

// ActiveStoryPurchase returns the active purchase of the given story, if any.
func (r *PurchaseRecord) ActiveStoryPurchase(storyID int) *Purchase {
	for _, p := range r.Stories {
		if p.TargetID == storyID && p.IsActive() {
			return p
		}
	}
	return nil
}

// ActiveChapterPurchase returns the active purchase of the given chapter, if
// any.
func (r *PurchaseRecord) ActiveChapterPurchase(chapterID int) *Purchase {
	for _, p := range r.Chapters {
		if p.TargetID == chapterID && p.IsActive() {
			return p
		}
	}
	return nil
}
