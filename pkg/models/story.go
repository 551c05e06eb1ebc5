package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Story struct {
	bun.BaseModel `bun:"table:stories,alias:s"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Slug        string    `bun:",nullzero" json:"slug"`
	Title       string    `bun:",nullzero" json:"title"`
	Description *string   `json:"description"`
	AuthorID    *int      `json:"author_id,omitempty"`
	IsPublished bool      `json:"is_published"`

	// Monetization. HasPaidChapters mirrors "some chapter of this story is
	// paid" and is only ever written by the consistency package.
	IsPaid          bool `json:"is_paid"`
	Price           int  `json:"price"`
	HasPaidChapters bool `json:"has_paid_chapters"`

	Chapters []*Chapter `bun:"rel:has-many,join:id=story_id" json:"chapters,omitempty"`
}
