package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Chapter struct {
	bun.BaseModel `bun:"table:chapters,alias:ch"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	StoryID   int       `bun:",notnull" json:"story_id"`
	SortOrder int       `bun:",notnull" json:"sort_order"`
	Title     string    `bun:",notnull" json:"title"`

	IsPaid bool `json:"is_paid"`
	Price  int  `json:"price"` // Only meaningful when IsPaid is set.

	// Display flags
	IsPublished     bool `json:"is_published"`
	IsFeatured      bool `json:"is_featured"`
	CommentsEnabled bool `json:"comments_enabled"`

	Story *Story `bun:"rel:belongs-to,join:story_id=id" json:"-"`
}
