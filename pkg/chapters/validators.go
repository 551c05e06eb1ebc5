package chapters

type ListChaptersQuery struct {
	Limit  int `query:"limit" json:"limit,omitempty" default:"100" validate:"min=1,max=500"`
	Offset int `query:"offset" json:"offset,omitempty" validate:"min=0"`
}

type CreateChapterPayload struct {
	Title           string `json:"title" mod:"trim" validate:"required,max=200"`
	SortOrder       int    `json:"sort_order" validate:"min=0"`
	IsPaid          bool   `json:"is_paid"`
	Price           int    `json:"price" validate:"min=0,max=2147483647"`
	IsPublished     bool   `json:"is_published"`
	IsFeatured      bool   `json:"is_featured"`
	CommentsEnabled bool   `json:"comments_enabled"`
}

type UpdateChapterPayload struct {
	Title           *string `json:"title,omitempty" mod:"trim" validate:"omitempty,max=200"`
	SortOrder       *int    `json:"sort_order,omitempty" validate:"omitempty,min=0"`
	IsPaid          *bool   `json:"is_paid,omitempty"`
	Price           *int    `json:"price,omitempty" validate:"omitempty,min=0,max=2147483647"`
	IsPublished     *bool   `json:"is_published,omitempty"`
	IsFeatured      *bool   `json:"is_featured,omitempty"`
	CommentsEnabled *bool   `json:"comments_enabled,omitempty"`
}

type MoveChapterPayload struct {
	StoryID int `json:"story_id" validate:"required,min=1"`
}

// BulkUpdatePayload keeps Fields loose. Keys outside the whitelist are
// dropped by the service.
type BulkUpdatePayload struct {
	StoryID    *int                   `json:"story_id" validate:"omitempty,min=1"`
	ChapterIDs []int                  `json:"chapter_ids" validate:"omitempty,dive,min=1"`
	Fields     map[string]interface{} `json:"fields" validate:"required"`
}

type RepairPayload struct {
	StoryIDs []int `json:"story_ids" validate:"required,min=1,dive,min=1"`
}
