package stories

type CreateStoryPayload struct {
	Title       string  `json:"title" mod:"trim" validate:"required,max=200"`
	Slug        string  `json:"slug" mod:"trim,lcase" validate:"max=200,slug"`
	Description *string `json:"description" mod:"trim"`
	AuthorID    *int    `json:"author_id" validate:"omitempty,min=1"`
	IsPublished bool    `json:"is_published"`
	IsPaid      bool    `json:"is_paid"`
	Price       int     `json:"price" validate:"min=0,max=2147483647"`
}

type UpdateStoryPayload struct {
	Title       *string `json:"title,omitempty" mod:"trim" validate:"omitempty,max=200"`
	Slug        *string `json:"slug,omitempty" mod:"trim,lcase" validate:"omitempty,max=200,slug"`
	Description *string `json:"description,omitempty" mod:"trim"`
	AuthorID    *int    `json:"author_id,omitempty" validate:"omitempty,min=1"`
	IsPublished *bool   `json:"is_published,omitempty"`
	IsPaid      *bool   `json:"is_paid,omitempty"`
	Price       *int    `json:"price,omitempty" validate:"omitempty,min=0,max=2147483647"`
}

type ListStoriesQuery struct {
	Limit  int `query:"limit" json:"limit,omitempty" default:"20" validate:"min=1,max=100"`
	Offset int `query:"offset" json:"offset,omitempty" validate:"min=0"`
}
