package access

type CheckAccessQuery struct {
	ChapterID *int `query:"chapter_id" json:"chapter_id,omitempty" validate:"omitempty,min=1"`
}
