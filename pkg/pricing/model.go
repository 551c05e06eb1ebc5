package pricing

import (
	"github.com/storyvault/storyvault/pkg/errcodes"
)

// Model is the purchase model a story is sold under. It is stored as the two
// booleans is_paid and has_paid_chapters, which are converted to a Model at
// the boundary so that rule checks never look at one boolean without the
// other.
type Model int

const (
	ModelFree Model = iota
	ModelPerChapter
	ModelWholeStory
)

func (m Model) String() string {
	switch m {
	case ModelWholeStory:
		return "whole_story"
	case ModelPerChapter:
		return "per_chapter"
	default:
		return "free"
	}
}

// ModelOf derives the purchase model from the stored flags. Both flags being
// set is not a model, it's a broken invariant.
func ModelOf(isPaid, hasPaidChapters bool) (Model, error) {
	switch {
	case isPaid && hasPaidChapters:
		return ModelFree, errcodes.RuleViolation(errcodes.CodeMutualExclusionViolation,
			"A story cannot require a whole-story purchase while it has paid chapters.")
	case isPaid:
		return ModelWholeStory, nil
	case hasPaidChapters:
		return ModelPerChapter, nil
	default:
		return ModelFree, nil
	}
}

// Flags projects a model back onto the stored booleans.
func (m Model) Flags() (isPaid, hasPaidChapters bool) {
	return m == ModelWholeStory, m == ModelPerChapter
}
