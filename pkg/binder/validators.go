package binder

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	slugRE = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// slugValidator ensures the value is a lowercase, hyphen separated slug or the
// empty string. The empty string is allowed so that a slug can be derived from
// the title instead.
func slugValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return slugRE.MatchString(value)
}
