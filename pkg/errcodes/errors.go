package errcodes

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Codes emitted by the business rule validator. They are stable so that
// clients can map them to a remediation hint.
const (
	CodeModelAViolation          = "MODEL_A_VIOLATION"
	CodeModelBViolation          = "MODEL_B_VIOLATION"
	CodeMutualExclusionViolation = "MUTUAL_EXCLUSION_VIOLATION"
	CodeFreeModelViolation       = "FREE_MODEL_VIOLATION"
)

// Entitlement, resource and bulk codes.
const (
	CodeAlreadyPurchased          = "already_purchased"
	CodeIncompatiblePurchaseModel = "incompatible_purchase_model"
	CodeNotForSale                = "not_for_sale"
	CodeInsufficientFunds         = "insufficient_funds"
	CodeNoMatchingChapters        = "no_matching_chapters"
	CodeNotFound                  = "not_found"
	CodeValidationError           = "validation_error"
)

var hints = map[string]string{
	CodeModelAViolation:          "Set a positive price for whole-story purchase, or make the story free.",
	CodeModelBViolation:          "Make every chapter free before switching the story to whole-story purchase.",
	CodeMutualExclusionViolation: "A story cannot be sold whole while it has paid chapters.",
	CodeFreeModelViolation:       "Free stories must have a price of 0.",
}

type Error struct {
	HTTPCode int
	Message  string
	Code     string
	Hint     string
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.HTTPCode = err.HTTPCode
	te.Message = err.Message
	te.Code = err.Code
	te.Hint = err.Hint
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

// HasCode reports whether err is, or wraps, an *Error carrying the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Forbidden returns a 403 error with a message indicating the action is
// forbidden.
func Forbidden(action string) error {
	return &Error{
		HTTPCode: http.StatusForbidden,
		Message:  action + " is not allowed.",
		Code:     "forbidden",
	}
}

// Unauthorized returns a 401 error.
func Unauthorized(msg string) error {
	return &Error{
		HTTPCode: http.StatusUnauthorized,
		Message:  msg,
		Code:     "unauthorized",
	}
}

// NotFound returns a 404 error with a message indicating the given resource.
func NotFound(resource string) error {
	return &Error{
		HTTPCode: http.StatusNotFound,
		Message:  resource + " not found.",
		Code:     CodeNotFound,
	}
}

func Conflict(msg string) error {
	return &Error{
		HTTPCode: http.StatusConflict,
		Message:  msg,
		Code:     "conflict",
	}
}

func UnsupportedMediaType() error {
	return &Error{
		HTTPCode: http.StatusUnsupportedMediaType,
		Message:  "Unsupported Media Type",
		Code:     "unsupported_media_type",
	}
}

func UnknownParameter(param string) error {
	return &Error{
		HTTPCode: http.StatusUnprocessableEntity,
		Message:  fmt.Sprintf("Unknown Parameter %q", param),
		Code:     "unknown_parameter",
	}
}

func ValidationTypeError(msg string) error {
	return &Error{
		HTTPCode: http.StatusUnprocessableEntity,
		Message:  msg,
		Code:     "validation_type_error",
	}
}

func ValidationError(msg string) error {
	return &Error{
		HTTPCode: http.StatusUnprocessableEntity,
		Message:  msg,
		Code:     CodeValidationError,
	}
}

func MalformedPayload() error {
	return &Error{
		HTTPCode: http.StatusBadRequest,
		Message:  "Malformed Payload",
		Code:     "malformed_payload",
	}
}

func EmptyRequestBody() error {
	return &Error{
		HTTPCode: http.StatusBadRequest,
		Message:  "Request body can't be empty.",
		Code:     "empty_request_body",
	}
}

// RuleViolation returns a 422 error for one of the monetization rule codes,
// with the matching remediation hint attached.
func RuleViolation(code, msg string) error {
	return &Error{
		HTTPCode: http.StatusUnprocessableEntity,
		Message:  msg,
		Code:     code,
		Hint:     hints[code],
	}
}

func AlreadyPurchased(resource string) error {
	return &Error{
		HTTPCode: http.StatusConflict,
		Message:  resource + " has already been purchased.",
		Code:     CodeAlreadyPurchased,
	}
}

func IncompatiblePurchaseModel(msg string) error {
	return &Error{
		HTTPCode: http.StatusConflict,
		Message:  msg,
		Code:     CodeIncompatiblePurchaseModel,
	}
}

func NotForSale(resource string) error {
	return &Error{
		HTTPCode: http.StatusConflict,
		Message:  resource + " is not for sale.",
		Code:     CodeNotForSale,
	}
}

func InsufficientFunds(balance, price int) error {
	return &Error{
		HTTPCode: http.StatusPaymentRequired,
		Message:  fmt.Sprintf("Insufficient balance: have %d, need %d.", balance, price),
		Code:     CodeInsufficientFunds,
	}
}

func NoMatchingChapters() error {
	return &Error{
		HTTPCode: http.StatusNotFound,
		Message:  "No chapters matched the given story or chapter ids.",
		Code:     CodeNoMatchingChapters,
	}
}
