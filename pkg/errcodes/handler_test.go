package errcodes

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestGeneratePayload(t *testing.T) {
	t.Parallel()
	h := NewHandler()

	t.Run("rule violations carry their hint", func(tt *testing.T) {
		code, payload := h.generatePayload(errors.WithStack(RuleViolation(CodeMutualExclusionViolation, "nope")))
		assert.Equal(tt, http.StatusUnprocessableEntity, code)
		body := payload["error"].(map[string]interface{})
		assert.Equal(tt, CodeMutualExclusionViolation, body["code"])
		assert.Equal(tt, "nope", body["message"])
		assert.Equal(tt, hints[CodeMutualExclusionViolation], body["hint"])
	})

	t.Run("echo errors derive a snake case code", func(tt *testing.T) {
		code, payload := h.generatePayload(echo.NewHTTPError(http.StatusBadRequest, "Invalid request body"))
		assert.Equal(tt, http.StatusBadRequest, code)
		body := payload["error"].(map[string]interface{})
		assert.Equal(tt, "invalid_request_body", body["code"])
		_, ok := body["hint"]
		assert.False(tt, ok)
	})

	t.Run("unknown errors are internal", func(tt *testing.T) {
		code, payload := h.generatePayload(errors.New("disk on fire"))
		assert.Equal(tt, http.StatusInternalServerError, code)
		body := payload["error"].(map[string]interface{})
		assert.Equal(tt, "internal_server_error", body["code"])
		assert.Equal(tt, "Internal Server Error", body["message"])
	})
}

func TestHasCode(t *testing.T) {
	t.Parallel()

	err := errors.Wrap(InsufficientFunds(10, 50), "purchase")
	assert.True(t, HasCode(err, CodeInsufficientFunds))
	assert.False(t, HasCode(err, CodeAlreadyPurchased))
	assert.False(t, HasCode(errors.New("plain"), CodeInsufficientFunds))
	assert.False(t, HasCode(nil, CodeInsufficientFunds))
}
