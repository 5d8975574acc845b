package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tallyapp/tally-server/internal/errors"
)

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code errors.Code
		want int
	}{
		{errors.CodeNotFound, http.StatusNotFound},
		{errors.CodeConflict, http.StatusConflict},
		{errors.CodeUnauthorized, http.StatusUnauthorized},
		{errors.CodeTokenExpired, http.StatusUnauthorized},
		{errors.CodeForbidden, http.StatusForbidden},
		{errors.CodeValidation, http.StatusBadRequest},
		{errors.CodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{errors.CodeTooManyRequests, http.StatusTooManyRequests},
		{errors.CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := errors.NotFoundf("backup %s not found", "bk_1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.False(t, errors.Is(err, errors.ErrForbidden))

	wrapped := fmt.Errorf("service: %w", err)
	assert.True(t, errors.Is(wrapped, errors.ErrNotFound))
}

func TestError_WithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := errors.ErrInternal.WithCause(cause)

	assert.Equal(t, "internal error: disk full", err.Error())
	assert.Same(t, cause, errors.Unwrap(err))
	assert.Nil(t, errors.ErrInternal.Unwrap(), "sentinel must not be mutated")
}

func TestError_WithDetailsCopies(t *testing.T) {
	base := errors.Conflict("import running")
	detailed := base.WithDetails(map[string]any{"user_id": "user-1"})

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]any{"user_id": "user-1"}, detailed.Details)
	assert.True(t, errors.Is(detailed, errors.ErrConflict))
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("read-only filesystem")
	err := errors.Wrap(cause, errors.CodeInternal, "write backup")

	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "write backup: read-only filesystem", err.Error())
}

func TestCode_UnknownMapsToInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, errors.Code("SOMETHING_ELSE").HTTPStatus())
}
