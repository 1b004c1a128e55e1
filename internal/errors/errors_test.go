package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetServiceError_Unwraps(t *testing.T) {
	base := NotFound("product", "p-1")
	wrapped := fmt.Errorf("load: %w", base)

	se := GetServiceError(wrapped)
	if assert.NotNil(t, se) {
		assert.Equal(t, CodeNotFound, se.Code)
		assert.Equal(t, "p-1", se.Details["id"])
	}
	assert.Equal(t, http.StatusNotFound, HTTPStatus(wrapped))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(New("boom")))
}

func TestWithDetails_DoesNotMutateReceiver(t *testing.T) {
	orig := BadRequest("bad")
	withField := orig.WithDetails("field", "email")

	assert.Nil(t, orig.Details)
	assert.Equal(t, "email", withField.Details["field"])
}

func TestInternal_WrapsCause(t *testing.T) {
	cause := New("db down")
	err := Internal("", cause)

	assert.True(t, Is(err, cause))
	assert.Equal(t, "internal server error", err.Message)
	assert.Contains(t, err.Error(), "db down")
}
