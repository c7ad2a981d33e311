package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	t.Run("matches sentinel by code", func(t *testing.T) {
		err := NewDomainError("NOT_FOUND", "message HL7-1 not found")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("quarantine: %w", ErrInvalidState)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("unwraps cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := WrapDomainError("INTERNAL_ERROR", "failed to save", cause)
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, "failed to save: connection refused", err.Error())
	})
}
