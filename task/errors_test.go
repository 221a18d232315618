package task

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransientClassification(t *testing.T) {
	t.Run("Plain errors are fatal", func(t *testing.T) {
		assert.False(t, IsTransient(errors.New("unsupported codec")))
	})

	t.Run("Wrapped transient survives further wrapping", func(t *testing.T) {
		err := Transient(errors.New("engine busy"))
		assert.True(t, IsTransient(err))
		assert.True(t, IsTransient(fmt.Errorf("stage 2: %w", err)))
		assert.Equal(t, "engine busy", err.Error())
	})

	t.Run("Nil stays nil", func(t *testing.T) {
		assert.NoError(t, Transient(nil))
	})

	t.Run("Cancellation is never transient", func(t *testing.T) {
		err := Transient(fmt.Errorf("interrupted: %w", context.Canceled))
		assert.True(t, IsCancellation(err))
		assert.False(t, IsTransient(err))
	})
}
