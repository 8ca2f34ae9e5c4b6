package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCanceled(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context.Canceled", context.Canceled, true},
		{"context.DeadlineExceeded", context.DeadlineExceeded, true},
		{"ErrCanceled", ErrCanceled, true},
		{"wrapped context.Canceled", fmt.Errorf("wrapped: %w", context.Canceled), true},
		{"string contains context canceled", errors.New("operation failed: context canceled"), true},
		{"unrelated error", errors.New("some other error"), false},
		{"ErrDatabaseUnavailable", ErrDatabaseUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsCanceled(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil))
	assert.Equal(t, ErrCanceled, WrapError(context.DeadlineExceeded))
	assert.Equal(t, ErrConversion, WrapError(ErrConversion))
}

func TestIsMalformed(t *testing.T) {
	assert.True(t, IsMalformed(ErrMalformedQuery))
	assert.True(t, IsMalformed(ErrMalformedDocument))
	assert.True(t, IsMalformed(fmt.Errorf("stage: %w", ErrInvalidStage)))
	assert.True(t, IsMalformed(fmt.Errorf("id: %w", ErrConversion)))
	assert.False(t, IsMalformed(ErrDatabaseUnavailable))
	assert.False(t, IsMalformed(nil))
}
