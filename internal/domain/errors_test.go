package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable", NewRetryableError(errors.New("503")), true},
		{"wrapped retryable", fmt.Errorf("failed to extract: %w", NewRetryableError(errors.New("timeout"))), true},
		{"sentinel", fmt.Errorf("broker down: %w", ErrTransientExternal), true},
		{"permanent", Permanentf("unsupported format: %s", "gif"), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryableError(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewRetryableError(inner)

	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, err, ErrTransientExternal)
	assert.Equal(t, "retryable error: connection reset", err.Error())
}

func TestValidationf(t *testing.T) {
	err := Validationf("unsupported extension %q", "gif")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, `validation error: unsupported extension "gif"`, err.Error())
}

func TestStatusHelpers(t *testing.T) {
	for _, s := range []string{JobStatusSuccess, JobStatusFailed, JobStatusHuman} {
		assert.True(t, IsTerminal(s), s)
	}
	assert.False(t, IsTerminal(JobStatusPending))
	assert.False(t, IsTerminal(JobStatusProcessing))

	assert.True(t, IsSupportedExt("jpeg"))
	assert.False(t, IsSupportedExt("gif"))
	assert.Equal(t, "image/jpeg", ContentTypeForExt("jpg"))
	assert.Equal(t, "application/octet-stream", ContentTypeForExt("tiff"))
}
