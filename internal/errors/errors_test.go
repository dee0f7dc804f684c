package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("lifecycle field cannot be updated").WithField("status").WithValue("completed")

	assert.Equal(t, CodeValidation, err.Code())
	assert.Equal(t, "validation error [field=status, value=completed]: lifecycle field cannot be updated", err.Error())
	assert.True(t, Is(err, ErrInvalidInput))
	assert.Equal(t, "status", FieldOf(fmt.Errorf("update: %w", err)))

	var target *ValidationError
	require.True(t, As(fmt.Errorf("wrapped: %w", err), &target))
	assert.Equal(t, "status", target.Field)
}

func TestValidationError_WithCause(t *testing.T) {
	err := NewValidationError("cannot scale down").WithCause(ErrNotEnoughIdle)

	assert.True(t, Is(err, ErrNotEnoughIdle))
	assert.True(t, Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "not enough idle workers")
}

func TestConflictError(t *testing.T) {
	tests := []struct {
		code     Code
		sentinel error
	}{
		{CodeClaimConflict, ErrClaimConflict},
		{CodeAlreadyTerminal, ErrAlreadyTerminal},
		{CodeInvalidTransition, ErrInvalidTransition},
		{CodeBlockedDependency, ErrBlockedDependency},
		{CodeDuplicateDispatch, ErrDuplicateDispatch},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := NewConflictError(tt.code, "task", "3")
			wrapped := fmt.Errorf("claim: %w", err)

			assert.True(t, Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.code, CodeOf(wrapped))
			assert.True(t, IsExpected(wrapped))
		})
	}
}

func TestConflictError_Message(t *testing.T) {
	err := NewConflictError(CodeClaimConflict, "task", "9").WithMessage("claimed by %s", "worker-2")
	assert.Equal(t, "claim_conflict [task=9]: claimed by worker-2", err.Error())

	bare := NewConflictError(CodeDuplicateDispatch, "", "")
	assert.Equal(t, "duplicate_pending_dispatch_request: duplicate_pending_dispatch_request", bare.Error())
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("message", "m-1")

	assert.Equal(t, "message 'm-1' not found", err.Error())
	assert.True(t, Is(err, ErrNotFound))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestTransportError(t *testing.T) {
	cause := New("pane gone")
	err := NewTransportError("tmux_send_keys", "worker-3", cause)

	assert.True(t, Is(err, ErrTransport))
	assert.True(t, Is(err, cause))
	assert.False(t, IsExpected(err))
	assert.Equal(t, "tmux_send_keys delivery to worker-3 failed: pane gone", err.Error())
}

func TestCoded(t *testing.T) {
	err := Coded(CodeScalingDisabled, "scaling disabled")

	assert.True(t, Is(err, ErrScalingDisabled))
	assert.Equal(t, CodeScalingDisabled, CodeOf(err))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(New("disk on fire")))
	assert.Equal(t, CodeLockTimeout, CodeOf(fmt.Errorf("acquire: %w", ErrLockTimeout)))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))
	assert.NoError(t, Wrapf(nil, "context %d", 1))

	base := NewNotFoundError("task", "1")
	err := Wrapf(base, "read task %s", "1")
	assert.Equal(t, "read task 1: task '1' not found", err.Error())
	assert.True(t, Is(err, ErrNotFound))
}
