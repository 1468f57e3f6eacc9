package schemas

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	te := &TransientError{Op: "cache get", Err: errors.New("connection refused")}
	assert.True(t, IsTransient(te))
	assert.True(t, IsTransient(fmt.Errorf("job failed: %w", te)))
	assert.Contains(t, te.Error(), "cache get")
	assert.ErrorIs(t, te, te.Err)

	assert.False(t, IsTransient(ErrInvalidStrategy))
	assert.False(t, IsTransient(nil))
}

func TestPartialResultError(t *testing.T) {
	partial := &OptimizationResult{Confidence: 0.3}
	err := error(&PartialResultError{Partial: partial})

	assert.ErrorIs(t, err, ErrIterationLimitExceeded)

	var pre *PartialResultError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &pre)
	assert.Same(t, partial, pre.Partial)
}
