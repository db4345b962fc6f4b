package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check(1), "step %d should be allowed", i+1)
	}
	assert.Equal(t, 10, q.Current())
}

func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Check(7))
	}

	err := q.Check(7)
	require.Error(t, err)

	var se *StepsExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(7), se.InstanceID)
	assert.Equal(t, 6, se.Steps)
	assert.Equal(t, 5, se.Limit)
	assert.Contains(t, err.Error(), "instance 7 exceeded max steps (6 > 5)")
}

func TestIsQuotaError_Wrapped(t *testing.T) {
	err := fmt.Errorf("traverse: %w", &StepsExceededError{InstanceID: 1, Steps: 2, Limit: 1})
	assert.True(t, IsQuotaError(err))
	assert.False(t, IsQuotaError(fmt.Errorf("other")))
}
