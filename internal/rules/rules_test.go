package rules

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/procflow/internal/ir"
)

func TestCUEEvaluator_Evaluate(t *testing.T) {
	e := NewCUEEvaluator()
	vars := ir.Object{
		"amount":   ir.Int(150),
		"approved": ir.Bool(true),
		"tier":     ir.String("gold"),
		"customer": ir.Object{"country": ir.String("PT")},
		"items":    ir.Array{ir.Int(1), ir.Int(2)},
	}

	tests := []struct {
		condition string
		want      bool
	}{
		{"amount > 100", true},
		{"amount <= 100", false},
		{"approved", true},
		{"!approved", false},
		{`tier == "gold" && amount > 10`, true},
		{`tier == "silver" || amount < 10`, false},
		{`customer.country == "PT"`, true},
		{"len(items) == 2", true},
		{"true", true},
	}
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			got, err := e.Evaluate(context.Background(), tt.condition, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCUEEvaluator_Errors(t *testing.T) {
	e := NewCUEEvaluator()
	vars := ir.Object{"amount": ir.Int(5)}

	tests := []struct {
		name      string
		condition string
	}{
		{"syntax error", "amount >"},
		{"not boolean", "amount + 1"},
		{"unknown variable", "missing > 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), tt.condition, vars)
			assert.Error(t, err)
		})
	}
}

func TestCUEEvaluator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCUEEvaluator().Evaluate(ctx, "true", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCUEEvaluator_Concurrent(t *testing.T) {
	e := NewCUEEvaluator()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			got, err := e.Evaluate(context.Background(), "mod(n, 2) == 0", ir.Object{"n": ir.Int(n)})
			assert.NoError(t, err)
			assert.Equal(t, n%2 == 0, got)
		}(int64(i))
	}
	wg.Wait()
}

func TestCUEEvaluator_Decimals(t *testing.T) {
	e := NewCUEEvaluator()
	vars := ir.Object{
		"price": ir.Decimal("9.99"),
		"order": ir.Object{"total": ir.Decimal("120.5")},
	}

	tests := []struct {
		condition string
		want      bool
	}{
		{"price < 10", true},
		{"price == 9.99", true},
		{"price > 9.989", true},
		{"order.total > 120", true},
	}
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			got, err := e.Evaluate(context.Background(), tt.condition, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCUEEvaluator_CachesParsedConditions(t *testing.T) {
	e := NewCUEEvaluator()
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		got, err := e.Evaluate(ctx, "amount > 1", ir.Object{"amount": ir.Int(i)})
		require.NoError(t, err)
		assert.Equal(t, i > 1, got)
	}
	assert.Len(t, e.exprs, 1)

	_, err := e.Evaluate(ctx, "amount == 2", ir.Object{"amount": ir.Int(2)})
	require.NoError(t, err)
	assert.Len(t, e.exprs, 2)

	// Syntax errors are not cached.
	_, err = e.Evaluate(ctx, "amount >", nil)
	require.Error(t, err)
	assert.Len(t, e.exprs, 2)
}

func TestEvaluatorFunc(t *testing.T) {
	var seen string
	f := EvaluatorFunc(func(_ context.Context, cond string, _ ir.Object) (bool, error) {
		seen = cond
		return true, nil
	})

	ok, err := f.Evaluate(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", seen)
}
