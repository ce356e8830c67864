package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFilter_Empty(t *testing.T) {
	for _, rule := range []any{nil, "", "  "} {
		f, err := NewFilter(rule)
		require.NoError(t, err)
		assert.Nil(t, f)

		keep, err := f.Keep([]string{"A"}, []any{1})
		require.NoError(t, err)
		assert.True(t, keep)
	}
}

func TestNewFilter_Invalid(t *testing.T) {
	_, err := NewFilter("{not json")
	assert.ErrorContains(t, err, "invalid filter rule")
}

func TestFilter_DecodedRule(t *testing.T) {
	// Shape produced by decoding a dataset file.
	f, err := NewFilter(map[string]any{
		">": []any{map[string]any{"var": "AMOUNT"}, 100},
	})
	require.NoError(t, err)

	high, err := ParseDecimal("150.25", 10, 2)
	require.NoError(t, err)
	small, err := ParseDecimal("99.99", 10, 2)
	require.NoError(t, err)

	keep, err := f.Keep([]string{"ID", "AMOUNT"}, []any{"1", high})
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = f.Keep([]string{"ID", "AMOUNT"}, []any{"2", small})
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestFilter_TextRule(t *testing.T) {
	f, err := NewFilter(`{"and": [{">=": [{"var": "QTY"}, 1]}, {"<": [{"var": "QTY"}, 10]}]}`)
	require.NoError(t, err)

	for qty, want := range map[int64]bool{0: false, 1: true, 9: true, 10: false} {
		keep, err := f.Keep([]string{"QTY"}, []any{qty})
		require.NoError(t, err)
		assert.Equal(t, want, keep, "qty %d", qty)
	}
}

func TestFilter_NonBooleanResultDrops(t *testing.T) {
	f, err := NewFilter(`{"var": "NAME"}`)
	require.NoError(t, err)

	keep, err := f.Keep([]string{"NAME"}, []any{"true-ish"})
	require.NoError(t, err)
	assert.False(t, keep)
}
