package estimate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristic(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		bpt  int
		text string
		want int
	}{
		{"empty", 4, "", 0},
		{"exact", 4, "abcdefgh", 2},
		{"rounds up", 4, "abcde", 2},
		{"multibyte", 3, "法律", 2},
		{"default", 0, "abcd", 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewHeuristic(tc.bpt).Estimate(ctx, tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	calls := 0
	fail := true
	c := NewCached(Func(func(ctx context.Context, text string) (int, error) {
		calls++
		if fail {
			return 0, errors.New("remote tokenizer timed out")
		}
		return len(text), nil
	}))

	_, err := c.Estimate(ctx, "hello")
	require.Error(t, err)

	fail = false
	v, err := c.Estimate(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	v, err = c.Estimate(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, 2, calls, "failures are retried, successes are memoised")

	c.Reset()
	_, err = c.Estimate(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
