package catalog

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/batchflow/internal/domain"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("text of "+n), 0o644))
	}
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	marks := filepath.Join(root, "done")
	writeFiles(t, src, "c.txt", "a.txt", "b.txt", "d.txt", "notes.md")
	writeFiles(t, marks, "b_original.txt", "zzz_original.txt", "d.json")

	t.Run("filters markers and sorts", func(t *testing.T) {
		ids, err := Build(ctx, Options{SourceDir: src, MarkerDir: marks})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c", "d"}, ids)
	})

	t.Run("missing marker dir means no markers", func(t *testing.T) {
		ids, err := Build(ctx, Options{SourceDir: src, MarkerDir: filepath.Join(root, "nope")})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	})

	t.Run("limit keeps the first entries", func(t *testing.T) {
		ids, err := Build(ctx, Options{SourceDir: src, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)
	})

	t.Run("sampling is reproducible with a seeded source", func(t *testing.T) {
		first, err := Build(ctx, Options{SourceDir: src, Sample: true, Limit: 3, Rand: rand.New(rand.NewSource(7))})
		require.NoError(t, err)
		second, err := Build(ctx, Options{SourceDir: src, Sample: true, Limit: 3, Rand: rand.New(rand.NewSource(7))})
		require.NoError(t, err)
		assert.Len(t, first, 3)
		assert.Equal(t, first, second)
		assert.Subset(t, []string{"a", "b", "c", "d"}, first)
	})

	t.Run("missing source dir fails", func(t *testing.T) {
		_, err := Build(ctx, Options{SourceDir: filepath.Join(root, "missing")})
		assert.True(t, errors.Is(err, ErrSourceUnavailable))
	})
}

func TestReset(t *testing.T) {
	state := domain.NewSubmissionState()
	state.ResetCatalog([]string{"x"})
	state.Cursor = domain.Cursor{Index: 0, Exhausted: true}

	Reset(state, []string{"a", "b"})

	assert.Equal(t, []string{"a", "b"}, state.Catalog)
	assert.Equal(t, domain.CursorStart, state.Cursor.Index)
	assert.False(t, state.Cursor.Exhausted)
}

func TestFileReader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "case1.txt"), []byte("  first line \nsecond\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{0xff, 0xfe, 'x'}, 0o644))

	r := NewFileReader(dir, "")

	item, err := r.Read(ctx, "case1")
	require.NoError(t, err)
	assert.Equal(t, "case1", item.ID)
	assert.Equal(t, "<line 1> first line\n<line 2> second", item.Content)

	_, err = r.Read(ctx, "bad")
	assert.ErrorIs(t, err, ErrUnreadable)

	_, err = r.Read(ctx, "absent")
	assert.ErrorIs(t, err, ErrUnreadable)
}
