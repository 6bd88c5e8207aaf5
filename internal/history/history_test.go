package history

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"), capacity)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndList(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Add(ctx, Entry{RunID: fmt.Sprintf("run-%d", i), Kind: "success", Text: fmt.Sprintf("text %d", i)})
		require.NoError(t, err)
	}

	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "text 2", entries[0].Text)
	assert.Equal(t, "run-0", entries[2].RunID)
	assert.False(t, entries[0].CreatedAt.IsZero())

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Add(ctx, Entry{RunID: "r", Kind: "success", Text: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	var texts []string
	for _, e := range entries {
		texts = append(texts, e.Text)
	}
	assert.Equal(t, []string{"4", "3", "2"}, texts)
}

func TestConcurrentAdds(t *testing.T) {
	s := openTestStore(t, 20)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Add(ctx, Entry{RunID: fmt.Sprint(i), Kind: "success", Text: "x"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestClear(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	_, err := s.Add(ctx, Entry{RunID: "a", Kind: "success", Text: "x"})
	require.NoError(t, err)

	removed, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, s.Capacity())
	_, err = s.Add(context.Background(), Entry{RunID: "a", Kind: "partial", Text: "kept"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, 0)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Text)
	assert.Equal(t, "partial", entries[0].Kind)
}
