package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nassdata/quickstats/pkg/errors"
)

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"), zaptest.NewLogger(t))
	done, err := s.Completed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestFileStorePersistsSortedKeys(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewFileStore(path, zaptest.NewLogger(t))

	require.NoError(t, s.MarkCompleted(ctx, "hogs_inventory_2000_2025"))
	require.NoError(t, s.MarkCompleted(ctx, "corn_yield_1950_2025"))
	require.NoError(t, s.MarkCompleted(ctx, "corn_yield_1950_2025"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"completed":["corn_yield_1950_2025","hogs_inventory_2000_2025"]}`, string(data))

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	reopened := NewFileStore(path, nil)
	done, err := reopened.Completed(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"corn_yield_1950_2025": true, "hogs_inventory_2000_2025": true}, done)
}

func TestFileStoreReadsExistingState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nass_quickstats.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"completed": ["milk_production_1950_2025"]}`), 0o644))

	s := NewFileStore(path, nil)
	done, err := s.Completed(context.Background())
	require.NoError(t, err)
	assert.True(t, done["milk_production_1950_2025"])
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"completed": [`), 0o644))

	_, err := NewFileStore(path, nil).Completed(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestFileStoreReset(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path, nil)
	require.NoError(t, s.MarkCompleted(ctx, "a_1_2"))

	require.NoError(t, s.Reset(ctx))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	done, err := s.Completed(ctx)
	require.NoError(t, err)
	assert.Empty(t, done)

	// resetting twice is fine
	require.NoError(t, s.Reset(ctx))
}

func TestFileStoreConcurrentMarks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStore(path, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.MarkCompleted(ctx, fmt.Sprintf("job_%02d", i)))
		}(i)
	}
	wg.Wait()

	done, err := NewFileStore(path, nil).Completed(ctx)
	require.NoError(t, err)
	assert.Len(t, done, 20)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	var s Store = NewMemoryStore("a")
	require.NoError(t, s.MarkCompleted(ctx, "b"))

	done, err := s.Completed(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, done)

	require.NoError(t, s.Reset(ctx))
	done, _ = s.Completed(ctx)
	assert.Empty(t, done)
}
