package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testRegistryStorage runs the behavior every registry backend must provide.
func testRegistryStorage(t *testing.T, storage RegistryStorage) {
	t.Helper()
	ctx := context.Background()
	records := map[string]Record{
		"b:0": NewRecord(newTestBook("b:0", Unlimited{}), &BookLocation{Renderer: "pdf", LocationString: `{"page":2}`}, Used, "urn:f", nil, nil),
		"b:1": NewRecord(newTestBook("b:1", Reserved{HoldPosition: 2, CopiesTotal: 3}), nil, Holding, "", nil, nil),
	}

	t.Run("Load Missing Registry", func(t *testing.T) {
		_, err := storage.Load(ctx, "main")
		assert.ErrorIs(t, err, ErrRegistryNotFound)
	})

	t.Run("Save And Load", func(t *testing.T) {
		require.NoError(t, storage.Save(ctx, "main", records))
		loaded, err := storage.Load(ctx, "main")
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, Used, loaded["b:0"].State())
		assert.Equal(t, "urn:f", loaded["b:0"].FulfillmentID())
		assert.Equal(t, records["b:0"].Location(), loaded["b:0"].Location())
		assert.Equal(t, Reserved{HoldPosition: 2, CopiesTotal: 3}, loaded["b:1"].Book().Availability())
	})

	t.Run("Save Replaces Previous Content", func(t *testing.T) {
		require.NoError(t, storage.Save(ctx, "main", map[string]Record{"b:1": records["b:1"]}))
		loaded, err := storage.Load(ctx, "main")
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
		_, ok := loaded["b:0"]
		assert.False(t, ok)
	})

	t.Run("Accounts Are Isolated", func(t *testing.T) {
		require.NoError(t, storage.Save(ctx, "other", map[string]Record{"b:0": records["b:0"]}))
		loaded, err := storage.Load(ctx, "main")
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
		_, ok := loaded["b:1"]
		assert.True(t, ok)
	})

	t.Run("Delete Registry", func(t *testing.T) {
		require.NoError(t, storage.Delete(ctx, "main"))
		_, err := storage.Load(ctx, "main")
		assert.ErrorIs(t, err, ErrRegistryNotFound)
		assert.NoError(t, storage.Delete(ctx, "main"))
		_, err = storage.Load(ctx, "other")
		assert.NoError(t, err)
	})
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	storage := NewFileRegistryStorage(zap.NewNop(), dir)
	defer storage.Close()
	testRegistryStorage(t, storage)

	t.Run("Layout", func(t *testing.T) {
		require.NoError(t, storage.Save(context.Background(), "main", map[string]Record{}))
		_, err := os.Stat(filepath.Join(dir, "main", "registry", "registry.json"))
		assert.NoError(t, err)
		entries, err := os.ReadDir(filepath.Join(dir, "main", "registry"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Corrupt File", func(t *testing.T) {
		path := filepath.Join(dir, "broken", "registry", "registry.json")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o600))
		_, err := storage.Load(context.Background(), "broken")
		assert.ErrorIs(t, err, ErrCorruptRegistry)
	})
}
