package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLocalStorage_ReadWrite(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	_, err := s.Read(ctx, "tickets/a.yaml")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Write(ctx, "tickets/a.yaml", []byte("v1")))
	require.NoError(t, s.Write(ctx, "tickets/a.yaml", []byte("v2")))

	data, err := s.Read(ctx, "tickets/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	ok, err := s.Exists(ctx, "tickets/a.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "tickets/a.yaml"))
	assert.True(t, errors.Is(s.Delete(ctx, "tickets/a.yaml"), ErrNotFound))
}

func TestLocalStorage_ListSkipsTempAndLockFiles(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Write(ctx, "checkpoints/t1/a.yaml", []byte("a")))
	require.NoError(t, s.Write(ctx, "checkpoints/t1/b.yaml", []byte("b")))
	require.NoError(t, s.Write(ctx, "checkpoints/t2/c.yaml", []byte("c")))

	files, err := s.List(ctx, "checkpoints/t1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"checkpoints/t1/a.yaml", "checkpoints/t1/b.yaml"}, files)

	dirs, err := s.ListPrefixes(ctx, "checkpoints")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"checkpoints/t1", "checkpoints/t2"}, dirs)

	root, err := s.ListPrefixes(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoints"}, root)

	missing, err := s.List(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestLocalStorage_ConcurrentWritesSamePath(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Write(ctx, "doc.yaml", []byte(fmt.Sprintf("writer-%02d", i))))
		}()
	}
	wg.Wait()

	data, err := s.Read(ctx, "doc.yaml")
	require.NoError(t, err)
	assert.Len(t, data, len("writer-00"))

	files, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.yaml"}, files)
}
