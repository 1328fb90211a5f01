package repositoryimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikaelliljedahl/prfactory/internal/pushsubscription"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
	"github.com/mikaelliljedahl/prfactory/pkg/storage"
)

func newRepo(t *testing.T) *YAMLRepository {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewYAMLRepository(st)
}

func TestYAMLRepository_SaveUpsertsByEndpoint(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	created := time.Now().UTC().Truncate(time.Second)

	first, isNew, err := repo.Save(ctx, &pushsubscription.Subscription{
		Endpoint: "https://push.example.com/a", P256dhKey: "p1", AuthKey: "a1", CreatedAt: created,
	})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEmpty(t, first.ID)

	second, isNew, err := repo.Save(ctx, &pushsubscription.Subscription{
		ID: "ignored", Endpoint: "https://push.example.com/a", P256dhKey: "p2", AuthKey: "a2",
		TicketID: "T1", CreatedAt: created.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, created.Equal(second.CreatedAt))

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "p2", got.P256dhKey)
	assert.Equal(t, "T1", got.TicketID)

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestYAMLRepository_ListForTicket(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	for _, s := range []*pushsubscription.Subscription{
		{ID: "01A", Endpoint: "https://push.example.com/all"},
		{ID: "01B", Endpoint: "https://push.example.com/t1", TicketID: "T1"},
		{ID: "01C", Endpoint: "https://push.example.com/t2", TicketID: "T2"},
	} {
		_, _, err := repo.Save(ctx, s)
		require.NoError(t, err)
	}

	subs, err := repo.List(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "01A", subs[0].ID)
	assert.Equal(t, "01B", subs[1].ID)

	subs, err = repo.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, subs, 3)
}

func TestYAMLRepository_DeleteByEndpoint(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	s, _, err := repo.Save(ctx, &pushsubscription.Subscription{Endpoint: "https://push.example.com/a"})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByEndpoint(ctx, "https://push.example.com/a"))
	_, err = repo.Get(ctx, s.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	err = repo.DeleteByEndpoint(ctx, "https://push.example.com/a")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}
