package repositoryimpl

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikaelliljedahl/prfactory/internal/checkpoint"
	"github.com/mikaelliljedahl/prfactory/pkg/cerr"
	"github.com/mikaelliljedahl/prfactory/pkg/storage"
)

func repositories(t *testing.T) map[string]checkpoint.Repository {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	sqlite, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]checkpoint.Repository{
		"memory": NewMemoryRepository(),
		"yaml":   NewYAMLRepository(local),
		"sqlite": sqlite,
	}
}

func at(ticketID, agent, id string, ts time.Time, payload string) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:        id,
		TicketID:  ticketID,
		AgentName: agent,
		Timestamp: ts,
		Status:    checkpoint.StatusActive,
		Payload:   []byte(payload),
	}
}

func TestRepository_SaveAndGetLatest(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.GetLatest(ctx, "T1", "planning")
			assert.True(t, cerr.IsCode(err, cerr.NotFound))

			state := map[string]any{"plan": "step 1\nstep 2", "attempt": float64(2), "files": []any{"a.go", "b.go"}}
			payload, err := checkpoint.EncodePayload(&checkpoint.Payload{State: state, Reason: "suspended"})
			require.NoError(t, err)

			require.NoError(t, repo.Save(ctx, at("T1", "planning", "01A", base, `{"state":{}}`)))
			require.NoError(t, repo.Save(ctx, &checkpoint.Checkpoint{
				ID: "01B", TicketID: "T1", AgentName: "planning", Timestamp: base.Add(time.Minute),
				Status: checkpoint.StatusActive, Payload: payload,
			}))
			require.NoError(t, repo.Save(ctx, at("T1", "analysis", "01C", base.Add(2*time.Minute), `{"state":{}}`)))

			latest, err := repo.GetLatest(ctx, "T1", "planning")
			require.NoError(t, err)
			assert.Equal(t, "01B", latest.ID)
			assert.True(t, latest.Timestamp.Equal(base.Add(time.Minute)))

			decoded, err := checkpoint.DecodePayload(latest.Payload)
			require.NoError(t, err)
			assert.Equal(t, state, decoded.State)
			assert.Equal(t, "suspended", decoded.Reason)
		})
	}
}

func TestRepository_UpsertAndHistory(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, at("T1", "planning", "01A", base, "v1")))
			require.NoError(t, repo.Save(ctx, at("T1", "planning", "01A", base, "v2")))
			require.NoError(t, repo.Save(ctx, at("T1", "implementation", "01B", base.Add(time.Second), "x")))
			require.NoError(t, repo.Save(ctx, at("T2", "planning", "01C", base, "y")))

			all, err := repo.GetAll(ctx, "T1")
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "01B", all[0].ID)
			assert.Equal(t, "01A", all[1].ID)
			assert.Equal(t, "v2", string(all[1].Payload))

			err = repo.Save(ctx, at("T1", "implementation", "01A", base, "moved"))
			assert.Error(t, err)
		})
	}
}

func TestRepository_StatusAndDelete(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, at("T1", "planning", "01A", base, "a")))
			require.NoError(t, repo.Save(ctx, at("T1", "planning", "01B", base.Add(time.Second), "b")))
			require.NoError(t, repo.Save(ctx, at("T1", "analysis", "01C", base, "c")))
			require.NoError(t, repo.Save(ctx, at("T2", "planning", "01D", base, "d")))

			require.NoError(t, repo.UpdateStatus(ctx, "T1", "01B", checkpoint.StatusResumed))
			got, err := repo.Get(ctx, "T1", "01B")
			require.NoError(t, err)
			assert.Equal(t, checkpoint.StatusResumed, got.Status)
			assert.True(t, cerr.IsCode(repo.UpdateStatus(ctx, "T1", "missing", checkpoint.StatusExpired), cerr.NotFound))

			require.NoError(t, repo.Delete(ctx, "T1", "01B"))
			latest, err := repo.GetLatest(ctx, "T1", "planning")
			require.NoError(t, err)
			assert.Equal(t, "01A", latest.ID)
			assert.True(t, cerr.IsCode(repo.Delete(ctx, "T1", "01B"), cerr.NotFound))

			n, err := repo.DeleteAllForTicket(ctx, "T1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			all, err := repo.GetAll(ctx, "T1")
			require.NoError(t, err)
			assert.Empty(t, all)

			other, err := repo.GetAll(ctx, "T2")
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestRepository_ListBefore(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, at("T1", "planning", "01A", base.Add(-48*time.Hour), "old")))
			require.NoError(t, repo.Save(ctx, at("T2", "analysis", "01B", base.Add(-72*time.Hour), "older")))
			require.NoError(t, repo.Save(ctx, at("T2", "analysis", "01C", base, "fresh")))

			old, err := repo.ListBefore(ctx, base.Add(-24*time.Hour))
			require.NoError(t, err)
			require.Len(t, old, 2)
			assert.Equal(t, "01A", old[0].ID)
			assert.Equal(t, "01B", old[1].ID)
		})
	}
}

func TestRepository_ConcurrentWritersOnDifferentKeys(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ticketID := fmt.Sprintf("T%d", i%4)
					agent := fmt.Sprintf("agent-%d", i)
					for j := range 5 {
						c := checkpoint.New(ticketID, agent, []byte(fmt.Sprintf(`{"state":{"j":%d}}`, j)))
						assert.NoError(t, repo.Save(ctx, c))
					}
				}()
			}
			wg.Wait()

			for i := range 8 {
				latest, err := repo.GetLatest(ctx, fmt.Sprintf("T%d", i%4), fmt.Sprintf("agent-%d", i))
				require.NoError(t, err)
				p, err := checkpoint.DecodePayload(latest.Payload)
				require.NoError(t, err)
				assert.Equal(t, float64(4), p.State["j"])
			}
		})
	}
}

func TestMemoryRepository_ConcurrentSavesClaimIDOnce(t *testing.T) {
	ctx := context.Background()
	for round := range 50 {
		repo := NewMemoryRepository()
		id := fmt.Sprintf("cp-%d", round)
		ts := time.Now()

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			stored []string
		)
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticketID := fmt.Sprintf("T%d", i)
				err := repo.Save(ctx, at(ticketID, "planner", id, ts, `{}`))
				if err == nil {
					mu.Lock()
					stored = append(stored, ticketID)
					mu.Unlock()
					return
				}
				assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
			}()
		}
		wg.Wait()

		require.Len(t, stored, 1)
		owners := 0
		for i := range 4 {
			if _, err := repo.Get(ctx, fmt.Sprintf("T%d", i), id); err == nil {
				owners++
			}
		}
		assert.Equal(t, 1, owners)
	}
}
