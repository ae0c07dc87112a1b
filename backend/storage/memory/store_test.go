package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/adwski/blinddate/backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore()

	first := model.Interest{LikerID: "u1", TargetID: "u2", Action: model.InterestActionLike, CreatedAt: time.Unix(1, 0)}
	require.NoError(t, ms.UpsertInterest(ctx, first))
	require.NoError(t, ms.UpsertInterest(ctx, model.Interest{LikerID: "u1", TargetID: "u2", CreatedAt: time.Unix(2, 0)}))

	got, err := ms.GetInterest(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	_, err = ms.GetInterest(ctx, "u2", "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentMatchUpsertConverges(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore()

	var (
		wg      sync.WaitGroup
		mx      sync.Mutex
		created int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 0 {
				a, b = b, a
			}
			ok, err := ms.UpsertMatch(ctx, model.NewMatch(a, b, time.Now()))
			assert.NoError(t, err)
			if ok {
				mx.Lock()
				created++
				mx.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, ms.MatchCount())
	_, err := ms.GetMatch(ctx, "u1:u2")
	assert.NoError(t, err)
}

func TestResolveCallOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore()
	require.NoError(t, ms.CreateCall(ctx, model.Call{ID: "c1", Status: model.CallStatusPending}))
	assert.ErrorIs(t, ms.CreateCall(ctx, model.Call{ID: "c1"}), storage.ErrConflict)

	c, err := ms.ResolveCall(ctx, "c1", model.CallStatusAnswered, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.CallStatusAnswered, c.Status)

	_, err = ms.ResolveCall(ctx, "c1", model.CallStatusRejected, time.Now())
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = ms.ResolveCall(ctx, "missing", model.CallStatusRejected, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
