package match

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/adwski/blinddate/backend/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mx     sync.Mutex
	events map[string][]model.Event
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, channel string, ev model.Event) bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.events == nil {
		b.events = make(map[string][]model.Event)
	}
	b.events[channel] = append(b.events[channel], ev)
	return true
}

func (b *recordingBroadcaster) on(channel string) []model.Event {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.events[channel]
}

func newTestService(store Store) (*Service, *recordingBroadcaster) {
	logger := zerolog.Nop()
	bc := &recordingBroadcaster{}
	return NewService(Config{Store: store, Broadcaster: bc, Logger: &logger}), bc
}

func TestOneSidedInterestIsNotMutual(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	svc, bc := newTestService(store)

	res, err := svc.RecordInterest(ctx, "u1", "u2", "")
	require.NoError(t, err)
	assert.False(t, res.IsMutual)
	assert.Nil(t, res.Match)
	assert.Equal(t, 0, store.MatchCount())
	assert.Empty(t, bc.on("room_u1_u2"))

	_, err = svc.GetMatch(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReciprocalInterestCreatesOneMatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemStore()
	store.PutProfile(model.Profile{ID: "u1", Name: "Ann"})
	svc, bc := newTestService(store)

	res, err := svc.RecordInterest(ctx, "u1", "u2", "")
	require.NoError(t, err)
	assert.False(t, res.IsMutual)

	res, err = svc.RecordInterest(ctx, "u2", "u1", "")
	require.NoError(t, err)
	require.True(t, res.IsMutual)
	assert.Equal(t, "u1:u2", res.Match.ID)
	assert.Equal(t, "u1", res.Match.User1ID)
	assert.Equal(t, "u2", res.Match.User2ID)

	// repeats change nothing
	for i := 0; i < 3; i++ {
		res, err = svc.RecordInterest(ctx, "u1", "u2", "")
		require.NoError(t, err)
		assert.True(t, res.IsMutual)
	}
	assert.Equal(t, 1, store.MatchCount())
	assert.Len(t, store.Notifications("u1"), 1)
	assert.Len(t, store.Notifications("u2"), 1)
	assert.Equal(t, "u2", store.Notifications("u1")[0].ActorID)

	reveals := bc.on("room_u1_u2")
	require.NotEmpty(t, reveals)
	var payload model.MatchRevealPayload
	require.NoError(t, reveals[0].Decode(&payload))
	assert.Equal(t, []model.RevealedUser{{ID: "u1", Name: "Ann"}, {ID: "u2", Name: anonymousName}}, payload.Users)

	m, err := svc.GetMatch(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1:u2", m.ID)
}

func TestConcurrentReciprocalInterest(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx := context.Background()
		store := memory.NewMemStore()
		svc, _ := newTestService(store)

		var (
			wg     sync.WaitGroup
			mutual atomic.Int32
		)
		for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
			wg.Add(1)
			go func(liker, target string) {
				defer wg.Done()
				res, err := svc.RecordInterest(ctx, liker, target, "")
				assert.NoError(t, err)
				if res.IsMutual {
					mutual.Add(1)
				}
			}(pair[0], pair[1])
		}
		wg.Wait()

		assert.GreaterOrEqual(t, mutual.Load(), int32(1))
		assert.Equal(t, 1, store.MatchCount())
		_, err := svc.GetMatch(ctx, "u1", "u2")
		assert.NoError(t, err)
	}
}

func TestRevealAlsoGoesToSuppliedRoom(t *testing.T) {
	ctx := context.Background()
	svc, bc := newTestService(memory.NewMemStore())

	_, err := svc.RecordInterest(ctx, "u1", "u2", "room_s1_s2")
	require.NoError(t, err)
	_, err = svc.RecordInterest(ctx, "u2", "u1", "room_s1_s2")
	require.NoError(t, err)

	assert.Len(t, bc.on("room_u1_u2"), 1)
	require.Len(t, bc.on("room_s1_s2"), 1)
	assert.Equal(t, "room_s1_s2", bc.on("room_s1_s2")[0].Room)
}

func TestInvalidPair(t *testing.T) {
	svc, _ := newTestService(memory.NewMemStore())
	for _, pair := range [][2]string{{"", "u2"}, {"u1", ""}, {"u1", "u1"}} {
		_, err := svc.RecordInterest(context.Background(), pair[0], pair[1], "")
		assert.ErrorIs(t, err, ErrInvalidPair)
	}
}

type failingStore struct {
	*memory.MemStore
	err error
}

func (f failingStore) UpsertInterest(context.Context, model.Interest) error {
	return f.err
}

func TestStoreFailureIsSurfaced(t *testing.T) {
	boom := errors.New("connection refused")
	svc, _ := newTestService(failingStore{MemStore: memory.NewMemStore(), err: boom})

	_, err := svc.RecordInterest(context.Background(), "u1", "u2", "")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestNowIsInjectable(t *testing.T) {
	logger := zerolog.Nop()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := memory.NewMemStore()
	svc := NewService(Config{Store: store, Broadcaster: &recordingBroadcaster{}, Logger: &logger, Now: func() time.Time { return fixed }})

	_, err := svc.RecordInterest(context.Background(), "u1", "u2", "")
	require.NoError(t, err)
	in, err := store.GetInterest(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, fixed, in.CreatedAt)
}
