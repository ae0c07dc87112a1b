package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/adwski/blinddate/backend/storage"
)

type interestKey struct {
	liker  string
	target string
}

// MemStore keeps every record in process memory.
type MemStore struct {
	mx            *sync.Mutex
	interests     map[interestKey]model.Interest
	matches       map[string]model.Match
	notifications map[string]model.Notification
	profiles      map[string]model.Profile
	calls         map[string]model.Call
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:            &sync.Mutex{},
		interests:     make(map[interestKey]model.Interest),
		matches:       make(map[string]model.Match),
		notifications: make(map[string]model.Notification),
		profiles:      make(map[string]model.Profile),
		calls:         make(map[string]model.Call),
	}
}

func (ms *MemStore) Ping(_ context.Context) error {
	return nil
}

func (ms *MemStore) UpsertInterest(_ context.Context, in model.Interest) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	key := interestKey{liker: in.LikerID, target: in.TargetID}
	if _, ok := ms.interests[key]; !ok {
		ms.interests[key] = in
	}
	return nil
}

func (ms *MemStore) GetInterest(_ context.Context, likerID, targetID string) (model.Interest, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	in, ok := ms.interests[interestKey{liker: likerID, target: targetID}]
	if !ok {
		return model.Interest{}, storage.ErrNotFound
	}
	return in, nil
}

func (ms *MemStore) UpsertMatch(_ context.Context, m model.Match) (bool, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.matches[m.ID]; ok {
		return false, nil
	}
	ms.matches[m.ID] = m
	return true, nil
}

func (ms *MemStore) GetMatch(_ context.Context, id string) (model.Match, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	m, ok := ms.matches[id]
	if !ok {
		return model.Match{}, storage.ErrNotFound
	}
	return m, nil
}

func (ms *MemStore) UpsertNotification(_ context.Context, n model.Notification) (bool, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.notifications[n.ID]; ok {
		return false, nil
	}
	ms.notifications[n.ID] = n
	return true, nil
}

// Notifications returns the notifications of a user, oldest first.
func (ms *MemStore) Notifications(userID string) []model.Notification {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	var res []model.Notification
	for _, n := range ms.notifications {
		if n.UserID == userID {
			res = append(res, n)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

// MatchCount returns the number of stored matches.
func (ms *MemStore) MatchCount() int {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	return len(ms.matches)
}

func (ms *MemStore) PutProfile(p model.Profile) {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	ms.profiles[p.ID] = p
}

func (ms *MemStore) GetProfile(_ context.Context, id string) (model.Profile, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	p, ok := ms.profiles[id]
	if !ok {
		return model.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (ms *MemStore) CreateCall(_ context.Context, c model.Call) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.calls[c.ID]; ok {
		return storage.ErrConflict
	}
	ms.calls[c.ID] = c
	return nil
}

func (ms *MemStore) GetCall(_ context.Context, id string) (model.Call, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	c, ok := ms.calls[id]
	if !ok {
		return model.Call{}, storage.ErrNotFound
	}
	return c, nil
}

func (ms *MemStore) ResolveCall(_ context.Context, id string, status model.CallStatus, at time.Time) (model.Call, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	c, ok := ms.calls[id]
	if !ok {
		return model.Call{}, storage.ErrNotFound
	}
	if c.Status != model.CallStatusPending {
		return c, storage.ErrConflict
	}
	c.Status = status
	c.UpdatedAt = at
	ms.calls[id] = c
	return c, nil
}
