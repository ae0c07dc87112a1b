package lobby

import (
	"errors"
	"sync"

	"github.com/adwski/blinddate/backend/metrics"
	"github.com/adwski/blinddate/backend/model"
	"github.com/rs/zerolog"
)

var ErrInvalidRequest = errors.New("scope, mode and session id are required")

type JoinRequest struct {
	Scope     string
	Mode      string
	SessionID string
	UserID    string
	ConnID    string
}

// Entry is a participant waiting in a queue.
type Entry struct {
	ConnID    string
	SessionID string
	UserID    string
}

// Pairing is the result of a successful join. Waiting was already queued
// and is the initiator of the subsequent negotiation.
type Pairing struct {
	Key     model.QueueKey
	Channel string
	Waiting Entry
	Joiner  Entry
}

type queue struct {
	mx      sync.Mutex
	entries []Entry
}

// Matcher owns the lobby queues. Every queue has its own lock; mx only
// guards the queue map.
type Matcher struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	queues map[model.QueueKey]*queue
}

func NewMatcher(logger *zerolog.Logger) *Matcher {
	return &Matcher{
		logger: logger.With().Str("component", "lobby").Logger(),
		mx:     &sync.RWMutex{},
		queues: make(map[model.QueueKey]*queue),
	}
}

// Join pairs the joiner with the oldest waiting entry of a different session,
// or enqueues it. A nil pairing means the joiner is waiting.
func (m *Matcher) Join(req JoinRequest) (*Pairing, error) {
	if req.Scope == "" || req.Mode == "" || req.SessionID == "" || req.ConnID == "" {
		return nil, ErrInvalidRequest
	}
	key := model.QueueKey{Scope: req.Scope, Mode: req.Mode}
	joiner := Entry{ConnID: req.ConnID, SessionID: req.SessionID, UserID: req.UserID}

	// a connection is never queued twice
	m.Leave(req.ConnID)

	q := m.queue(key)
	q.mx.Lock()
	defer q.mx.Unlock()

	for i, waiting := range q.entries {
		if waiting.SessionID == req.SessionID {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		metrics.SetWaiting(key.Scope, key.Mode, len(q.entries))
		metrics.RecordPairing(key.Scope, key.Mode)

		m.logger.Debug().
			Str("queue", key.String()).
			Str("waiting", waiting.SessionID).
			Str("joiner", joiner.SessionID).
			Msg("participants paired")

		return &Pairing{
			Key:     key,
			Channel: model.ChannelName(waiting.SessionID, joiner.SessionID),
			Waiting: waiting,
			Joiner:  joiner,
		}, nil
	}

	q.entries = append(q.entries, joiner)
	metrics.SetWaiting(key.Scope, key.Mode, len(q.entries))

	m.logger.Debug().
		Str("queue", key.String()).
		Str("sessionID", joiner.SessionID).
		Int("waiting", len(q.entries)).
		Msg("participant queued")
	return nil, nil
}

// Requeue puts an entry that was dequeued by a failed pairing back at the
// head of its queue, keeping its place ahead of later joiners.
func (m *Matcher) Requeue(key model.QueueKey, e Entry) {
	q := m.queue(key)
	q.mx.Lock()
	defer q.mx.Unlock()

	for _, queued := range q.entries {
		if queued.ConnID == e.ConnID {
			return
		}
	}
	q.entries = append([]Entry{e}, q.entries...)
	metrics.SetWaiting(key.Scope, key.Mode, len(q.entries))

	m.logger.Debug().
		Str("queue", key.String()).
		Str("sessionID", e.SessionID).
		Msg("participant requeued")
}

// Leave removes every entry of a connection from every queue
// and returns how many entries were removed.
func (m *Matcher) Leave(connID string) int {
	m.mx.RLock()
	defer m.mx.RUnlock()

	var removed int
	for key, q := range m.queues {
		q.mx.Lock()
		kept := q.entries[:0]
		for _, e := range q.entries {
			if e.ConnID == connID {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) != len(q.entries) {
			clear(q.entries[len(kept):])
			q.entries = kept
			metrics.SetWaiting(key.Scope, key.Mode, len(q.entries))
		}
		q.mx.Unlock()
	}
	if removed > 0 {
		m.logger.Debug().Str("connID", connID).Int("removed", removed).Msg("connection left lobby")
	}
	return removed
}

// Len returns the number of participants waiting in a queue.
func (m *Matcher) Len(key model.QueueKey) int {
	m.mx.RLock()
	q, ok := m.queues[key]
	m.mx.RUnlock()
	if !ok {
		return 0
	}
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.entries)
}

func (m *Matcher) queue(key model.QueueKey) *queue {
	m.mx.RLock()
	q, ok := m.queues[key]
	m.mx.RUnlock()
	if ok {
		return q
	}

	m.mx.Lock()
	defer m.mx.Unlock()
	if q, ok = m.queues[key]; !ok {
		q = &queue{}
		m.queues[key] = q
	}
	return q
}
