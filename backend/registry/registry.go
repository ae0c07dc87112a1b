package registry

import (
	"errors"
	"sync"

	"github.com/adwski/blinddate/backend/metrics"
	"github.com/adwski/blinddate/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrNotRegistered     = errors.New("connection is not registered")
)

type entry struct {
	participant model.Participant
	wire        model.Wire
}

// Registry tracks which connection belongs to which anonymous participant.
type Registry struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	conns  map[string]*entry
	users  map[string]map[string]struct{}
}

func New(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		mx:     &sync.RWMutex{},
		conns:  make(map[string]*entry),
		users:  make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Register(p model.Participant, wire model.Wire) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.conns[p.ConnID]; ok {
		return ErrAlreadyRegistered
	}
	r.conns[p.ConnID] = &entry{participant: p, wire: wire}
	r.indexUser(p.UserID, p.ConnID)
	metrics.ActiveConnections.Inc()

	r.logger.Debug().
		Str("connID", p.ConnID).
		Str("userID", p.UserID).
		Msg("connection registered")
	return nil
}

func (r *Registry) Unregister(connID string) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return
	}
	r.unindexUser(e.participant.UserID, connID)
	delete(r.conns, connID)
	metrics.ActiveConnections.Dec()

	r.logger.Debug().Str("connID", connID).Msg("connection unregistered")
}

// SetSession attaches the caller-generated session id (and user id, when known)
// to a connection. The session id survives reconnects within a matching attempt.
func (r *Registry) SetSession(connID, sessionID, userID string) (model.Participant, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return model.Participant{}, ErrNotRegistered
	}
	e.participant.SessionID = sessionID
	if userID != "" && userID != e.participant.UserID {
		r.unindexUser(e.participant.UserID, connID)
		e.participant.UserID = userID
		r.indexUser(userID, connID)
	}
	return e.participant, nil
}

func (r *Registry) Get(connID string) (model.Participant, model.Wire, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return model.Participant{}, model.Wire{}, false
	}
	return e.participant, e.wire, true
}

// ConnectionsOf returns the wires of every live connection of a user.
func (r *Registry) ConnectionsOf(userID string) []model.Wire {
	r.mx.RLock()
	defer r.mx.RUnlock()

	ids := r.users[userID]
	wires := make([]model.Wire, 0, len(ids))
	for connID := range ids {
		wires = append(wires, r.conns[connID].wire)
	}
	return wires
}

func (r *Registry) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.conns)
}

func (r *Registry) indexUser(userID, connID string) {
	if userID == "" {
		return
	}
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
}

func (r *Registry) unindexUser(userID, connID string) {
	set, ok := r.users[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}
