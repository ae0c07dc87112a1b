package _switch

import (
	"context"
	"sync"
	"time"

	"github.com/adwski/blinddate/backend/metrics"
	"github.com/adwski/blinddate/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimout = time.Second
)

// Switch keeps channel memberships and relays events between members.
// Delivery is best-effort: nothing is buffered for absent members.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]map[string]model.Wire),
	}
}

func (sw *Switch) Join(channel, connID string, wire model.Wire) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	members, ok := sw.fwd[channel]
	if !ok {
		members = make(map[string]model.Wire)
		sw.fwd[channel] = members
	}
	members[connID] = wire

	sw.logger.Debug().
		Str("channel", channel).
		Str("connID", connID).
		Msg("endpoint joined channel")
}

func (sw *Switch) Leave(channel, connID string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()
	sw.leave(channel, connID)
}

// LeaveAll removes a connection from every channel.
func (sw *Switch) LeaveAll(connID string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()
	for channel := range sw.fwd {
		sw.leave(channel, connID)
	}
}

func (sw *Switch) leave(channel, connID string) {
	members, ok := sw.fwd[channel]
	if !ok {
		return
	}
	if _, ok = members[connID]; !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(sw.fwd, channel)
	}
	sw.logger.Debug().
		Str("channel", channel).
		Str("connID", connID).
		Msg("endpoint left channel")
}

// Members returns connection ids of a channel.
func (sw *Switch) Members(channel string) []string {
	sw.mx.RLock()
	defer sw.mx.RUnlock()

	ids := make([]string, 0, len(sw.fwd[channel]))
	for id := range sw.fwd[channel] {
		ids = append(ids, id)
	}
	return ids
}

// Relay forwards ev to every member of channel except the sender.
// It reports whether at least one member received it.
func (sw *Switch) Relay(ctx context.Context, channel, fromConnID string, ev model.Event) bool {
	sent := sw.forward(ctx, channel, fromConnID, ev)
	if !sent {
		sw.logger.Debug().
			Str("channel", channel).
			Str("type", ev.Type).
			Str("src", fromConnID).
			Msg("incoming event was dropped, nowhere to forward")
	}
	return sent
}

// Broadcast delivers a server-originated event to every member of channel.
func (sw *Switch) Broadcast(ctx context.Context, channel string, ev model.Event) bool {
	sent := sw.forward(ctx, channel, "", ev)
	if !sent {
		sw.logger.Debug().
			Str("channel", channel).
			Str("type", ev.Type).
			Msg("broadcast did not reach anyone")
	}
	return sent
}

func (sw *Switch) forward(ctx context.Context, channel, src string, ev model.Event) bool {
	sw.mx.RLock()
	targets := make([]model.Wire, 0, len(sw.fwd[channel]))
	for dst, wire := range sw.fwd[channel] {
		if dst != src {
			targets = append(targets, wire)
		}
	}
	sw.mx.RUnlock()

	logger := sw.logger.With().
		Str("channel", channel).
		Str("type", ev.Type).
		Str("src", src).Logger()

	var sent bool
	for _, wire := range targets {
		evSent, canceled := Send(ctx, ev, wire.TX, &logger)
		if canceled {
			break
		}
		if evSent {
			sent = true
		}
	}
	if !sent {
		metrics.RelayDropped.Inc()
	}
	return sent
}

// Send delivers ev to a single endpoint. It gives up on endpoints that
// do not accept the event within the forward timeout.
func Send(ctx context.Context, ev model.Event, tx chan<- model.Event, logger *zerolog.Logger) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Msg("dead endpoint")
	case tx <- ev:
		logger.Trace().Msg("event is forwarded")
		metrics.RelayForwarded.Inc()
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
