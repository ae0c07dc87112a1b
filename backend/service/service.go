package service

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/adwski/blinddate/backend/lobby"
	"github.com/adwski/blinddate/backend/model"
	_switch "github.com/adwski/blinddate/backend/switch"
	"github.com/rs/zerolog"
)

var (
	ErrConnect      = errors.New("unable to connect")
	ErrUnknownConn  = errors.New("connection is not registered")
	ErrBadPayload   = errors.New("malformed event payload")
	ErrUnknownEvent = errors.New("unknown event type")
	ErrNoRoom       = errors.New("room is required")
	ErrRoomFull     = errors.New("room already has two members")
	ErrNotAMember   = errors.New("connection is not a member of this room")
)

const maxRoomMembers = 2

type (
	Registry interface {
		Register(p model.Participant, wire model.Wire) error
		Unregister(connID string)
		SetSession(connID, sessionID, userID string) (model.Participant, error)
		Get(connID string) (model.Participant, model.Wire, bool)
		ConnectionsOf(userID string) []model.Wire
	}

	Lobby interface {
		Join(req lobby.JoinRequest) (*lobby.Pairing, error)
		Leave(connID string) int
		Requeue(key model.QueueKey, e lobby.Entry)
	}

	Switch interface {
		Join(channel, connID string, wire model.Wire)
		LeaveAll(connID string)
		Members(channel string) []string
		Relay(ctx context.Context, channel, fromConnID string, ev model.Event) bool
		Broadcast(ctx context.Context, channel string, ev model.Event) bool
	}

	// Service dispatches realtime events of every connection.
	Service struct {
		registry  Registry
		lobby     Lobby
		sw        Switch
		logger    zerolog.Logger
		mx        *sync.Mutex
		consumers map[string]consumer
	}

	consumer struct {
		cancel context.CancelFunc
		done   chan struct{}
	}

	Config struct {
		Registry Registry
		Lobby    Lobby
		Switch   Switch
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		registry:  cfg.Registry,
		lobby:     cfg.Lobby,
		sw:        cfg.Switch,
		logger:    cfg.Logger.With().Str("component", "dispatcher").Logger(),
		mx:        &sync.Mutex{},
		consumers: make(map[string]consumer),
	}
}

// Connect registers the participant and starts consuming its inbound events
// until ctx is done. Events of one connection are handled in order.
func (svc *Service) Connect(ctx context.Context, p model.Participant, wire model.Wire) error {
	if err := svc.registry.Register(p, wire); err != nil {
		return errors.Join(ErrConnect, err)
	}
	svc.logger.Debug().
		Str("connID", p.ConnID).
		Str("userID", p.UserID).
		Msg("connection opened")

	ctx, cancel := context.WithCancel(ctx)
	c := consumer{cancel: cancel, done: make(chan struct{})}
	svc.mx.Lock()
	svc.consumers[p.ConnID] = c
	svc.mx.Unlock()

	go func() {
		defer close(c.done)
		svc.consume(ctx, p.ConnID, wire.RX)
	}()
	return nil
}

// Disconnect stops the consumer of the connection, waits for the event in
// flight to finish and then removes every trace of the connection.
func (svc *Service) Disconnect(connID string) {
	svc.mx.Lock()
	c, ok := svc.consumers[connID]
	delete(svc.consumers, connID)
	svc.mx.Unlock()
	if ok {
		c.cancel()
		<-c.done
	}

	removed := svc.lobby.Leave(connID)
	svc.sw.LeaveAll(connID)
	svc.registry.Unregister(connID)
	svc.logger.Debug().
		Str("connID", connID).
		Int("queueEntries", removed).
		Msg("connection closed")
}

func (svc *Service) consume(ctx context.Context, connID string, rx <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rx:
			if !ok {
				return
			}
			if err := svc.Handle(ctx, connID, ev); err != nil {
				svc.logger.Debug().Err(err).
					Str("connID", connID).
					Str("type", ev.Type).
					Msg("event rejected")
			}
		}
	}
}

// Handle processes one inbound event. Rejected events are answered
// with an error event to the sender.
func (svc *Service) Handle(ctx context.Context, connID string, ev model.Event) error {
	p, wire, ok := svc.registry.Get(connID)
	if !ok {
		return ErrUnknownConn
	}

	var err error
	switch ev.Type {
	case model.EventJoinLobby:
		err = svc.joinLobby(ctx, p, ev)
	case model.EventLeaveLobby:
		svc.lobby.Leave(connID)
	case model.EventJoinRoom:
		err = svc.joinRoom(p, wire, ev)
	case model.EventSendMessage:
		err = svc.sendMessage(ctx, p, ev)
	case model.EventWebRTCSignal:
		err = svc.signal(ctx, p, ev)
	default:
		err = ErrUnknownEvent
	}
	if err != nil {
		svc.reply(ctx, p.ConnID, wire, model.EventError, model.ErrorPayload{Message: err.Error()})
	}
	return err
}

func (svc *Service) joinLobby(ctx context.Context, p model.Participant, ev model.Event) error {
	var req model.JoinLobbyPayload
	if err := ev.Decode(&req); err != nil {
		return ErrBadPayload
	}
	if req.Scope == "" || req.Mode == "" || req.SessionID == "" {
		return lobby.ErrInvalidRequest
	}
	userID := req.UserID
	if userID == "" {
		userID = p.UserID
	}
	p, err := svc.registry.SetSession(p.ConnID, req.SessionID, userID)
	if err != nil {
		return err
	}

	for {
		pairing, err := svc.lobby.Join(lobby.JoinRequest{
			Scope:     req.Scope,
			Mode:      req.Mode,
			SessionID: p.SessionID,
			UserID:    p.UserID,
			ConnID:    p.ConnID,
		})
		if err != nil || pairing == nil {
			return err
		}
		// The waiting side may have gone away after it was dequeued.
		// In that case the joiner goes back to the lobby.
		if svc.pair(ctx, pairing) {
			return nil
		}
	}
}

func (svc *Service) pair(ctx context.Context, pairing *lobby.Pairing) bool {
	// Both sides are told even when the joiner disconnects meanwhile;
	// Send bounds every delivery.
	ctx = context.WithoutCancel(ctx)
	_, waitingWire, ok := svc.registry.Get(pairing.Waiting.ConnID)
	if !ok {
		svc.logger.Debug().
			Str("connID", pairing.Waiting.ConnID).
			Msg("waiting participant is gone")
		return false
	}
	_, joinerWire, ok := svc.registry.Get(pairing.Joiner.ConnID)
	if !ok {
		// The joiner left mid-pairing; the waiting side keeps its place.
		svc.lobby.Requeue(pairing.Key, pairing.Waiting)
		if _, _, ok = svc.registry.Get(pairing.Waiting.ConnID); !ok {
			svc.lobby.Leave(pairing.Waiting.ConnID)
		}
		svc.logger.Debug().
			Str("connID", pairing.Joiner.ConnID).
			Msg("joiner is gone, waiting participant requeued")
		return true
	}

	svc.sw.Join(pairing.Channel, pairing.Waiting.ConnID, waitingWire)
	svc.sw.Join(pairing.Channel, pairing.Joiner.ConnID, joinerWire)

	svc.reply(ctx, pairing.Waiting.ConnID, waitingWire, model.EventMatchFound, model.MatchFoundPayload{
		PeerID:      pairing.Joiner.SessionID,
		PeerUserID:  pairing.Joiner.UserID,
		ChannelName: pairing.Channel,
		Initiator:   true,
	})
	svc.reply(ctx, pairing.Joiner.ConnID, joinerWire, model.EventMatchFound, model.MatchFoundPayload{
		PeerID:      pairing.Waiting.SessionID,
		PeerUserID:  pairing.Waiting.UserID,
		ChannelName: pairing.Channel,
		Initiator:   false,
	})
	return true
}

func (svc *Service) joinRoom(p model.Participant, wire model.Wire, ev model.Event) error {
	var req model.JoinRoomPayload
	if err := ev.Decode(&req); err != nil {
		return ErrBadPayload
	}
	room := firstNonEmpty(req.Room, ev.Room)
	if room == "" {
		return ErrNoRoom
	}
	members := svc.sw.Members(room)
	if !slices.Contains(members, p.ConnID) && len(members) >= maxRoomMembers {
		return ErrRoomFull
	}
	svc.sw.Join(room, p.ConnID, wire)
	return nil
}

func (svc *Service) sendMessage(ctx context.Context, p model.Participant, ev model.Event) error {
	var msg model.SendMessagePayload
	if err := ev.Decode(&msg); err != nil {
		return ErrBadPayload
	}
	room, err := svc.memberRoom(p, firstNonEmpty(msg.Room, ev.Room))
	if err != nil {
		return err
	}
	out, err := model.NewEvent(model.EventReceiveMessage, model.ReceiveMessagePayload{
		Text:   msg.Text,
		Sender: msg.Sender,
	})
	if err != nil {
		return err
	}
	out.From = publicID(p)
	svc.sw.Relay(ctx, room, p.ConnID, out)
	return nil
}

func (svc *Service) signal(ctx context.Context, p model.Participant, ev model.Event) error {
	var sig model.SignalPayload
	if err := ev.Decode(&sig); err != nil {
		return ErrBadPayload
	}
	room, err := svc.memberRoom(p, firstNonEmpty(sig.Room, ev.Room))
	if err != nil {
		return err
	}
	out, err := model.NewEvent(model.EventWebRTCSignal, model.SignalPayload{
		Signal: sig.Signal,
		From:   publicID(p),
	})
	if err != nil {
		return err
	}
	out.From = publicID(p)
	svc.sw.Relay(ctx, room, p.ConnID, out)
	return nil
}

func (svc *Service) memberRoom(p model.Participant, room string) (string, error) {
	if room == "" {
		return "", ErrNoRoom
	}
	if !slices.Contains(svc.sw.Members(room), p.ConnID) {
		return "", ErrNotAMember
	}
	return room, nil
}

// NotifyUser delivers ev to every live connection of userID.
func (svc *Service) NotifyUser(ctx context.Context, userID string, ev model.Event) bool {
	logger := svc.logger.With().Str("userID", userID).Str("type", ev.Type).Logger()
	var sent bool
	for _, wire := range svc.registry.ConnectionsOf(userID) {
		ok, canceled := _switch.Send(ctx, ev, wire.TX, &logger)
		if canceled {
			break
		}
		sent = sent || ok
	}
	return sent
}

func (svc *Service) Broadcast(ctx context.Context, channel string, ev model.Event) bool {
	return svc.sw.Broadcast(ctx, channel, ev)
}

func (svc *Service) reply(ctx context.Context, connID string, wire model.Wire, typ string, payload any) {
	logger := svc.logger.With().Str("connID", connID).Str("type", typ).Logger()
	ev, err := model.NewEvent(typ, payload)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build event")
		return
	}
	_switch.Send(ctx, ev, wire.TX, &logger)
}

func publicID(p model.Participant) string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.ConnID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
