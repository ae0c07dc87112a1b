package client

import (
	"context"

	"github.com/adwski/blinddate/backend/callsession"
	"github.com/adwski/blinddate/backend/match"
	"github.com/adwski/blinddate/backend/model"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

type (
	CallAPI interface {
		RequestCall(ctx context.Context, callerID, calleeID string, kind model.CallKind) (model.Call, model.MediaCredentials, error)
		Answer(ctx context.Context, callID, userID string) (model.Call, error)
		Reject(ctx context.Context, callID, userID string) (model.Call, error)
	}

	AgentConfig struct {
		UserID   string
		API      CallAPI
		Observer callsession.Observer
		Clock    clock.Clock
		Logger   *zerolog.Logger
	}

	// Agent feeds realtime call events of one user into a call session.
	Agent struct {
		userID  string
		api     CallAPI
		session *callsession.Session
		logger  zerolog.Logger
	}
)

func NewAgent(cfg AgentConfig) *Agent {
	a := &Agent{
		userID: cfg.UserID,
		api:    cfg.API,
		logger: cfg.Logger.With().Str("component", "call-agent").Str("userID", cfg.UserID).Logger(),
	}
	a.session = callsession.New(callsession.Config{
		Signaler: signaler{a},
		Observer: cfg.Observer,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	})
	return a
}

func (a *Agent) Session() *callsession.Session {
	return a.session
}

func (a *Agent) Call(ctx context.Context, calleeID string, kind model.CallKind) error {
	return a.session.Dispatch(ctx, callsession.PlaceCall{CalleeID: calleeID, Kind: kind})
}

func (a *Agent) Accept(ctx context.Context) error {
	return a.session.Dispatch(ctx, callsession.Accept{})
}

func (a *Agent) Reject(ctx context.Context) error {
	return a.session.Dispatch(ctx, callsession.Reject{})
}

func (a *Agent) Cancel(ctx context.Context) error {
	return a.session.Dispatch(ctx, callsession.Cancel{})
}

func (a *Agent) HangUp(ctx context.Context) error {
	return a.session.Dispatch(ctx, callsession.HangUp{})
}

// Run consumes events until the channel is closed or ctx is done.
func (a *Agent) Run(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := a.HandleEvent(ctx, ev); err != nil {
				a.logger.Warn().Err(err).Str("type", ev.Type).Msg("failed to handle event")
			}
		}
	}
}

// HandleEvent translates a realtime event into a session event.
// Events unrelated to calls are ignored.
func (a *Agent) HandleEvent(ctx context.Context, ev model.Event) error {
	switch ev.Type {
	case model.EventIncomingCall:
		var p model.IncomingCallPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return a.session.Dispatch(ctx, callsession.BroadcastReceived{
			CallerID:     p.CallerID,
			CallerName:   p.CallerName,
			CallerAvatar: p.CallerAvatar,
			Kind:         p.Kind,
		})
	case model.EventCallRecord:
		var p model.CallRecordPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return a.session.Dispatch(ctx, callsession.ConfirmedReceived{
			CallID:       p.Call.ID,
			CallerID:     p.Call.CallerID,
			CallerName:   p.Caller.Name,
			CallerAvatar: p.Caller.AvatarURL,
			Kind:         p.Call.Kind,
			Channel:      p.Call.Channel,
			Credentials:  p.Credentials,
		})
	case model.EventCallStatus:
		var p model.CallStatusPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		switch p.Status {
		case model.CallStatusAnswered:
			return a.session.Dispatch(ctx, callsession.CallAnswered{CallID: p.CallID})
		case model.CallStatusRejected:
			return a.session.Dispatch(ctx, callsession.CallRejected{CallID: p.CallID})
		}
	}
	return nil
}

type signaler struct {
	a *Agent
}

func (s signaler) Answer(ctx context.Context, callID string) error {
	_, err := s.a.api.Answer(ctx, callID, s.a.userID)
	return err
}

func (s signaler) Reject(ctx context.Context, callID string) error {
	_, err := s.a.api.Reject(ctx, callID, s.a.userID)
	return err
}

func (s signaler) RequestCall(ctx context.Context, calleeID string, kind model.CallKind) (model.Call, model.MediaCredentials, error) {
	return s.a.api.RequestCall(ctx, s.a.userID, calleeID, kind)
}

// ConfirmMatch records interest in targetID. When the interest is mutual it
// waits for the match record to become readable. A one-sided interest is
// reported as pending; the other side learns about it from match_reveal.
func ConfirmMatch(ctx context.Context, api *API, poller *match.Poller, myID, targetID, room string) (match.Outcome, model.Match, error) {
	mutual, err := api.AcceptMatch(ctx, myID, targetID, room)
	if err != nil || !mutual {
		return match.OutcomePending, model.Match{}, err
	}
	return poller.Await(ctx, myID, targetID)
}
