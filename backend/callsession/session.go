package callsession

import (
	"context"
	"sync"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const defaultSignalTimeout = 10 * time.Second

type (
	// Signaler resolves calls on the server.
	Signaler interface {
		Answer(ctx context.Context, callID string) error
		Reject(ctx context.Context, callID string) error
		RequestCall(ctx context.Context, calleeID string, kind model.CallKind) (model.Call, model.MediaCredentials, error)
	}

	// Observer is the UI hook. Callbacks run outside the session lock.
	Observer interface {
		Present(o Offer)
		Dismiss(o Offer)
		StartMedia(c ActiveCall)
		StopMedia(c ActiveCall)
	}

	Config struct {
		Signaler Signaler
		Observer Observer
		Clock    clock.Clock
		Logger   *zerolog.Logger
	}

	// Session is the single source of truth for one user's call state.
	// Every event, including timer expiry, goes through Dispatch so handlers
	// always act on the live state.
	Session struct {
		mx       sync.Mutex
		state    State
		timer    *clock.Timer
		clock    clock.Clock
		signaler Signaler
		observer Observer
		logger   zerolog.Logger
	}
)

func New(cfg Config) *Session {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Session{
		clock:    clk,
		signaler: cfg.Signaler,
		observer: obs,
		logger:   cfg.Logger.With().Str("component", "callsession").Logger(),
	}
}

func (s *Session) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state.clone()
}

// Dispatch applies ev and runs the resulting effects. Timer effects are
// applied under the lock, the rest after it is released.
func (s *Session) Dispatch(ctx context.Context, ev Event) error {
	s.mx.Lock()
	prev := s.state.Phase
	next, effects, err := Reduce(s.state, ev, s.clock.Now())
	if err != nil {
		s.mx.Unlock()
		return err
	}
	s.state = next
	for _, eff := range effects {
		switch eff.Kind {
		case EffectArmTimer:
			s.armTimer(eff.Deadline, eff.Seq)
		case EffectCancelTimer:
			s.stopTimer()
		}
	}
	if next.Phase == PhaseIdle && s.timer != nil {
		s.stopTimer()
	}
	s.mx.Unlock()

	if prev != next.Phase {
		s.logger.Debug().
			Str("from", prev.String()).
			Str("to", next.Phase.String()).
			Msg("call phase changed")
	}
	return s.run(ctx, effects)
}

func (s *Session) armTimer(deadline time.Time, seq uint64) {
	s.stopTimer()
	s.timer = s.clock.AfterFunc(deadline.Sub(s.clock.Now()), func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSignalTimeout)
		defer cancel()
		if err := s.Dispatch(ctx, Timeout{Seq: seq}); err != nil {
			s.logger.Error().Err(err).Uint64("seq", seq).Msg("timeout handling failed")
		}
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) run(ctx context.Context, effects []Effect) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, eff := range effects {
		switch eff.Kind {
		case EffectPresent:
			s.observer.Present(eff.Offer)
		case EffectDismiss:
			s.observer.Dismiss(eff.Offer)
		case EffectStartMedia:
			s.observer.StartMedia(eff.Call)
		case EffectStopMedia:
			s.observer.StopMedia(eff.Call)
		case EffectSendAnswer:
			if err := s.signaler.Answer(ctx, eff.CallID); err != nil {
				s.logger.Error().Err(err).Str("callID", eff.CallID).Msg("answer failed")
				keep(err)
			}
		case EffectSendReject:
			if err := s.signaler.Reject(ctx, eff.CallID); err != nil {
				s.logger.Error().Err(err).Str("callID", eff.CallID).Msg("reject failed")
				keep(err)
			}
		case EffectRequestCall:
			keep(s.requestCall(ctx, eff.CalleeID, eff.CallKind))
		}
	}
	return firstErr
}

func (s *Session) requestCall(ctx context.Context, calleeID string, kind model.CallKind) error {
	call, creds, err := s.signaler.RequestCall(ctx, calleeID, kind)
	if err != nil {
		s.logger.Error().Err(err).Str("callee", calleeID).Msg("call request failed")
		if cErr := s.Dispatch(ctx, Cancel{}); cErr != nil {
			s.logger.Error().Err(cErr).Msg("failed to reset outgoing call")
		}
		return err
	}
	return s.Dispatch(ctx, CallCreated{Call: call, Credentials: creds})
}

type nopObserver struct{}

func (nopObserver) Present(Offer)         {}
func (nopObserver) Dismiss(Offer)         {}
func (nopObserver) StartMedia(ActiveCall) {}
func (nopObserver) StopMedia(ActiveCall)  {}
