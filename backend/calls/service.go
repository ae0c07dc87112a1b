package calls

import (
	"context"
	"errors"
	"time"

	"github.com/adwski/blinddate/backend/metrics"
	"github.com/adwski/blinddate/backend/model"
	"github.com/adwski/blinddate/backend/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidRequest   = errors.New("distinct caller and callee and a valid call kind are required")
	ErrNotFound         = errors.New("call not found")
	ErrNotCallee        = errors.New("only the callee can resolve a call")
	ErrCallResolved     = errors.New("call is already resolved")
	ErrStoreUnavailable = errors.New("storage is unavailable")
	ErrCredentials      = errors.New("unable to issue media credentials")
)

type (
	Store interface {
		CreateCall(ctx context.Context, c model.Call) error
		GetCall(ctx context.Context, id string) (model.Call, error)
		ResolveCall(ctx context.Context, id string, status model.CallStatus, at time.Time) (model.Call, error)
		GetProfile(ctx context.Context, id string) (model.Profile, error)
	}

	CredentialIssuer interface {
		Issue(channel, identity string) (model.MediaCredentials, error)
	}

	Notifier interface {
		NotifyUser(ctx context.Context, userID string, ev model.Event) bool
	}

	Service struct {
		store    Store
		creds    CredentialIssuer
		notifier Notifier
		now      func() time.Time
		logger   zerolog.Logger
	}

	Config struct {
		Store       Store
		Credentials CredentialIssuer
		Notifier    Notifier
		Logger      *zerolog.Logger
		Now         func() time.Time
	}

	Request struct {
		CallerID string
		CalleeID string
		Kind     model.CallKind
	}
)

func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		creds:    cfg.Credentials,
		notifier: cfg.Notifier,
		now:      now,
		logger:   cfg.Logger.With().Str("component", "calls").Logger(),
	}
}

// Request starts a call. The callee is told about it twice: an immediate
// broadcast without a durable id, then the persisted record with media
// credentials. The caller's own credentials are returned.
func (svc *Service) Request(ctx context.Context, req Request) (model.Call, model.MediaCredentials, error) {
	if req.CallerID == "" || req.CalleeID == "" || req.CallerID == req.CalleeID || !req.Kind.Valid() {
		return model.Call{}, model.MediaCredentials{}, ErrInvalidRequest
	}
	now := svc.now()
	caller := svc.profile(ctx, req.CallerID)

	call := model.Call{
		ID:        uuid.NewString(),
		CallerID:  req.CallerID,
		CalleeID:  req.CalleeID,
		Kind:      req.Kind,
		Channel:   model.ChannelName(req.CallerID, req.CalleeID),
		Status:    model.CallStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	logger := svc.logger.With().
		Str("callID", call.ID).
		Str("caller", call.CallerID).
		Str("callee", call.CalleeID).
		Logger()

	svc.notify(ctx, call.CalleeID, model.EventIncomingCall, model.IncomingCallPayload{
		CallerID:     caller.ID,
		CallerName:   caller.Name,
		CallerAvatar: caller.AvatarURL,
		Kind:         call.Kind,
	}, &logger)

	if err := svc.store.CreateCall(ctx, call); err != nil {
		logger.Error().Err(err).Msg("failed to persist call")
		return model.Call{}, model.MediaCredentials{}, errors.Join(ErrStoreUnavailable, err)
	}
	metrics.RecordCallTransition(string(model.CallStatusPending))

	calleeCreds, err := svc.creds.Issue(call.Channel, call.CalleeID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to issue callee credentials")
		return model.Call{}, model.MediaCredentials{}, errors.Join(ErrCredentials, err)
	}
	callerCreds, err := svc.creds.Issue(call.Channel, call.CallerID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to issue caller credentials")
		return model.Call{}, model.MediaCredentials{}, errors.Join(ErrCredentials, err)
	}

	svc.notify(ctx, call.CalleeID, model.EventCallRecord, model.CallRecordPayload{
		Call:        call,
		Caller:      caller,
		Credentials: calleeCreds,
	}, &logger)

	logger.Info().Str("kind", string(call.Kind)).Msg("call requested")
	return call, callerCreds, nil
}

func (svc *Service) Answer(ctx context.Context, callID, userID string) (model.Call, error) {
	return svc.resolve(ctx, callID, userID, model.CallStatusAnswered)
}

func (svc *Service) Reject(ctx context.Context, callID, userID string) (model.Call, error) {
	return svc.resolve(ctx, callID, userID, model.CallStatusRejected)
}

func (svc *Service) Get(ctx context.Context, callID string) (model.Call, error) {
	c, err := svc.store.GetCall(ctx, callID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.Call{}, ErrNotFound
	case err != nil:
		return model.Call{}, errors.Join(ErrStoreUnavailable, err)
	}
	return c, nil
}

func (svc *Service) resolve(ctx context.Context, callID, userID string, status model.CallStatus) (model.Call, error) {
	c, err := svc.Get(ctx, callID)
	if err != nil {
		return model.Call{}, err
	}
	if c.CalleeID != userID {
		return model.Call{}, ErrNotCallee
	}

	c, err = svc.store.ResolveCall(ctx, callID, status, svc.now())
	switch {
	case errors.Is(err, storage.ErrConflict):
		return c, ErrCallResolved
	case errors.Is(err, storage.ErrNotFound):
		return model.Call{}, ErrNotFound
	case err != nil:
		return model.Call{}, errors.Join(ErrStoreUnavailable, err)
	}
	metrics.RecordCallTransition(string(status))

	logger := svc.logger.With().Str("callID", c.ID).Str("status", string(status)).Logger()
	svc.notify(ctx, c.CallerID, model.EventCallStatus, model.CallStatusPayload{
		CallID: c.ID,
		Status: c.Status,
	}, &logger)
	logger.Info().Msg("call resolved")
	return c, nil
}

func (svc *Service) profile(ctx context.Context, userID string) model.Profile {
	p, err := svc.store.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			svc.logger.Warn().Err(err).Str("user", userID).Msg("profile lookup failed")
		}
		return model.Profile{ID: userID, Name: userID}
	}
	if p.Name == "" {
		p.Name = userID
	}
	return p
}

func (svc *Service) notify(ctx context.Context, userID, typ string, payload any, logger *zerolog.Logger) {
	ev, err := model.NewEvent(typ, payload)
	if err != nil {
		logger.Error().Err(err).Str("type", typ).Msg("failed to build event")
		return
	}
	if !svc.notifier.NotifyUser(ctx, userID, ev) {
		logger.Debug().Str("type", typ).Str("user", userID).Msg("user has no live connection")
	}
}
