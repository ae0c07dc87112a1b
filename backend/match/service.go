package match

import (
	"context"
	"errors"
	"time"

	"github.com/adwski/blinddate/backend/metrics"
	"github.com/adwski/blinddate/backend/model"
	"github.com/adwski/blinddate/backend/storage"
	"github.com/rs/zerolog"
)

const anonymousName = "Anonymous"

var (
	ErrInvalidPair      = errors.New("liker and target must be distinct non-empty ids")
	ErrNotFound         = errors.New("match not found")
	ErrStoreUnavailable = errors.New("storage is unavailable")
)

type (
	Store interface {
		UpsertInterest(ctx context.Context, in model.Interest) error
		GetInterest(ctx context.Context, likerID, targetID string) (model.Interest, error)
		UpsertMatch(ctx context.Context, m model.Match) (bool, error)
		GetMatch(ctx context.Context, id string) (model.Match, error)
		UpsertNotification(ctx context.Context, n model.Notification) (bool, error)
		GetProfile(ctx context.Context, id string) (model.Profile, error)
	}

	Broadcaster interface {
		Broadcast(ctx context.Context, channel string, ev model.Event) bool
	}

	Service struct {
		store  Store
		bcast  Broadcaster
		now    func() time.Time
		logger zerolog.Logger
	}

	Config struct {
		Store       Store
		Broadcaster Broadcaster
		Logger      *zerolog.Logger
		// Now defaults to time.Now.
		Now func() time.Time
	}

	Result struct {
		IsMutual bool
		Match    *model.Match
	}
)

func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  cfg.Store,
		bcast:  cfg.Broadcaster,
		now:    now,
		logger: cfg.Logger.With().Str("component", "match").Logger(),
	}
}

// RecordInterest stores likerID's interest in targetID and, when the interest
// is reciprocal, materializes the match. Every step is an idempotent upsert so
// concurrent calls from both sides converge on one match.
// room is an optional channel the caller already shares with the target.
func (svc *Service) RecordInterest(ctx context.Context, likerID, targetID, room string) (Result, error) {
	if likerID == "" || targetID == "" || likerID == targetID {
		return Result{}, ErrInvalidPair
	}
	now := svc.now()
	logger := svc.logger.With().Str("liker", likerID).Str("target", targetID).Logger()

	err := svc.store.UpsertInterest(ctx, model.Interest{
		LikerID:   likerID,
		TargetID:  targetID,
		Action:    model.InterestActionLike,
		CreatedAt: now,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to record interest")
		return Result{}, errors.Join(ErrStoreUnavailable, err)
	}
	metrics.InterestsRecorded.Inc()

	_, err = svc.store.GetInterest(ctx, targetID, likerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Debug().Msg("interest recorded, not mutual yet")
		return Result{}, nil
	case err != nil:
		logger.Error().Err(err).Msg("failed to look up reverse interest")
		return Result{}, errors.Join(ErrStoreUnavailable, err)
	}

	m := model.NewMatch(likerID, targetID, now)
	created, err := svc.store.UpsertMatch(ctx, m)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upsert match")
		return Result{}, errors.Join(ErrStoreUnavailable, err)
	}
	if created {
		metrics.MatchesCreated.Inc()
		logger.Info().Str("matchID", m.ID).Msg("match created")
	} else if stored, errGet := svc.store.GetMatch(ctx, m.ID); errGet == nil {
		m = stored
	}

	for _, userID := range []string{m.User1ID, m.User2ID} {
		if _, err = svc.store.UpsertNotification(ctx, model.MatchNotification(m, userID, now)); err != nil {
			logger.Error().Err(err).Str("user", userID).Msg("failed to create match notification")
			return Result{}, errors.Join(ErrStoreUnavailable, err)
		}
	}

	svc.reveal(ctx, m, room, &logger)
	return Result{IsMutual: true, Match: &m}, nil
}

// reveal notifies whoever already shares the pair channel (and the
// caller-supplied room, if different) that the match happened.
func (svc *Service) reveal(ctx context.Context, m model.Match, room string, logger *zerolog.Logger) {
	ev, err := model.NewEvent(model.EventMatchReveal, model.MatchRevealPayload{
		Users: []model.RevealedUser{
			{ID: m.User1ID, Name: svc.displayName(ctx, m.User1ID)},
			{ID: m.User2ID, Name: svc.displayName(ctx, m.User2ID)},
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to build match reveal")
		return
	}

	rooms := []string{m.Channel}
	if room != "" && room != m.Channel {
		rooms = append(rooms, room)
	}
	for _, r := range rooms {
		ev.Room = r
		if svc.bcast.Broadcast(ctx, r, ev) {
			logger.Debug().Str("channel", r).Msg("match revealed")
		}
	}
}

func (svc *Service) displayName(ctx context.Context, userID string) string {
	p, err := svc.store.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			svc.logger.Warn().Err(err).Str("user", userID).Msg("profile lookup failed")
		}
		return anonymousName
	}
	if p.Name == "" {
		return anonymousName
	}
	return p.Name
}

// GetMatch returns the match between a and b in any argument order.
func (svc *Service) GetMatch(ctx context.Context, a, b string) (model.Match, error) {
	if a == "" || b == "" || a == b {
		return model.Match{}, ErrInvalidPair
	}
	m, err := svc.store.GetMatch(ctx, model.MatchID(a, b))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.Match{}, ErrNotFound
	case err != nil:
		return model.Match{}, errors.Join(ErrStoreUnavailable, err)
	}
	return m, nil
}
