package match

import (
	"context"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Outcome of waiting for a match record.
type Outcome int

const (
	// OutcomePending means the record was not observed within the poll budget;
	// the match will complete in the background.
	OutcomePending Outcome = iota
	OutcomeConfirmed
)

func (o Outcome) String() string {
	if o == OutcomeConfirmed {
		return "confirmed"
	}
	return "pending"
}

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollAttempts = 20
)

type (
	Lookup interface {
		GetMatch(ctx context.Context, a, b string) (model.Match, error)
	}

	PollerConfig struct {
		Lookup   Lookup
		Logger   *zerolog.Logger
		Clock    clock.Clock
		Interval time.Duration
		Attempts int
	}

	// Poller waits for a match record to materialize.
	Poller struct {
		lookup   Lookup
		clock    clock.Clock
		interval time.Duration
		attempts int
		logger   zerolog.Logger
	}
)

func NewPoller(cfg PollerConfig) *Poller {
	p := &Poller{
		lookup:   cfg.Lookup,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		attempts: cfg.Attempts,
		logger:   cfg.Logger.With().Str("component", "match-poller").Logger(),
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	if p.attempts <= 0 {
		p.attempts = DefaultPollAttempts
	}
	return p
}

// Await checks for the match between a and b once per interval until it is
// found or the attempts run out. Lookup failures count as misses.
// Canceling ctx abandons the wait and returns ctx.Err().
func (p *Poller) Await(ctx context.Context, a, b string) (Outcome, model.Match, error) {
	timer := p.clock.Timer(p.interval)
	defer timer.Stop()

	for attempt := 1; attempt <= p.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return OutcomePending, model.Match{}, ctx.Err()
		case <-timer.C:
		}

		m, err := p.lookup.GetMatch(ctx, a, b)
		if err == nil {
			p.logger.Debug().Str("matchID", m.ID).Int("attempt", attempt).Msg("match confirmed")
			return OutcomeConfirmed, m, nil
		}
		p.logger.Trace().Err(err).Int("attempt", attempt).Msg("match not observed yet")
		timer.Reset(p.interval)
	}

	p.logger.Info().
		Str("a", a).
		Str("b", b).
		Msg("match not observed within poll budget, continuing in background")
	return OutcomePending, model.Match{}, nil
}
