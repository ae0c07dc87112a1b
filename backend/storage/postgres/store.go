package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/adwski/blinddate/backend/model"
	"github.com/adwski/blinddate/backend/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *pgxpool.Pool
}

// Connect opens a pool and applies the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err = db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err = db.Exec(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return NewStore(db), nil
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) UpsertInterest(ctx context.Context, in model.Interest) error {
	query := `
		INSERT INTO interests (liker_id, target_id, action, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (liker_id, target_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, in.LikerID, in.TargetID, in.Action, in.CreatedAt); err != nil {
		return fmt.Errorf("upsert interest: %w", err)
	}
	return nil
}

func (s *Store) GetInterest(ctx context.Context, likerID, targetID string) (model.Interest, error) {
	query := `
		SELECT liker_id, target_id, action, created_at
		FROM interests
		WHERE liker_id = $1 AND target_id = $2
	`
	var in model.Interest
	err := s.db.QueryRow(ctx, query, likerID, targetID).
		Scan(&in.LikerID, &in.TargetID, &in.Action, &in.CreatedAt)
	if err != nil {
		return model.Interest{}, notFound(err, "get interest")
	}
	return in, nil
}

func (s *Store) UpsertMatch(ctx context.Context, m model.Match) (bool, error) {
	query := `
		INSERT INTO matches (id, user1_id, user2_id, channel, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, m.ID, m.User1ID, m.User2ID, m.Channel, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert match: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (model.Match, error) {
	query := `
		SELECT id, user1_id, user2_id, channel, created_at
		FROM matches
		WHERE id = $1
	`
	var m model.Match
	err := s.db.QueryRow(ctx, query, id).
		Scan(&m.ID, &m.User1ID, &m.User2ID, &m.Channel, &m.CreatedAt)
	if err != nil {
		return model.Match{}, notFound(err, "get match")
	}
	return m, nil
}

func (s *Store) UpsertNotification(ctx context.Context, n model.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (id, user_id, kind, actor_id, match_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, n.ID, n.UserID, n.Kind, n.ActorID, n.MatchID, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (model.Profile, error) {
	query := `SELECT id, name, avatar_url FROM profiles WHERE id = $1`

	var p model.Profile
	if err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.AvatarURL); err != nil {
		return model.Profile{}, notFound(err, "get profile")
	}
	return p, nil
}

func (s *Store) CreateCall(ctx context.Context, c model.Call) error {
	query := `
		INSERT INTO calls (id, caller_id, callee_id, kind, channel, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query,
		c.ID, c.CallerID, c.CalleeID, string(c.Kind), c.Channel, string(c.Status),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) GetCall(ctx context.Context, id string) (model.Call, error) {
	query := `
		SELECT id, caller_id, callee_id, kind, channel, status, created_at, updated_at
		FROM calls
		WHERE id = $1
	`
	c, err := scanCall(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return model.Call{}, notFound(err, "get call")
	}
	return c, nil
}

func (s *Store) ResolveCall(ctx context.Context, id string, status model.CallStatus, at time.Time) (model.Call, error) {
	query := `
		UPDATE calls SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING id, caller_id, callee_id, kind, channel, status, created_at, updated_at
	`
	c, err := scanCall(s.db.QueryRow(ctx, query, id, string(status), at, string(model.CallStatusPending)))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Call{}, fmt.Errorf("resolve call: %w", err)
	}
	// either missing or no longer pending
	current, err := s.GetCall(ctx, id)
	if err != nil {
		return model.Call{}, err
	}
	return current, storage.ErrConflict
}

func scanCall(row pgx.Row) (model.Call, error) {
	var (
		c            model.Call
		kind, status string
	)
	err := row.Scan(&c.ID, &c.CallerID, &c.CalleeID, &kind, &c.Channel, &status, &c.CreatedAt, &c.UpdatedAt)
	c.Kind = model.CallKind(kind)
	c.Status = model.CallStatus(status)
	return c, err
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
