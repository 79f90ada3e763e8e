package token

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sensorgrid/sensorgrid-go/internal/common"
)

// Type distinguishes expiring login tokens from permanent service tokens.
type Type string

const (
	TypeLogin     Type = "LOGIN"
	TypePermanent Type = "PERMANENT"
)

// Token is one server-side token row.
type Token struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Value     string
	Type      Type
	ExpiresAt time.Time
}

// Store persists tokens in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore wraps an initialized database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts a token row.
func (s *Store) Save(ctx context.Context, t Token) error {
	var expires sql.NullTime
	if !t.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: t.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, user_id, value, type, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.UserID, t.Value, string(t.Type), expires)
	if err != nil {
		return common.NewErrStoreUnavailable(err)
	}
	return nil
}

// FindByValue looks a token up by its signed value.
func (s *Store) FindByValue(ctx context.Context, value string) (Token, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, value, type, expires_at FROM tokens WHERE value = $1`, value)

	var t Token
	var typ string
	var expires sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Value, &typ, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, common.NewErrStoreUnavailable(err)
	}
	t.Type = Type(typ)
	if expires.Valid {
		t.ExpiresAt = expires.Time
	}
	return t, true, nil
}

// Delete removes one token row.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = $1`, id)
	if err != nil {
		return common.NewErrStoreUnavailable(err)
	}
	return nil
}

// DeleteExpiredLogin removes login tokens whose expiry has passed and reports
// how many rows were deleted. Permanent tokens are never touched.
func (s *Store) DeleteExpiredLogin(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE type = $1 AND expires_at IS NOT NULL AND expires_at < $2`,
		string(TypeLogin), now)
	if err != nil {
		return 0, common.NewErrStoreUnavailable(err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}
