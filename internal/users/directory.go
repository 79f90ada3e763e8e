// Package users resolves platform user identities for authentication and
// authorization. The directory is the identity provider boundary: callers see
// acl.User values and never password material.
package users

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sensorgrid/sensorgrid-go/internal/acl"
	"github.com/sensorgrid/sensorgrid-go/internal/common"
)

// ErrBadCredentials marks a failed username/password authentication.
var ErrBadCredentials = errors.New("bad credentials")

// Directory looks up and authenticates platform users.
type Directory interface {
	// Authenticate verifies credentials and returns the user.
	Authenticate(ctx context.Context, username, password string) (*acl.User, error)

	// FindByID returns the user behind a sid, found=false when unknown.
	FindByID(ctx context.Context, id uuid.UUID) (*acl.User, bool, error)
}

// PostgresDirectory implements Directory over the users table.
type PostgresDirectory struct {
	db *sql.DB
}

var _ Directory = (*PostgresDirectory)(nil)

// NewPostgresDirectory wraps an initialized database handle.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

type userRow struct {
	id           uuid.UUID
	username     string
	passwordHash string
	enabled      bool
	superAdmin   bool
}

func (d *PostgresDirectory) user(r userRow) *acl.User {
	return &acl.User{
		ID:         r.id,
		Username:   r.username,
		Enabled:    r.enabled,
		SuperAdmin: r.superAdmin,
	}
}

// Authenticate implements Directory with a bcrypt comparison.
func (d *PostgresDirectory) Authenticate(ctx context.Context, username, password string) (*acl.User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, enabled, super_admin FROM users WHERE username = $1`,
		username)
	var r userRow
	err := row.Scan(&r.id, &r.username, &r.passwordHash, &r.enabled, &r.superAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, common.NewErrStoreUnavailable(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(r.passwordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return d.user(r), nil
}

// FindByID implements Directory.
func (d *PostgresDirectory) FindByID(ctx context.Context, id uuid.UUID) (*acl.User, bool, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, enabled, super_admin FROM users WHERE id = $1`, id)
	var r userRow
	err := row.Scan(&r.id, &r.username, &r.passwordHash, &r.enabled, &r.superAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, common.NewErrStoreUnavailable(err)
	}
	return d.user(r), true, nil
}

// HashPassword produces the bcrypt hash stored in the users table.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
