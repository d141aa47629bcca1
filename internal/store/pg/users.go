package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"gatekeeper.org/internal/auth"
	"gatekeeper.org/internal/ids"
)

const (
	pgErrUniqueViolation = "23505"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, username, email, password_hash, roles, active, failed_attempts, lockout_until, last_login_at, created_at, updated_at`

// FindByUsername loads the user record for credential verification. Roles
// are stored as a jsonb array.
func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where username = $1
	`, strings.ToLower(strings.TrimSpace(username)))
	return scanUser(row)
}

// Save persists the mutable part of the user record: lockout state and the
// last-login timestamp alongside profile fields.
func (s *Store) Save(ctx context.Context, user *auth.User) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	rolesJSON, err := json.Marshal(user.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set email = $2,
		    password_hash = $3,
		    roles = $4,
		    active = $5,
		    failed_attempts = $6,
		    lockout_until = $7,
		    last_login_at = $8,
		    updated_at = now()
		where id = $1
	`, user.ID, user.Email, user.PasswordHash, rolesJSON, user.Active,
		user.FailedAttempts, user.LockoutUntil, user.LastLoginAt)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// CreateUser provisions a new account with the given bcrypt hash and roles.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string, roles []string) (*auth.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("marshal roles: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, username, email, password_hash, roles, active)
		values ($1, $2, $3, $4, $5, true)
		returning `+userColumns+`
	`, ids.New(), strings.ToLower(strings.TrimSpace(username)), email, passwordHash, rolesJSON)
	user, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, fmt.Errorf("username %q already taken", username)
		}
		return nil, err
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		user     auth.User
		email    sql.NullString
		rawRoles []byte
	)
	err := row.Scan(&user.ID, &user.Username, &email, &user.PasswordHash, &rawRoles,
		&user.Active, &user.FailedAttempts, &user.LockoutUntil, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		user.Email = email.String
	}
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &user.Roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	return &user, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
