// ABOUTME: User directory records in the SQL store
// ABOUTME: Create and look up users by id, email, or username

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const userColumns = `id, username, email, password_hash, avatar, created_at`

func scanUser(row rowScanner) (*User, error) {
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Avatar, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

// CreateUser inserts a user. ID and CreatedAt are assigned when empty.
// Returns ErrUsernameTaken or ErrEmailTaken on a uniqueness conflict.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`), user.ID, user.Username, user.Email, user.PasswordHash, user.Avatar, user.CreatedAt.UnixNano())
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			if strings.Contains(err.Error(), "email") {
				return ErrEmailTaken
			}
			return ErrUsernameTaken
		}
		return unavailable("inserting user", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

func (s *SQLStore) userWhere(ctx context.Context, column, value string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, unavailable("querying user", err)
	}
	return u, nil
}

// GetUser retrieves a user by id.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.userWhere(ctx, "id", id)
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.userWhere(ctx, "email", email)
}

// GetUsers retrieves the users with the given ids. Unknown ids are absent from the result.
func (s *SQLStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	out := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`)`), args...)
	if err != nil {
		return nil, unavailable("querying users", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, unavailable("scanning user", err)
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating users", err)
	}
	return out, nil
}

// ListUsers returns up to limit users ordered by username.
func (s *SQLStore) ListUsers(ctx context.Context, limit int) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+userColumns+` FROM users ORDER BY username ASC LIMIT ?`), limit)
	if err != nil {
		return nil, unavailable("listing users", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, unavailable("scanning user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating users", err)
	}
	return users, nil
}
