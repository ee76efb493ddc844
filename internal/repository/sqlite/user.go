package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"
	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/model"
	"github.com/sakif/social-diary/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, username, first_name, last_name, password_hash,
	github_id, bio, avatar_key, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                    model.User
		email                sql.NullString
		githubID             sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&u.ID, &email, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash,
		&githubID, &u.Bio, &u.AvatarKey, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	u.CreatedAt = fromDB(createdAt)
	u.UpdatedAt = fromDB(updatedAt)
	return &u, nil
}

// uniqueConflict turns a UNIQUE failure on users into an apperror.Conflict
// naming the offending field.
func uniqueConflict(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return apperror.Conflict("email", "email is already registered")
	case strings.Contains(msg, "users.username"):
		return apperror.Conflict("username", "username is already taken")
	case strings.Contains(msg, "users.github_id"):
		return apperror.Conflict("githubId", "GitHub account is already linked")
	}
	return apperror.Conflict("", "user already exists")
}

// CreateUser inserts a new user. ID and timestamps are set on the struct.
// A taken email or username yields apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := db.now()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now.UTC()
	user.UpdatedAt = now.UTC()

	var githubID sql.NullInt64
	if user.GitHubID != nil {
		githubID = sql.NullInt64{Int64: *user.GitHubID, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		nullString(user.Email),
		user.Username,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		githubID,
		user.Bio,
		user.AvatarKey,
		toDB(now),
		toDB(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueConflict(err)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

func (db *DB) getUserBy(ctx context.Context, column, value string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	return u, nil
}

// GetUserByID retrieves a user by internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUserBy(ctx, "id", id)
}

// GetUserByEmail matches case-insensitively.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUserBy(ctx, "email", strings.TrimSpace(email))
}

// GetUserByUsername matches case-insensitively.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUserBy(ctx, "username", username)
}

func (db *DB) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ?`, username,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking username %q: %w", username, err)
	}
	return n > 0, nil
}

// UpdateProfile saves username, bio, names and avatar key.
func (db *DB) UpdateProfile(ctx context.Context, user *model.User) error {
	now := db.now()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET username = ?, first_name = ?, last_name = ?, bio = ?, avatar_key = ?, updated_at = ?
		 WHERE id = ?`,
		user.Username,
		user.FirstName,
		user.LastName,
		user.Bio,
		user.AvatarKey,
		toDB(now),
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueConflict(err)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", user.ID)
	}
	user.UpdatedAt = now.UTC()
	return nil
}

// UpsertGitHubUser inserts a user keyed by GitHubID, or touches the existing
// row for that GitHub account, in one statement. On return user holds the
// stored record. A new user whose Username is taken gets ErrConflict so the
// caller can retry with another handle.
func (db *DB) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	if user.GitHubID == nil {
		return apperror.ValidationFailed("githubId", "GitHub ID is required")
	}
	now := toDB(db.now())

	var id string
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (id, email, username, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(github_id) DO UPDATE SET updated_at = excluded.updated_at
		 RETURNING id`,
		xid.New().String(),
		nullString(strings.ToLower(strings.TrimSpace(user.Email))),
		user.Username,
		*user.GitHubID,
		now,
		now,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueConflict(err)
		}
		return fmt.Errorf("sqlite: upserting GitHub user %d: %w", *user.GitHubID, err)
	}

	stored, err := db.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}
