// Package service holds the business rules of the diary. Handlers parse
// HTTP and call into here; services validate input, enforce ownership and
// privacy, and call the repositories, feed engine and blob store.
//
// Services return apperror values for every failure a client can cause and
// wrap everything else with context.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/auth"
	"github.com/sakif/social-diary/internal/model"
	"github.com/sakif/social-diary/internal/repository"
)

const (
	MaxNameLength = 30
	// maxHandleAttempts bounds the search for a free generated username.
	maxHandleAttempts = 1000
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// AuthService registers accounts and signs users in.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the user and a freshly issued session token so the
// handler can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

type RegisterInput struct {
	Email           string
	Password        string
	PasswordConfirm string
	FirstName       string
	LastName        string
}

// Register creates an e-mail + password account and signs it in.
//
// The username is generated from the e-mail local part (see BaseHandle).
// If another registration claims the same handle between the existence
// check and the insert, the UNIQUE index rejects ours and the next counter
// is tried.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password, in.PasswordConfirm); err != nil {
		return nil, err
	}
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if utf8.RuneCountInString(first) > MaxNameLength {
		return nil, apperror.ValidationFailed("firstName", fmt.Sprintf("first name must be %d characters or less", MaxNameLength))
	}
	if utf8.RuneCountInString(last) > MaxNameLength {
		return nil, apperror.ValidationFailed("lastName", fmt.Sprintf("last name must be %d characters or less", MaxNameLength))
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, apperror.Conflict("email", "email is already registered")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &model.User{
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: hash,
	}

	base := BaseHandle(email)
	err = s.withFreeHandle(ctx, base, func(handle string) error {
		user.Username = handle
		return s.users.CreateUser(ctx, user)
	})
	if err != nil {
		if !isAppError(err) {
			s.logger.Error("failed to create user",
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return s.issue(user)
}

// Login checks e-mail and password. Unknown e-mail and wrong password give
// the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := apperror.Unauthorized("invalid email or password")

	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("failed login", slog.String("userID", user.ID))
			return nil, invalid
		}
		return nil, fmt.Errorf("verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterGitHub signs in the account linked to ghUser, creating it
// on first login. New accounts take the GitHub login as username when it is
// free, otherwise login1, login2, … An e-mail already used by another
// account is dropped rather than failing the login.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil || ghUser.ID == 0 {
		return nil, fmt.Errorf("service/auth: GitHub user must not be empty")
	}

	ghID := ghUser.ID
	user := &model.User{GitHubID: &ghID, Email: ghUser.Email}

	err := s.withFreeHandle(ctx, githubHandle(ghUser.Login), func(handle string) error {
		user.Username = handle
		err := s.users.UpsertGitHubUser(ctx, user)
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Field == "email" && user.Email != "" {
			user.Email = ""
			err = s.users.UpsertGitHubUser(ctx, user)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return s.issue(user)
}

// GetUserByID backs GET /api/me.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	return s.users.GetUserByID(ctx, id)
}

// SessionTTL is how long issued tokens stay valid, for the cookie Max-Age.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// withFreeHandle calls create with base, base1, base2, … until it does not
// fail with a username conflict. Handles known to exist are skipped without
// calling create.
func (s *AuthService) withFreeHandle(ctx context.Context, base string, create func(handle string) error) error {
	for i := 0; i < maxHandleAttempts; i++ {
		handle := base
		if i > 0 {
			handle = base + strconv.Itoa(i)
		}

		taken, err := s.users.UsernameExists(ctx, handle)
		if err != nil {
			return fmt.Errorf("checking username %q: %w", handle, err)
		}
		if taken {
			continue
		}

		err = create(handle)
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && errors.Is(err, apperror.ErrConflict) && appErr.Field == "username" {
			s.logger.Debug("username taken concurrently, retrying", slog.String("username", handle))
			continue
		}
		return err
	}
	return fmt.Errorf("no free username for %q after %d attempts", base, maxHandleAttempts)
}

// BaseHandle derives the username stem from an e-mail address: the local
// part with everything but ASCII letters and digits removed, prefixed with
// "user" when shorter than three characters.
func BaseHandle(email string) string {
	local, _, _ := strings.Cut(email, "@")
	base := nonAlnum.ReplaceAllString(local, "")
	if len(base) < 3 {
		base = "user" + base
	}
	return base
}

// githubHandle keeps the characters a username may contain.
func githubHandle(login string) string {
	var b strings.Builder
	for _, r := range login {
		if isUsernameRune(r) {
			b.WriteRune(r)
		}
	}
	h := b.String()
	if utf8.RuneCountInString(h) < MinUsernameLength {
		h = "user" + h
	}
	return h
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return "", apperror.ValidationFailed("email", "enter a valid email address")
	}
	return strings.ToLower(addr.Address), nil
}

func validatePassword(password, confirm string) error {
	switch {
	case password != confirm:
		return apperror.ValidationFailed("passwordConfirm", "the two password fields didn't match")
	case len(password) < auth.MinPasswordLength:
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	case len(password) > auth.MaxPasswordLength:
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordLength))
	case strings.Trim(password, "0123456789") == "":
		return apperror.ValidationFailed("password", "password can't be entirely numeric")
	}
	return nil
}

func isAppError(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr)
}
