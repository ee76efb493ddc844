package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/auth"
	"github.com/sakif/social-diary/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository with the same
// uniqueness rules as the database: e-mail and username are unique and
// case-insensitive, GitHub ID is unique.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int

	// set to a non-nil error to simulate a database failure
	createErr error
	getErr    error
	// usernames reported as free by UsernameExists but rejected on write,
	// which is what a concurrent registration looks like
	raced map[string]bool
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User), raced: make(map[string]bool)}
}

func (f *fakeUserRepo) conflict(u *model.User) error {
	if f.raced[strings.ToLower(u.Username)] {
		delete(f.raced, strings.ToLower(u.Username))
		return apperror.Conflict("username", "username is already taken")
	}
	for _, other := range f.users {
		if other.ID == u.ID {
			continue
		}
		if u.Email != "" && strings.EqualFold(other.Email, u.Email) {
			return apperror.Conflict("email", "email is already registered")
		}
		if strings.EqualFold(other.Username, u.Username) {
			return apperror.Conflict("username", "username is already taken")
		}
	}
	return nil
}

func (f *fakeUserRepo) insert(u *model.User) {
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	copied := *u
	f.users[u.ID] = &copied
}

func (f *fakeUserRepo) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if err := f.conflict(u); err != nil {
		return err
	}
	f.insert(u)
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, key string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return email != "" && strings.EqualFold(u.Email, email) }, email)
}

func (f *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return strings.EqualFold(u.Username, username) }, username)
}

func (f *fakeUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := f.GetUserByUsername(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeUserRepo) UpdateProfile(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[u.ID]
	if !ok {
		return apperror.NotFound("user", u.ID)
	}
	if err := f.conflict(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now()
	*stored = *u
	return nil
}

func (f *fakeUserRepo) UpsertGitHubUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.users {
		if other.GitHubID != nil && *other.GitHubID == *u.GitHubID {
			*u = *other
			return nil
		}
	}
	if err := f.conflict(u); err != nil {
		return err
	}
	f.insert(u)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestAuthService wires an AuthService to repo with a minimum-cost
// bcrypt so tests stay fast.
func newTestAuthService(t *testing.T, repo *fakeUserRepo) *AuthService {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return NewAuthService(repo, tokens, auth.NewPasswordServiceForTest(4), testLogger())
}

func register(t *testing.T, svc *AuthService, email string) *AuthResult {
	t.Helper()
	res, err := svc.Register(context.Background(), RegisterInput{
		Email:           email,
		Password:        "correct horse",
		PasswordConfirm: "correct horse",
	})
	if err != nil {
		t.Fatalf("Register(%q): %v", email, err)
	}
	return res
}

func assertAppError(t *testing.T, err error, sentinel error, field string) {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %v, got %v", sentinel, err)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T", err)
	}
	if appErr.Field != field {
		t.Errorf("expected field %q, got %q", field, appErr.Field)
	}
}

// =========================================================================
// REGISTER
// =========================================================================

func TestRegister_NewUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	res, err := svc.Register(context.Background(), RegisterInput{
		Email:           "  Alice.Smith@Example.com ",
		Password:        "correct horse",
		PasswordConfirm: "correct horse",
		FirstName:       "Alice",
		LastName:        "Smith",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.User.Email != "alice.smith@example.com" {
		t.Errorf("email = %q, want lowercased and trimmed", res.User.Email)
	}
	if res.User.Username != "alicesmith" {
		t.Errorf("username = %q, want %q", res.User.Username, "alicesmith")
	}
	if res.User.PasswordHash == "" || res.User.PasswordHash == "correct horse" {
		t.Error("password must be stored hashed")
	}
	if res.Token == "" {
		t.Fatal("expected a session token")
	}
	id, err := svc.tokens.Validate(res.Token)
	if err != nil || id != res.User.ID {
		t.Errorf("token subject = %q (%v), want %q", id, err, res.User.ID)
	}
}

func TestRegister_GeneratesUniqueUsernames(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	tests := []struct {
		email string
		want  string
	}{
		{"bob@a.com", "bob"},
		{"bob@b.com", "bob1"},
		{"b.o.b@c.com", "bob2"},
		{"jo@a.com", "userjo"},
		{"j+o@b.com", "userjo1"},
		{"_@c.com", "user"},
	}
	for _, tt := range tests {
		res := register(t, svc, tt.email)
		if res.User.Username != tt.want {
			t.Errorf("Register(%q) username = %q, want %q", tt.email, res.User.Username, tt.want)
		}
	}
}

func TestRegister_RetriesOnConcurrentUsernameClaim(t *testing.T) {
	repo := newFakeUserRepo()
	repo.raced["carol"] = true
	svc := newTestAuthService(t, repo)

	res := register(t, svc, "carol@example.com")
	if res.User.Username != "carol1" {
		t.Errorf("username = %q, want carol1", res.User.Username)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())
	register(t, svc, "dave@example.com")

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:           "DAVE@example.com",
		Password:        "another pass",
		PasswordConfirm: "another pass",
	})
	assertAppError(t, err, apperror.ErrConflict, "email")
}

func TestRegister_Validation(t *testing.T) {
	long := strings.Repeat("x", MaxNameLength+1)
	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"empty email", RegisterInput{Password: "password1", PasswordConfirm: "password1"}, "email"},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "password1", PasswordConfirm: "password1"}, "email"},
		{"display name", RegisterInput{Email: "Eve <eve@x.com>", Password: "password1", PasswordConfirm: "password1"}, "email"},
		{"mismatch", RegisterInput{Email: "e@x.com", Password: "password1", PasswordConfirm: "password2"}, "passwordConfirm"},
		{"short", RegisterInput{Email: "e@x.com", Password: "short", PasswordConfirm: "short"}, "password"},
		{"numeric", RegisterInput{Email: "e@x.com", Password: "12345678", PasswordConfirm: "12345678"}, "password"},
		{"too long", RegisterInput{Email: "e@x.com", Password: strings.Repeat("p", 73), PasswordConfirm: strings.Repeat("p", 73)}, "password"},
		{"first name", RegisterInput{Email: "e@x.com", Password: "password1", PasswordConfirm: "password1", FirstName: long}, "firstName"},
		{"last name", RegisterInput{Email: "e@x.com", Password: "password1", PasswordConfirm: "password1", LastName: long}, "lastName"},
	}

	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			assertAppError(t, err, apperror.ErrValidation, tt.field)
		})
	}
	if len(repo.users) != 0 {
		t.Errorf("no user should have been stored, got %d", len(repo.users))
	}
}

func TestRegister_RepositoryError(t *testing.T) {
	repo := newFakeUserRepo()
	repo.createErr = errors.New("disk full")
	svc := newTestAuthService(t, repo)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email: "f@x.com", Password: "password1", PasswordConfirm: "password1",
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
}

func TestBaseHandle(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"alice@example.com", "alice"},
		{"first.last@x.org", "firstlast"},
		{"a_b-c+tag@x.org", "abctag"},
		{"ab@x.org", "userab"},
		{"ünïcode.name@x.org", "ncodename"},
		{"no-at-sign", "noatsign"},
		{"", "user"},
	}
	for _, tt := range tests {
		if got := BaseHandle(tt.email); got != tt.want {
			t.Errorf("BaseHandle(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

// =========================================================================
// LOGIN
// =========================================================================

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())
	registered := register(t, svc, "grace@example.com")

	res, err := svc.Login(context.Background(), " GRACE@example.com", "correct horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.User.ID != registered.User.ID {
		t.Errorf("logged in as %q, want %q", res.User.ID, registered.User.ID)
	}
	if res.Token == "" {
		t.Error("expected a token")
	}
}

func TestLogin_FailuresLookTheSame(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())
	register(t, svc, "heidi@example.com")

	_, wrongPass := svc.Login(context.Background(), "heidi@example.com", "wrong password")
	_, noUser := svc.Login(context.Background(), "nobody@example.com", "correct horse")

	for _, err := range []error{wrongPass, noUser} {
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	}
	if wrongPass.Error() != noUser.Error() {
		t.Errorf("messages differ: %q vs %q", wrongPass, noUser)
	}
}

func TestLogin_GitHubAccountHasNoPassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	_, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 7, Login: "ivan", Email: "ivan@example.com"})
	if err != nil {
		t.Fatalf("github login: %v", err)
	}

	_, err = svc.Login(context.Background(), "ivan@example.com", "")
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLogin_RepositoryError(t *testing.T) {
	repo := newFakeUserRepo()
	repo.getErr = errors.New("connection reset")
	svc := newTestAuthService(t, repo)

	_, err := svc.Login(context.Background(), "x@example.com", "password1")
	if err == nil || errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("expected a store error, got %v", err)
	}
}

// =========================================================================
// GITHUB
// =========================================================================

func TestLoginOrRegisterGitHub_NewUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)

	res, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID: 583231, Login: "octocat", Email: "octocat@github.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.User.Username != "octocat" {
		t.Errorf("username = %q, want octocat", res.User.Username)
	}
	if res.User.GitHubID == nil || *res.User.GitHubID != 583231 {
		t.Errorf("GitHubID = %v, want 583231", res.User.GitHubID)
	}
	if res.Token == "" {
		t.Error("expected a token")
	}
}

func TestLoginOrRegisterGitHub_ExistingUserKeepsAccount(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	gh := &auth.GitHubUser{ID: 42, Login: "octocat"}

	first, err := svc.LoginOrRegisterGitHub(context.Background(), gh)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.LoginOrRegisterGitHub(context.Background(), gh)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if second.User.ID != first.User.ID || second.User.Username != "octocat" {
		t.Errorf("second login = %s/%s, want %s/octocat", second.User.ID, second.User.Username, first.User.ID)
	}
	if len(repo.users) != 1 {
		t.Errorf("expected 1 user, got %d", len(repo.users))
	}
}

func TestLoginOrRegisterGitHub_TakenUsernameAndEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo)
	register(t, svc, "judy@example.com")

	res, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID: 9, Login: "judy", Email: "judy@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.User.Username != "judy1" {
		t.Errorf("username = %q, want judy1", res.User.Username)
	}
	if res.User.Email != "" {
		t.Errorf("email = %q, want dropped", res.User.Email)
	}
}

func TestLoginOrRegisterGitHub_SanitizesLogin(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())

	res, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 3, Login: "a!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.User.Username != "usera" {
		t.Errorf("username = %q, want usera", res.User.Username)
	}
}

func TestLoginOrRegisterGitHub_Invalid(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())

	for _, gh := range []*auth.GitHubUser{nil, {Login: "zero"}} {
		if _, err := svc.LoginOrRegisterGitHub(context.Background(), gh); err == nil {
			t.Errorf("expected error for %+v", gh)
		}
	}
}

// =========================================================================
// GET USER
// =========================================================================

func TestGetUserByID(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo())
	registered := register(t, svc, "ken@example.com")

	u, err := svc.GetUserByID(context.Background(), registered.User.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Username != "ken" {
		t.Errorf("username = %q, want ken", u.Username)
	}

	if _, err := svc.GetUserByID(context.Background(), ""); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("empty ID: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.GetUserByID(context.Background(), "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("missing ID: expected ErrNotFound, got %v", err)
	}
}
