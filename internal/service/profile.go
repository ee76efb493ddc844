package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/feed"
	"github.com/sakif/social-diary/internal/imaging"
	"github.com/sakif/social-diary/internal/model"
	"github.com/sakif/social-diary/internal/repository"
	"github.com/sakif/social-diary/internal/storage"
)

const (
	MaxBioLength      = 500
	MinUsernameLength = 3
	MaxUsernameLength = 150

	// DefaultProfileEntryLimit caps how many entries a profile page loads.
	DefaultProfileEntryLimit = 500
)

// Profile is everything the profile page shows.
type Profile struct {
	User        *model.User
	Entries     []model.Entry
	Calendar    *feed.Calendar
	IsOwn       bool
	IsFollowing bool
	Followers   int
	Following   int
}

// ProfileService builds profile pages and edits profiles.
type ProfileService struct {
	users      repository.UserRepository
	follows    repository.FollowRepository
	entries    repository.EntryRepository
	blobs      storage.Store
	loc        *time.Location
	entryLimit int
	logger     *slog.Logger
	now        func() time.Time
}

// NewProfileService groups calendars in loc (UTC when nil). entryLimit <= 0
// means DefaultProfileEntryLimit.
func NewProfileService(
	users repository.UserRepository,
	follows repository.FollowRepository,
	entries repository.EntryRepository,
	blobs storage.Store,
	loc *time.Location,
	entryLimit int,
	logger *slog.Logger,
) *ProfileService {
	if loc == nil {
		loc = time.UTC
	}
	if entryLimit <= 0 {
		entryLimit = DefaultProfileEntryLimit
	}
	return &ProfileService{
		users:      users,
		follows:    follows,
		entries:    entries,
		blobs:      blobs,
		loc:        loc,
		entryLimit: entryLimit,
		logger:     logger,
		now:        time.Now,
	}
}

// View returns the profile of username as seen by viewerID ("" for
// anonymous). Owners see all their entries; everyone else sees the public
// ones.
func (s *ProfileService) View(ctx context.Context, viewerID, username string) (*Profile, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, viewerID, user)
}

// ViewOwn is View for the signed-in user's own profile.
func (s *ProfileService) ViewOwn(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, userID, user)
}

func (s *ProfileService) view(ctx context.Context, viewerID string, user *model.User) (*Profile, error) {
	isOwn := viewerID != "" && viewerID == user.ID

	filter := repository.EntryFilter{PublicFrom: []string{user.ID}}
	if isOwn {
		filter = repository.EntryFilter{OwnerID: user.ID}
	}

	entries, err := s.entries.ListEntries(ctx, filter, repository.ListOptions{Limit: s.entryLimit})
	if err != nil {
		return nil, fmt.Errorf("listing entries of %s: %w", user.ID, err)
	}
	entries = feed.FilterVisible(entries, viewerID)

	followers, following, err := s.follows.CountFollows(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("counting follows of %s: %w", user.ID, err)
	}

	isFollowing := false
	if viewerID != "" && !isOwn {
		isFollowing, err = s.follows.IsFollowing(ctx, viewerID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("checking follow %s -> %s: %w", viewerID, user.ID, err)
		}
	}

	return &Profile{
		User:        user,
		Entries:     entries,
		Calendar:    feed.GroupByDate(entries, s.loc),
		IsOwn:       isOwn,
		IsFollowing: isFollowing,
		Followers:   followers,
		Following:   following,
	}, nil
}

// ProfileInput holds the fields of an edit. Nil pointers and an empty
// Avatar leave the current value alone.
type ProfileInput struct {
	Username *string
	Bio      *string
	Avatar   []byte
}

// Update applies in to the user's profile. A new avatar is stored before
// the row is updated; the previous avatar blob is deleted only after the
// update succeeds, and the new one is deleted if it fails.
func (s *ProfileService) Update(ctx context.Context, userID string, in ProfileInput) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if err := ValidateUsername(name); err != nil {
			return nil, err
		}
		user.Username = name
	}
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			return nil, apperror.ValidationFailed("bio",
				fmt.Sprintf("bio must be %d characters or less", MaxBioLength))
		}
		user.Bio = bio
	}

	oldKey := user.AvatarKey
	newKey := ""
	if len(in.Avatar) > 0 {
		res, err := imaging.Normalize(in.Avatar, imaging.AvatarMaxDim)
		if err != nil {
			if errors.Is(err, imaging.ErrUnsupported) {
				return nil, apperror.ValidationFailed("avatar", "profile picture is not a supported image")
			}
			return nil, fmt.Errorf("normalizing avatar: %w", err)
		}
		newKey = storage.NewKey(storage.PrefixAvatars, res.Ext, s.now())
		if err := s.blobs.Put(ctx, newKey, res.ContentType, res.Data); err != nil {
			return nil, fmt.Errorf("storing avatar: %w", err)
		}
		user.AvatarKey = newKey
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		if newKey != "" {
			s.deleteBlob(ctx, newKey)
		}
		if !isAppError(err) {
			s.logger.Error("failed to update profile",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	if newKey != "" && oldKey != "" {
		s.deleteBlob(ctx, oldKey)
	}

	s.logger.Info("profile updated",
		slog.String("userID", userID),
		slog.Bool("avatarChanged", newKey != ""),
	)
	return user, nil
}

func (s *ProfileService) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("failed to delete avatar blob",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// ValidateUsername checks length and character set. Letters and digits
// from any script are allowed, plus @ . + - _.
func ValidateUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength))
	}
	for _, r := range name {
		if !isUsernameRune(r) {
			return apperror.ValidationFailed("username",
				"username may contain only letters, numbers, and @/./+/-/_ characters")
		}
	}
	return nil
}

func isUsernameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return strings.ContainsRune("@.+-_", r)
}
