package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/repository"
)

type FollowService struct {
	users   repository.UserRepository
	follows repository.FollowRepository
	logger  *slog.Logger
}

func NewFollowService(users repository.UserRepository, follows repository.FollowRepository, logger *slog.Logger) *FollowService {
	return &FollowService{users: users, follows: follows, logger: logger}
}

// Toggle follows username if followerID does not follow them yet, and
// unfollows otherwise. It returns the state after the call.
func (s *FollowService) Toggle(ctx context.Context, followerID, username string) (bool, error) {
	if followerID == "" {
		return false, apperror.Unauthorized("authentication required")
	}

	target, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if target.ID == followerID {
		return false, apperror.ValidationFailed("username", "you cannot follow yourself")
	}

	following, err := s.follows.ToggleFollow(ctx, followerID, target.ID)
	if err != nil {
		return false, fmt.Errorf("toggling follow of %s: %w", target.ID, err)
	}

	s.logger.Info("follow toggled",
		slog.String("followerID", followerID),
		slog.String("followingID", target.ID),
		slog.Bool("following", following),
	)
	return following, nil
}
