// Package repository declares the storage interfaces the services depend on.
// internal/repository/sqlite implements all of them on one *sqlite.DB.
package repository

import (
	"context"

	"github.com/sakif/social-diary/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// EntryFilter selects entries. The clauses combine as
//
//	(author = OwnerID) OR (privacy = public AND (AllPublic OR author IN PublicFrom))
//
// and the whole match is then restricted by ExcludeAuthorID. A filter whose
// clauses are all empty matches nothing.
type EntryFilter struct {
	OwnerID         string   // every entry by this author, any privacy
	PublicFrom      []string // public entries by these authors
	AllPublic       bool     // every public entry
	ExcludeAuthorID string
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UpdateProfile(ctx context.Context, user *model.User) error
	UpsertGitHubUser(ctx context.Context, user *model.User) error
}

type FollowRepository interface {
	// ToggleFollow flips the edge follower → following atomically and
	// reports the new state.
	ToggleFollow(ctx context.Context, followerID, followingID string) (bool, error)
	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
	FollowingIDs(ctx context.Context, userID string) ([]string, error)
	CountFollows(ctx context.Context, userID string) (followers, following int, err error)
}

type EntryRepository interface {
	// CreateEntry stores the entry and its photos in one transaction.
	CreateEntry(ctx context.Context, entry *model.Entry) error
	GetEntry(ctx context.Context, id string) (*model.Entry, error)
	// ListEntries orders by created_at DESC, id DESC.
	ListEntries(ctx context.Context, filter EntryFilter, opts ListOptions) ([]model.Entry, error)
	CountEntries(ctx context.Context, filter EntryFilter) (int, error)
	UpdateEntry(ctx context.Context, entry *model.Entry) error
	// DeleteEntry removes an entry owned by authorID and returns the photos
	// that were attached to it.
	DeleteEntry(ctx context.Context, id, authorID string) ([]model.Photo, error)
}
