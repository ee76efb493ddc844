// Package storage keeps uploaded pictures (entry photos and profile
// pictures) outside the database. Rows store only the blob key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/xid"
)

// Key prefixes, one per kind of upload.
const (
	PrefixPhotos  = "diary_photos"
	PrefixAvatars = "profile_pics"
)

// ErrInvalidKey is returned for keys that are empty, absolute or escape the
// storage root.
var ErrInvalidKey = errors.New("storage: invalid key")

// Store is a flat blob store addressed by slash-separated keys.
type Store interface {
	// Put writes data under key, replacing any existing blob.
	Put(ctx context.Context, key, contentType string, data []byte) error
	// Delete removes the blob. A missing blob is not an error.
	Delete(ctx context.Context, key string) error
	// URL is where clients fetch the blob from.
	URL(key string) string
}

// NewKey returns a fresh key like "diary_photos/2024/01/cq1h9s8....jpg".
func NewKey(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s%s", prefix, now.UTC().Format("2006/01"), xid.New().String(), ext)
}

// CleanKey validates key and returns it in canonical form.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// DeleteAll removes every key, continuing past failures, and returns the
// joined errors.
func DeleteAll(ctx context.Context, s Store, keys ...string) error {
	var errs []error
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := s.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
