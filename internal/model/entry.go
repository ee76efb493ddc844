package model

import (
	"fmt"
	"time"
)

// Privacy controls who may read an Entry.
type Privacy string

const (
	PrivacyPrivate Privacy = "private"
	PrivacyPublic  Privacy = "public"
)

// ParsePrivacy validates a privacy value from user input. An empty string
// means the default, private.
func ParsePrivacy(s string) (Privacy, error) {
	switch Privacy(s) {
	case "":
		return PrivacyPrivate, nil
	case PrivacyPrivate, PrivacyPublic:
		return Privacy(s), nil
	}
	return "", fmt.Errorf("unknown privacy %q", s)
}

// MaxPhotosPerEntry is the attachment limit checked before anything is stored.
const MaxPhotosPerEntry = 3

// Entry is a diary entry. Entries are totally ordered by
// (CreatedAt desc, ID desc); see feed.Less.
type Entry struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Author    *User     `json:"author,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Privacy   Privacy   `json:"privacy"`
	Photos    []Photo   `json:"photos"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Photo is an image attached to exactly one Entry and deleted with it.
type Photo struct {
	ID          string    `json:"id"`
	EntryID     string    `json:"entryId"`
	Key         string    `json:"-"` // blob storage key
	ContentType string    `json:"contentType"`
	Caption     string    `json:"caption"`
	UploadedAt  time.Time `json:"uploadedAt"`
}
