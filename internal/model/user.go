// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered account. Profile fields (bio, avatar) live on the
// same row, so a profile always exists once the user does.
//
// GitHubID is nil for accounts created with e-mail + password.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	Username     string    `json:"username"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	PasswordHash string    `json:"-"`
	GitHubID     *int64    `json:"-"`
	Bio          string    `json:"bio"`
	AvatarKey    string    `json:"-"` // blob storage key, empty when no picture
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
