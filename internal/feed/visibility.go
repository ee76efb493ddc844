// Package feed decides what a viewer may see and in what order: the home
// feed (Engine.Compose), the profile calendar (GroupByDate), and the single
// privacy rule both of them use (Visible).
//
// A viewer is identified by user ID; the empty string is an anonymous viewer.
package feed

import "github.com/sakif/social-diary/internal/model"

// Visible is the only privacy rule in the application: public entries are
// visible to everyone, private entries only to their author.
func Visible(e model.Entry, viewerID string) bool {
	if e.Privacy == model.PrivacyPublic {
		return true
	}
	return viewerID != "" && e.AuthorID == viewerID
}

// FilterVisible keeps the entries viewerID may see, preserving order and
// dropping repeated IDs.
func FilterVisible(entries []model.Entry, viewerID string) []model.Entry {
	out := make([]model.Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !Visible(e, viewerID) {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Less reports whether a sorts before b in feed order:
// newer created_at first, then larger ID first.
func Less(a, b model.Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
