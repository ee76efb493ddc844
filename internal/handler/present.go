package handler

import (
	"time"

	"github.com/sakif/social-diary/internal/feed"
	"github.com/sakif/social-diary/internal/model"
	"github.com/sakif/social-diary/internal/service"
	"github.com/sakif/social-diary/internal/storage"
)

// Response bodies. Models carry blob keys, clients need URLs, so every
// picture goes through the blob store's URL method here.

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Bio       string    `json:"bio"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// meResponse adds the fields only the account owner sees.
type meResponse struct {
	userResponse
	Email string `json:"email,omitempty"`
}

type photoResponse struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Caption     string `json:"caption"`
}

type entryResponse struct {
	ID        string          `json:"id"`
	Author    *userResponse   `json:"author,omitempty"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	Privacy   model.Privacy   `json:"privacy"`
	Photos    []photoResponse `json:"photos"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type feedResponse struct {
	Entries      []entryResponse `json:"entries"`
	Page         int             `json:"page"`
	PageSize     int             `json:"pageSize"`
	TotalEntries int             `json:"totalEntries"`
	TotalPages   int             `json:"totalPages"`
	HasNext      bool            `json:"hasNext"`
	HasPrevious  bool            `json:"hasPrevious"`
	Paginated    bool            `json:"paginated"`
	Fallback     bool            `json:"fallback"`
}

type dayResponse struct {
	Date    string          `json:"date"`
	Entries []entryResponse `json:"entries"`
}

type profileResponse struct {
	User        userResponse    `json:"user"`
	Entries     []entryResponse `json:"entries"`
	Calendar    []dayResponse   `json:"calendar"`
	IsOwn       bool            `json:"isOwn"`
	IsFollowing bool            `json:"isFollowing"`
	Followers   int             `json:"followers"`
	Following   int             `json:"following"`
}

type presenter struct {
	media storage.Store
}

func (p presenter) user(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Bio:       u.Bio,
		AvatarURL: p.media.URL(u.AvatarKey),
		CreatedAt: u.CreatedAt,
	}
}

func (p presenter) me(u *model.User) meResponse {
	return meResponse{userResponse: p.user(u), Email: u.Email}
}

func (p presenter) entry(e *model.Entry) entryResponse {
	out := entryResponse{
		ID:        e.ID,
		Title:     e.Title,
		Content:   e.Content,
		Privacy:   e.Privacy,
		Photos:    make([]photoResponse, len(e.Photos)),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.Author != nil {
		a := p.user(e.Author)
		out.Author = &a
	}
	for i, ph := range e.Photos {
		out.Photos[i] = photoResponse{
			ID:          ph.ID,
			URL:         p.media.URL(ph.Key),
			ContentType: ph.ContentType,
			Caption:     ph.Caption,
		}
	}
	return out
}

func (p presenter) entries(es []model.Entry) []entryResponse {
	out := make([]entryResponse, len(es))
	for i := range es {
		out[i] = p.entry(&es[i])
	}
	return out
}

func (p presenter) page(pg *feed.Page) feedResponse {
	return feedResponse{
		Entries:      p.entries(pg.Entries),
		Page:         pg.Number,
		PageSize:     pg.Size,
		TotalEntries: pg.TotalEntries,
		TotalPages:   pg.TotalPages,
		HasNext:      pg.HasNext,
		HasPrevious:  pg.HasPrevious,
		Paginated:    pg.Paginated,
		Fallback:     pg.Fallback,
	}
}

func (p presenter) profile(pr *service.Profile) profileResponse {
	days := make([]dayResponse, len(pr.Calendar.Days))
	for i, d := range pr.Calendar.Days {
		days[i] = dayResponse{Date: d.Date.String(), Entries: p.entries(d.Entries)}
	}
	return profileResponse{
		User:        p.user(pr.User),
		Entries:     p.entries(pr.Entries),
		Calendar:    days,
		IsOwn:       pr.IsOwn,
		IsFollowing: pr.IsFollowing,
		Followers:   pr.Followers,
		Following:   pr.Following,
	}
}
