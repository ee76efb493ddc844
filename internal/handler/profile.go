package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/auth"
	"github.com/sakif/social-diary/internal/service"
	"github.com/sakif/social-diary/internal/storage"
)

// maxProfileBody bounds a profile edit: one avatar plus form fields.
const maxProfileBody = MaxUploadBytes + 1<<20

type ProfileHandler struct {
	profiles *service.ProfileService
	follows  *service.FollowService
	present  presenter
	logger   *slog.Logger
}

func NewProfileHandler(
	profiles *service.ProfileService,
	follows *service.FollowService,
	media storage.Store,
	logger *slog.Logger,
) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		follows:  follows,
		present:  presenter{media: media},
		logger:   logger,
	}
}

// HandleOwn returns the caller's own profile.
//
// HTTP: GET /api/profile (RequireAuth)
func (h *ProfileHandler) HandleOwn(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	p, err := h.profiles.ViewOwn(r.Context(), userID)
	if err != nil {
		logIfInternal(h.logger, "loading own profile failed", err, slog.String("userID", userID))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.present.profile(p))
}

// HandleView returns someone's profile as the caller sees it.
//
// HTTP: GET /api/profile/{username} (OptionalAuth)
func (h *ProfileHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())
	username := chi.URLParam(r, "username")

	p, err := h.profiles.View(r.Context(), viewerID, username)
	if err != nil {
		logIfInternal(h.logger, "loading profile failed", err, slog.String("username", username))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.present.profile(p))
}

type profileRequest struct {
	Username *string `json:"username"`
	Bio      *string `json:"bio"`
}

// HandleUpdate edits the caller's profile. Fields left out of the request
// keep their value.
//
// HTTP: PUT /api/profile (RequireAuth)
// BODY: multipart/form-data with optional username, bio and an "avatar"
// file; or JSON {"username", "bio"}.
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var in service.ProfileInput
	if isJSON(r) {
		var req profileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		in = service.ProfileInput{Username: req.Username, Bio: req.Bio}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxProfileBody)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, apperror.ValidationFailed("", "invalid multipart form"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		form := r.MultipartForm.Value
		if v, ok := form["username"]; ok && len(v) > 0 {
			in.Username = &v[0]
		}
		if v, ok := form["bio"]; ok && len(v) > 0 {
			in.Bio = &v[0]
		}
		if files := r.MultipartForm.File["avatar"]; len(files) > 0 {
			data, err := readUpload(files[0], "avatar")
			if err != nil {
				writeError(w, err)
				return
			}
			in.Avatar = data
		}
	}

	user, err := h.profiles.Update(r.Context(), userID, in)
	if err != nil {
		logIfInternal(h.logger, "updating profile failed", err, slog.String("userID", userID))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.present.me(user))
}

// HandleFollow toggles whether the caller follows {username}.
//
// HTTP: POST /api/follow/{username} (RequireAuth)
// RESPONSE: {"isFollowing": true}
func (h *ProfileHandler) HandleFollow(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	username := chi.URLParam(r, "username")

	following, err := h.follows.Toggle(r.Context(), userID, username)
	if err != nil {
		logIfInternal(h.logger, "toggling follow failed", err, slog.String("username", username))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"isFollowing": following})
}
