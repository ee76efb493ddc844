package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/social-diary/internal/auth"
	"github.com/sakif/social-diary/internal/feed"
	"github.com/sakif/social-diary/internal/storage"
)

type FeedHandler struct {
	engine   *feed.Engine
	pageSize int
	present  presenter
	logger   *slog.Logger
}

// NewFeedHandler serves pages of pageSize entries; 0 means feed.DefaultPageSize.
func NewFeedHandler(engine *feed.Engine, pageSize int, media storage.Store, logger *slog.Logger) *FeedHandler {
	if pageSize <= 0 {
		pageSize = feed.DefaultPageSize
	}
	return &FeedHandler{
		engine:   engine,
		pageSize: pageSize,
		present:  presenter{media: media},
		logger:   logger,
	}
}

// HandleFeed returns the home feed for the caller.
//
// HTTP: GET /api/feed?page=2 (OptionalAuth)
//
// The page size is fixed by configuration. Anonymous callers get the latest
// public entries and the query is ignored. A page that is not a number is
// page 1.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())

	page := queryInt(r, "page", 1)

	p, err := h.engine.Compose(r.Context(), viewerID, page, h.pageSize)
	if err != nil {
		h.logger.Error("composing feed failed",
			slog.String("viewer", viewerID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.present.page(p))
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
