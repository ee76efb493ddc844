package handler

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/auth"
	"github.com/sakif/social-diary/internal/model"
	"github.com/sakif/social-diary/internal/service"
	"github.com/sakif/social-diary/internal/storage"
)

const (
	// MaxUploadBytes bounds one uploaded picture.
	MaxUploadBytes = 10 << 20
	// maxEntryBody bounds a whole create request: every photo plus form fields.
	maxEntryBody = model.MaxPhotosPerEntry*MaxUploadBytes + 1<<20
	// multipartMemory is kept in memory while parsing; the rest spills to
	// temp files that RemoveAll cleans up.
	multipartMemory = 8 << 20
)

type EntryHandler struct {
	entries *service.EntryService
	present presenter
	logger  *slog.Logger
}

func NewEntryHandler(entries *service.EntryService, media storage.Store, logger *slog.Logger) *EntryHandler {
	return &EntryHandler{entries: entries, present: presenter{media: media}, logger: logger}
}

type entryRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Privacy string `json:"privacy"`
}

// HandleCreate creates an entry.
//
// HTTP: POST /api/entries (RequireAuth)
// BODY: multipart/form-data with title, content, privacy, up to three
// "photos" files and matching "captions" values; or a JSON object with
// title, content and privacy for entries without photos.
func (h *EntryHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var in service.EntryInput
	if isJSON(r) {
		var req entryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		in = service.EntryInput{Title: req.Title, Content: req.Content, Privacy: req.Privacy}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxEntryBody)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, apperror.ValidationFailed("", "invalid multipart form"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		in = service.EntryInput{
			Title:   r.FormValue("title"),
			Content: r.FormValue("content"),
			Privacy: r.FormValue("privacy"),
		}

		files := r.MultipartForm.File["photos"]
		captions := r.MultipartForm.Value["captions"]
		for i, fh := range files {
			data, err := readUpload(fh, "photos")
			if err != nil {
				writeError(w, err)
				return
			}
			up := service.PhotoUpload{Data: data}
			if i < len(captions) {
				up.Caption = captions[i]
			}
			in.Photos = append(in.Photos, up)
		}
	}

	entry, err := h.entries.Create(r.Context(), userID, in)
	if err != nil {
		logIfInternal(h.logger, "creating entry failed", err, slog.String("userID", userID))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.present.entry(entry))
}

// HandleGet returns one entry if the caller may see it.
//
// HTTP: GET /api/entries/{id} (OptionalAuth)
func (h *EntryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	entry, err := h.entries.Get(r.Context(), viewerID, id)
	if err != nil {
		logIfInternal(h.logger, "loading entry failed", err, slog.String("entryID", id))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.present.entry(entry))
}

// HandleUpdate edits title, content and privacy of the caller's entry.
//
// HTTP: PUT /api/entries/{id} (RequireAuth)
// BODY: {"title", "content", "privacy"}
func (h *EntryHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.entries.Update(r.Context(), userID, id, service.EntryInput{
		Title:   req.Title,
		Content: req.Content,
		Privacy: req.Privacy,
	})
	if err != nil {
		logIfInternal(h.logger, "updating entry failed", err, slog.String("entryID", id))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.present.entry(entry))
}

// HandleDelete deletes the caller's entry.
//
// HTTP: DELETE /api/entries/{id} (RequireAuth)
func (h *EntryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.entries.Delete(r.Context(), userID, id); err != nil {
		logIfInternal(h.logger, "deleting entry failed", err, slog.String("entryID", id))
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// readUpload reads one uploaded file, refusing anything over MaxUploadBytes.
// field names the form field in the validation error.
func readUpload(fh *multipart.FileHeader, field string) ([]byte, error) {
	if fh.Size > MaxUploadBytes {
		return nil, apperror.ValidationFailed(field,
			fmt.Sprintf("%s is larger than %d MB", fh.Filename, MaxUploadBytes>>20))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload %s: %w", fh.Filename, err)
	}
	if len(data) > MaxUploadBytes {
		return nil, apperror.ValidationFailed(field,
			fmt.Sprintf("%s is larger than %d MB", fh.Filename, MaxUploadBytes>>20))
	}
	return data, nil
}
