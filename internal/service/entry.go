package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/feed"
	"github.com/sakif/social-diary/internal/imaging"
	"github.com/sakif/social-diary/internal/model"
	"github.com/sakif/social-diary/internal/repository"
	"github.com/sakif/social-diary/internal/storage"
)

const (
	MaxTitleLength   = 200
	MaxCaptionLength = 200
)

// EntryService manages diary entries and their photos.
type EntryService struct {
	entries repository.EntryRepository
	blobs   storage.Store
	logger  *slog.Logger
	now     func() time.Time
}

func NewEntryService(entries repository.EntryRepository, blobs storage.Store, logger *slog.Logger) *EntryService {
	return &EntryService{
		entries: entries,
		blobs:   blobs,
		logger:  logger,
		now:     time.Now,
	}
}

// PhotoUpload is one uploaded file as read from the request.
type PhotoUpload struct {
	Data    []byte
	Caption string
}

type EntryInput struct {
	Title   string
	Content string
	Privacy string
	Photos  []PhotoUpload
}

// Create validates the input, stores the photos, and then inserts the entry
// and its photo rows in one transaction. Blobs already written are removed
// again if anything after them fails, so a rejected entry leaves nothing
// behind.
func (s *EntryService) Create(ctx context.Context, authorID string, in EntryInput) (*model.Entry, error) {
	if authorID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	entry, err := validateEntry(in)
	if err != nil {
		return nil, err
	}
	entry.AuthorID = authorID

	if len(in.Photos) > model.MaxPhotosPerEntry {
		return nil, apperror.ValidationFailed("photos",
			fmt.Sprintf("you can upload at most %d photos per entry", model.MaxPhotosPerEntry))
	}

	// Decode every photo before storing any of them.
	normalized := make([]*imaging.Result, len(in.Photos))
	for i, up := range in.Photos {
		if utf8.RuneCountInString(up.Caption) > MaxCaptionLength {
			return nil, apperror.ValidationFailed("captions",
				fmt.Sprintf("caption must be %d characters or less", MaxCaptionLength))
		}
		res, err := imaging.Normalize(up.Data, imaging.PhotoMaxDim)
		if err != nil {
			if errors.Is(err, imaging.ErrUnsupported) {
				return nil, apperror.ValidationFailed("photos",
					fmt.Sprintf("photo %d is not a supported image", i+1))
			}
			return nil, fmt.Errorf("normalizing photo %d: %w", i+1, err)
		}
		normalized[i] = res
	}

	keys := make([]string, 0, len(normalized))
	for i, res := range normalized {
		key := storage.NewKey(storage.PrefixPhotos, res.Ext, s.now())
		if err := s.blobs.Put(ctx, key, res.ContentType, res.Data); err != nil {
			s.cleanup(ctx, keys)
			return nil, fmt.Errorf("storing photo %d: %w", i+1, err)
		}
		keys = append(keys, key)
		entry.Photos = append(entry.Photos, model.Photo{
			Key:         key,
			ContentType: res.ContentType,
			Caption:     strings.TrimSpace(in.Photos[i].Caption),
		})
	}

	if err := s.entries.CreateEntry(ctx, entry); err != nil {
		s.cleanup(ctx, keys)
		s.logger.Error("failed to create entry",
			slog.String("authorID", authorID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating entry: %w", err)
	}

	s.logger.Info("entry created",
		slog.String("entryID", entry.ID),
		slog.String("authorID", authorID),
		slog.String("privacy", string(entry.Privacy)),
		slog.Int("photos", len(entry.Photos)),
	)

	return s.entries.GetEntry(ctx, entry.ID)
}

// Get returns the entry if viewerID may see it. An entry the viewer may not
// see is reported as not found.
func (s *EntryService) Get(ctx context.Context, viewerID, id string) (*model.Entry, error) {
	entry, err := s.entries.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !feed.Visible(*entry, viewerID) {
		return nil, apperror.NotFound("entry", id)
	}
	return entry, nil
}

// Update replaces title, content and privacy. Photos are not editable.
// Only the author may update an entry; anyone else gets not found.
func (s *EntryService) Update(ctx context.Context, userID, id string, in EntryInput) (*model.Entry, error) {
	existing, err := s.entries.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.AuthorID != userID {
		return nil, apperror.NotFound("entry", id)
	}

	changes, err := validateEntry(EntryInput{Title: in.Title, Content: in.Content, Privacy: in.Privacy})
	if err != nil {
		return nil, err
	}
	existing.Title = changes.Title
	existing.Content = changes.Content
	existing.Privacy = changes.Privacy

	if err := s.entries.UpdateEntry(ctx, existing); err != nil {
		return nil, fmt.Errorf("updating entry %s: %w", id, err)
	}

	s.logger.Info("entry updated",
		slog.String("entryID", id),
		slog.String("privacy", string(existing.Privacy)),
	)
	return existing, nil
}

// Delete removes the entry and then its photo blobs. A failed blob delete
// is logged and does not fail the request; the rows are already gone.
func (s *EntryService) Delete(ctx context.Context, userID, id string) error {
	photos, err := s.entries.DeleteEntry(ctx, id, userID)
	if err != nil {
		return err
	}

	keys := make([]string, len(photos))
	for i, p := range photos {
		keys[i] = p.Key
	}
	s.cleanup(ctx, keys)

	s.logger.Info("entry deleted",
		slog.String("entryID", id),
		slog.Int("photos", len(photos)),
	)
	return nil
}

func (s *EntryService) cleanup(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := storage.DeleteAll(context.WithoutCancel(ctx), s.blobs, keys...); err != nil {
		s.logger.Warn("failed to delete photo blobs",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
	}
}

func validateEntry(in EntryInput) (*model.Entry, error) {
	title := strings.TrimSpace(in.Title)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "content is required")
	}

	privacy, err := model.ParsePrivacy(strings.TrimSpace(in.Privacy))
	if err != nil {
		return nil, apperror.ValidationFailed("privacy", "privacy must be \"private\" or \"public\"")
	}

	return &model.Entry{Title: title, Content: content, Privacy: privacy}, nil
}
