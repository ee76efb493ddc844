package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/social-diary/internal/model"
	"github.com/sakif/social-diary/internal/repository"
)

const (
	DefaultPageSize = 10
	// PublicLimit caps the anonymous feed, which is not paginated.
	PublicLimit = 20
)

// Store is the slice of the repository the engine reads from.
// *sqlite.DB satisfies it.
type Store interface {
	FollowingIDs(ctx context.Context, userID string) ([]string, error)
	ListEntries(ctx context.Context, filter repository.EntryFilter, opts repository.ListOptions) ([]model.Entry, error)
	CountEntries(ctx context.Context, filter repository.EntryFilter) (int, error)
}

// Page is one page of a feed plus the metadata needed to render pager links.
type Page struct {
	Entries      []model.Entry `json:"entries"`
	Number       int           `json:"page"`
	Size         int           `json:"pageSize"`
	TotalEntries int           `json:"totalEntries"`
	TotalPages   int           `json:"totalPages"`
	HasNext      bool          `json:"hasNext"`
	HasPrevious  bool          `json:"hasPrevious"`
	Paginated    bool          `json:"paginated"`
	// Fallback is set when the follow graph contributed nothing and the
	// global public entries were used instead.
	Fallback bool `json:"fallback"`
}

func newPage(number, size, total int) *Page {
	pages := (total + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	return &Page{
		Entries:      []model.Entry{},
		Number:       number,
		Size:         size,
		TotalEntries: total,
		TotalPages:   pages,
		HasNext:      number < pages,
		HasPrevious:  number > 1,
		Paginated:    true,
	}
}

// Engine composes home feeds. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Compose returns the home feed page for viewerID.
//
// An anonymous viewer ("") gets the PublicLimit most recent public entries
// and page/pageSize are ignored. A signed-in viewer gets their own entries
// plus the public entries of everyone they follow; if the people they
// follow have no public entries at all, the public entries of the whole
// site are used instead. Private entries of other users never appear.
//
// page < 1 is treated as 1 and pageSize <= 0 as DefaultPageSize. A page past
// the end comes back empty with correct metadata.
func (e *Engine) Compose(ctx context.Context, viewerID string, page, pageSize int) (*Page, error) {
	if viewerID == "" {
		return e.composePublic(ctx)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	filter, fallback, err := e.homeFilter(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	total, err := e.store.CountEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("feed: counting home feed: %w", err)
	}

	p := newPage(page, pageSize, total)
	p.Fallback = fallback
	if total == 0 || page > p.TotalPages {
		return p, nil
	}

	entries, err := e.store.ListEntries(ctx, filter, repository.ListOptions{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("feed: listing home feed: %w", err)
	}
	p.Entries = FilterVisible(entries, viewerID)

	e.logger.Debug("home feed composed",
		slog.String("viewer", viewerID),
		slog.Int("page", page),
		slog.Int("entries", len(p.Entries)),
		slog.Bool("fallback", fallback),
	)
	return p, nil
}

// homeFilter picks the candidate set for a signed-in viewer. The fallback
// triggers on "no followed public content", which covers both following
// nobody and following only people with no public entries.
func (e *Engine) homeFilter(ctx context.Context, viewerID string) (repository.EntryFilter, bool, error) {
	following, err := e.store.FollowingIDs(ctx, viewerID)
	if err != nil {
		return repository.EntryFilter{}, false, fmt.Errorf("feed: loading follows of %s: %w", viewerID, err)
	}

	followed := 0
	if len(following) > 0 {
		followed, err = e.store.CountEntries(ctx, repository.EntryFilter{
			PublicFrom:      following,
			ExcludeAuthorID: viewerID,
		})
		if err != nil {
			return repository.EntryFilter{}, false, fmt.Errorf("feed: counting followed entries: %w", err)
		}
	}

	if followed == 0 {
		return repository.EntryFilter{OwnerID: viewerID, AllPublic: true}, true, nil
	}
	return repository.EntryFilter{OwnerID: viewerID, PublicFrom: following}, false, nil
}

func (e *Engine) composePublic(ctx context.Context) (*Page, error) {
	entries, err := e.store.ListEntries(ctx,
		repository.EntryFilter{AllPublic: true},
		repository.ListOptions{Limit: PublicLimit},
	)
	if err != nil {
		return nil, fmt.Errorf("feed: listing public feed: %w", err)
	}
	entries = FilterVisible(entries, "")
	if len(entries) > PublicLimit {
		entries = entries[:PublicLimit]
	}
	return &Page{
		Entries:      entries,
		Number:       1,
		Size:         PublicLimit,
		TotalEntries: len(entries),
		TotalPages:   1,
	}, nil
}
