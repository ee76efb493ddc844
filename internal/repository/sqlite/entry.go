package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"
	"github.com/sakif/social-diary/internal/apperror"
	"github.com/sakif/social-diary/internal/model"
	"github.com/sakif/social-diary/internal/repository"
)

var _ repository.EntryRepository = (*DB)(nil)

const (
	DefaultListLimit = 20
	MaxListLimit     = 1000
)

const entrySelect = `
	SELECT e.id, e.author_id, e.title, e.content, e.privacy, e.created_at, e.updated_at,
	       u.username, u.avatar_key
	FROM entries e
	JOIN users u ON u.id = e.author_id`

// filterSQL renders an EntryFilter as a WHERE condition. ok is false when
// the filter cannot match anything, so callers can skip the query.
func filterSQL(f repository.EntryFilter) (cond string, args []any, ok bool) {
	var ors []string
	if f.OwnerID != "" {
		ors = append(ors, "e.author_id = ?")
		args = append(args, f.OwnerID)
	}
	switch {
	case f.AllPublic:
		ors = append(ors, "e.privacy = 'public'")
	case len(f.PublicFrom) > 0:
		ors = append(ors, "(e.privacy = 'public' AND e.author_id IN ("+placeholders(len(f.PublicFrom))+"))")
		for _, id := range f.PublicFrom {
			args = append(args, id)
		}
	}
	if len(ors) == 0 {
		return "", nil, false
	}

	cond = "(" + strings.Join(ors, " OR ") + ")"
	if f.ExcludeAuthorID != "" {
		cond += " AND e.author_id <> ?"
		args = append(args, f.ExcludeAuthorID)
	}
	return cond, args, true
}

func scanEntry(row rowScanner) (*model.Entry, error) {
	var (
		e                    model.Entry
		author               model.User
		privacy              string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&e.ID, &e.AuthorID, &e.Title, &e.Content, &privacy, &createdAt, &updatedAt,
		&author.Username, &author.AvatarKey,
	)
	if err != nil {
		return nil, err
	}
	e.Privacy = model.Privacy(privacy)
	e.CreatedAt = fromDB(createdAt)
	e.UpdatedAt = fromDB(updatedAt)
	author.ID = e.AuthorID
	e.Author = &author
	e.Photos = []model.Photo{}
	return &e, nil
}

// CreateEntry inserts the entry and all of entry.Photos in one transaction,
// so an entry never persists with only some of its photos. IDs and
// timestamps are filled in on the struct.
func (db *DB) CreateEntry(ctx context.Context, entry *model.Entry) error {
	now := db.now().UTC()
	entry.ID = xid.New().String()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Privacy == "" {
		entry.Privacy = model.PrivacyPrivate
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning entry insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, author_id, title, content, privacy, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AuthorID,
		entry.Title,
		entry.Content,
		string(entry.Privacy),
		toDB(now),
		toDB(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting entry: %w", err)
	}

	for i := range entry.Photos {
		p := &entry.Photos[i]
		p.ID = xid.New().String()
		p.EntryID = entry.ID
		p.UploadedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO photos (id, entry_id, storage_key, content_type, caption, uploaded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.EntryID, p.Key, p.ContentType, p.Caption, toDB(now),
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting photo for entry %s: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing entry insert: %w", err)
	}
	return nil
}

// GetEntry returns one entry with its author and photos.
// Returns apperror.ErrNotFound if no entry has that ID.
func (db *DB) GetEntry(ctx context.Context, id string) (*model.Entry, error) {
	e, err := scanEntry(db.conn.QueryRowContext(ctx, entrySelect+` WHERE e.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("entry", id)
		}
		return nil, fmt.Errorf("sqlite: getting entry %s: %w", id, err)
	}

	entries := []model.Entry{*e}
	if err := db.attachPhotos(ctx, entries); err != nil {
		return nil, err
	}
	return &entries[0], nil
}

// ListEntries returns the entries matching filter, newest first with ID as
// the tie-breaker, so LIMIT/OFFSET pages are stable.
func (db *DB) ListEntries(ctx context.Context, filter repository.EntryFilter, opts repository.ListOptions) ([]model.Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	cond, args, ok := filterSQL(filter)
	if !ok {
		return []model.Entry{}, nil
	}
	args = append(args, limit, offset)

	entries, err := db.queryEntries(ctx,
		entrySelect+` WHERE `+cond+`
		 ORDER BY e.created_at DESC, e.id DESC
		 LIMIT ? OFFSET ?`,
		limit, args...)
	if err != nil {
		return nil, err
	}

	// rows are closed by now; safe to issue the photo query
	if err := db.attachPhotos(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (db *DB) queryEntries(ctx context.Context, query string, capHint int, args ...any) ([]model.Entry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.Entry, 0, min(capHint, 100))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning entry row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating entries: %w", err)
	}
	return entries, nil
}

// attachPhotos loads photos for all entries with one query.
func (db *DB) attachPhotos(ctx context.Context, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	index := make(map[string]int, len(entries))
	args := make([]any, 0, len(entries))
	for i, e := range entries {
		index[e.ID] = i
		args = append(args, e.ID)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, entry_id, storage_key, content_type, caption, uploaded_at
		 FROM photos
		 WHERE entry_id IN (`+placeholders(len(args))+`)
		 ORDER BY uploaded_at, id`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: listing photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return err
		}
		i := index[p.EntryID]
		entries[i].Photos = append(entries[i].Photos, *p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterating photos: %w", err)
	}
	return nil
}

func scanPhoto(row rowScanner) (*model.Photo, error) {
	var (
		p          model.Photo
		uploadedAt int64
	)
	if err := row.Scan(&p.ID, &p.EntryID, &p.Key, &p.ContentType, &p.Caption, &uploadedAt); err != nil {
		return nil, fmt.Errorf("sqlite: scanning photo row: %w", err)
	}
	p.UploadedAt = fromDB(uploadedAt)
	return &p, nil
}

func (db *DB) CountEntries(ctx context.Context, filter repository.EntryFilter) (int, error) {
	cond, args, ok := filterSQL(filter)
	if !ok {
		return 0, nil
	}
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries e WHERE `+cond, args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting entries: %w", err)
	}
	return n, nil
}

// UpdateEntry saves title, content and privacy and bumps updated_at.
// created_at is immutable.
func (db *DB) UpdateEntry(ctx context.Context, entry *model.Entry) error {
	now := db.now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`UPDATE entries SET title = ?, content = ?, privacy = ?, updated_at = ?
		 WHERE id = ?`,
		entry.Title, entry.Content, string(entry.Privacy), toDB(now), entry.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating entry %s: %w", entry.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("entry", entry.ID)
	}
	entry.UpdatedAt = now
	return nil
}

// DeleteEntry deletes entry id if authorID wrote it. Photos go with it via
// ON DELETE CASCADE; their rows are read first so the caller can remove the
// blobs. Someone else's entry reports ErrNotFound, same as a missing one.
func (db *DB) DeleteEntry(ctx context.Context, id, authorID string) ([]model.Photo, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning entry delete: %w", err)
	}
	defer tx.Rollback()

	photos, err := photosInTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE id = ? AND author_id = ?`, id, authorID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: deleting entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, apperror.NotFound("entry", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing entry delete: %w", err)
	}
	return photos, nil
}

func photosInTx(ctx context.Context, tx *sql.Tx, entryID string) ([]model.Photo, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, entry_id, storage_key, content_type, caption, uploaded_at
		 FROM photos WHERE entry_id = ? ORDER BY uploaded_at, id`, entryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing photos of %s: %w", entryID, err)
	}
	defer rows.Close()

	photos := []model.Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating photos: %w", err)
	}
	return photos, nil
}
