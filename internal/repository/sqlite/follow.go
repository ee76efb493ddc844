package sqlite

import (
	"context"
	"fmt"

	"github.com/sakif/social-diary/internal/repository"
)

var _ repository.FollowRepository = (*DB)(nil)

// ToggleFollow removes the edge if present, otherwise creates it, inside one
// transaction. The composite primary key guarantees a single edge per pair
// even if two toggles race; ON CONFLICT DO NOTHING makes the losing insert a
// no-op instead of an error.
func (db *DB) ToggleFollow(ctx context.Context, followerID, followingID string) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: beginning follow toggle: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = ? AND following_id = ?`,
		followerID, followingID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting follow %s->%s: %w", followerID, followingID, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}

	following := removed == 0
	if following {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO follows (follower_id, following_id, created_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (follower_id, following_id) DO NOTHING`,
			followerID, followingID, toDB(db.now()),
		)
		if err != nil {
			return false, fmt.Errorf("sqlite: inserting follow %s->%s: %w", followerID, followingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: committing follow toggle: %w", err)
	}
	return following, nil
}

func (db *DB) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM follows WHERE follower_id = ? AND following_id = ?`,
		followerID, followingID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking follow %s->%s: %w", followerID, followingID, err)
	}
	return n > 0, nil
}

// FollowingIDs lists the users userID follows.
func (db *DB) FollowingIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT following_id FROM follows WHERE follower_id = ? ORDER BY following_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing follows of %s: %w", userID, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning follow row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating follows: %w", err)
	}
	return ids, nil
}

func (db *DB) CountFollows(ctx context.Context, userID string) (followers, following int, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM follows WHERE following_id = ?),
			(SELECT COUNT(*) FROM follows WHERE follower_id = ?)`,
		userID, userID,
	).Scan(&followers, &following)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: counting follows of %s: %w", userID, err)
	}
	return followers, following, nil
}
