package storage

import (
	"context"
	"database/sql"
)

// LikeIdea records that userID likes ideaID and returns the idea's like count.
// Liking an already-liked idea changes nothing.
func (s *Storage) LikeIdea(ctx context.Context, ideaID, userID string) (int, error) {
	var count int
	err := s.withTx(ctx, "like idea", func(tx *sql.Tx) error {
		if err := requireLikeParties(ctx, tx, "like idea", ideaID, userID); err != nil {
			return err
		}
		var err error
		count, err = like(ctx, tx, ideaID, userID, s.timestamp())
		return err
	})
	return count, err
}

// UnlikeIdea removes userID's like of ideaID and returns the idea's like count.
// Unliking an idea that is not liked changes nothing.
func (s *Storage) UnlikeIdea(ctx context.Context, ideaID, userID string) (int, error) {
	var count int
	err := s.withTx(ctx, "unlike idea", func(tx *sql.Tx) error {
		if err := requireLikeParties(ctx, tx, "unlike idea", ideaID, userID); err != nil {
			return err
		}
		var err error
		count, err = unlike(ctx, tx, ideaID, userID)
		return err
	})
	return count, err
}

// ToggleLike flips userID's like of ideaID. It reports whether the idea is
// liked afterwards and the resulting like count.
func (s *Storage) ToggleLike(ctx context.Context, ideaID, userID string) (bool, int, error) {
	var liked bool
	var count int
	err := s.withTx(ctx, "toggle like", func(tx *sql.Tx) error {
		if err := requireLikeParties(ctx, tx, "toggle like", ideaID, userID); err != nil {
			return err
		}
		has, err := hasLiked(ctx, tx, ideaID, userID)
		if err != nil {
			return err
		}
		if has {
			count, err = unlike(ctx, tx, ideaID, userID)
		} else {
			count, err = like(ctx, tx, ideaID, userID, s.timestamp())
		}
		liked = !has
		return err
	})
	return liked, count, err
}

// HasLiked reports whether userID likes ideaID.
func (s *Storage) HasLiked(ctx context.Context, ideaID, userID string) (bool, error) {
	liked, err := hasLiked(ctx, s.db, ideaID, userID)
	return liked, wrap("has liked", err)
}

func hasLiked(ctx context.Context, q querier, ideaID, userID string) (bool, error) {
	var liked bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM idea_likes WHERE idea_id = ? AND user_id = ?)`, ideaID, userID,
	).Scan(&liked)
	return liked, err
}

// like inserts the relation and bumps the counter only when a row was added.
func like(ctx context.Context, tx *sql.Tx, ideaID, userID string, ts int64) (int, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO idea_likes (idea_id, user_id, created_at) VALUES (?, ?, ?)`, ideaID, userID, ts)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 1 {
		if _, err := tx.ExecContext(ctx, `UPDATE ideas SET like_count = like_count + 1 WHERE id = ?`, ideaID); err != nil {
			return 0, err
		}
	}
	return likeCount(ctx, tx, ideaID)
}

// unlike deletes the relation and drops the counter only when a row was removed.
func unlike(ctx context.Context, tx *sql.Tx, ideaID, userID string) (int, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM idea_likes WHERE idea_id = ? AND user_id = ?`, ideaID, userID)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 1 {
		if _, err := tx.ExecContext(ctx, `UPDATE ideas SET like_count = like_count - 1 WHERE id = ?`, ideaID); err != nil {
			return 0, err
		}
	}
	return likeCount(ctx, tx, ideaID)
}

func likeCount(ctx context.Context, tx *sql.Tx, ideaID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT like_count FROM ideas WHERE id = ?`, ideaID).Scan(&n)
	return n, err
}

func requireLikeParties(ctx context.Context, tx *sql.Tx, op, ideaID, userID string) error {
	var ideaOK, userOK bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ideas WHERE id = ?), EXISTS (SELECT 1 FROM users WHERE id = ?)`,
		ideaID, userID,
	).Scan(&ideaOK, &userOK)
	if err != nil {
		return err
	}
	if !ideaOK {
		return newError(op, NotFound, "idea %s", ideaID)
	}
	if !userOK {
		return newError(op, NotFound, "user %s", userID)
	}
	return nil
}
