package storage

import (
	"context"
	"database/sql"

	"github.com/rewired-gh/coinpulse/internal/models"
)

// CounterMismatch is a denormalized counter that disagrees with the relation
// it summarizes.
type CounterMismatch struct {
	Entity string `json:"entity"` // "idea.like_count", "user.ideas_count" or "tag.usage_count"
	ID     string `json:"id"`
	Stored int    `json:"stored"`
	Actual int    `json:"actual"`
}

const (
	likeCountCheck = `SELECT i.id, i.like_count AS stored,
		(SELECT COUNT(*) FROM idea_likes l WHERE l.idea_id = i.id) AS actual
		FROM ideas i`
	ideasCountCheck = `SELECT u.id, u.ideas_count AS stored,
		(SELECT COUNT(*) FROM ideas i WHERE i.author_id = u.id) AS actual
		FROM users u`
	usageCountCheck = `SELECT t.id, t.usage_count AS stored,
		(SELECT COUNT(*) FROM idea_tags it WHERE it.tag_id = t.id) AS actual
		FROM tags t`
)

// PopularTags returns up to limit tags in use, most used first, ties by id.
func (s *Storage) PopularTags(ctx context.Context, limit int) ([]models.Tag, error) {
	return s.queryTags(ctx, "popular tags",
		`SELECT id, name, usage_count FROM tags WHERE usage_count > 0
		 ORDER BY usage_count DESC, id ASC LIMIT ?`, limit)
}

// ListTags returns every tag with at least minUsage uses, ordered by id.
func (s *Storage) ListTags(ctx context.Context, minUsage int) ([]models.Tag, error) {
	return s.queryTags(ctx, "list tags",
		`SELECT id, name, usage_count FROM tags WHERE usage_count >= ? ORDER BY id ASC`, minUsage)
}

func (s *Storage) queryTags(ctx context.Context, op, query string, args ...interface{}) ([]models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	tags := make([]models.Tag, 0)
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.UsageCount); err != nil {
			return nil, wrap(op, err)
		}
		tags = append(tags, t)
	}
	return tags, wrap(op, rows.Err())
}

// VerifyCounters compares every denormalized counter with a recount of its
// relation and returns the ones that differ. The result is empty when all
// counters are consistent.
func (s *Storage) VerifyCounters(ctx context.Context) ([]CounterMismatch, error) {
	var mismatches []CounterMismatch
	err := s.withTx(ctx, "verify counters", func(tx *sql.Tx) error {
		checks := []struct {
			entity string
			query  string
		}{
			{"idea.like_count", likeCountCheck},
			{"user.ideas_count", ideasCountCheck},
			{"tag.usage_count", usageCountCheck},
		}
		for _, c := range checks {
			found, err := mismatchesFor(ctx, tx, c.entity, c.query)
			if err != nil {
				return err
			}
			mismatches = append(mismatches, found...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mismatches, nil
}

func mismatchesFor(ctx context.Context, tx *sql.Tx, entity, query string) ([]CounterMismatch, error) {
	rows, err := tx.QueryContext(ctx, `SELECT * FROM (`+query+`) WHERE stored != actual ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CounterMismatch
	for rows.Next() {
		m := CounterMismatch{Entity: entity}
		if err := rows.Scan(&m.ID, &m.Stored, &m.Actual); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecountCounters rewrites every denormalized counter from its relation and
// returns how many rows were corrected.
func (s *Storage) RecountCounters(ctx context.Context) (int64, error) {
	var fixed int64
	err := s.withTx(ctx, "recount counters", func(tx *sql.Tx) error {
		stmts := []string{
			`UPDATE ideas SET like_count = (SELECT COUNT(*) FROM idea_likes l WHERE l.idea_id = ideas.id)
			 WHERE like_count != (SELECT COUNT(*) FROM idea_likes l WHERE l.idea_id = ideas.id)`,
			`UPDATE users SET ideas_count = (SELECT COUNT(*) FROM ideas i WHERE i.author_id = users.id)
			 WHERE ideas_count != (SELECT COUNT(*) FROM ideas i WHERE i.author_id = users.id)`,
			`UPDATE tags SET usage_count = (SELECT COUNT(*) FROM idea_tags it WHERE it.tag_id = tags.id)
			 WHERE usage_count != (SELECT COUNT(*) FROM idea_tags it WHERE it.tag_id = tags.id)`,
		}
		for _, stmt := range stmts {
			res, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			fixed += n
		}
		return nil
	})
	return fixed, err
}
