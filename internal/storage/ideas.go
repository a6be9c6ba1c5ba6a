package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rewired-gh/coinpulse/internal/models"
)

// IdeaOrder selects the ordering of ListIdeas.
type IdeaOrder int

const (
	// OrderRecent orders by creation time, newest first.
	OrderRecent IdeaOrder = iota
	// OrderLikes orders by like count descending, newer first on equal
	// counts, then by id. This is the trending order.
	OrderLikes
)

// ListOptions filters and pages ListIdeas.
type ListOptions struct {
	// ViewerID scopes LikedByViewer. Empty means an anonymous viewer.
	ViewerID string
	AuthorID string
	Tag      string
	OrderBy  IdeaOrder
	// Limit <= 0 means no limit.
	Limit  int
	Offset int
}

const ideaColumns = `i.id, i.author_id, i.title, i.body, i.created_at, i.like_count,
	EXISTS (SELECT 1 FROM idea_likes l WHERE l.idea_id = i.id AND l.user_id = ?)`

// CreateIdea stores a new idea with its tags. The author's ideas count and the
// usage count of every tag are incremented in the same transaction; tags that
// do not exist yet are created.
func (s *Storage) CreateIdea(ctx context.Context, authorID, title, body string, tagNames []string) (*models.TradingIdea, error) {
	names, err := normalizeTags(tagNames)
	if err != nil {
		return nil, &Error{Op: "create idea", Kind: ConstraintViolation, Err: err}
	}

	idea := &models.TradingIdea{
		ID:       uuid.New().String(),
		AuthorID: authorID,
		Title:    strings.TrimSpace(title),
		Body:     body,
		Tags:     make([]models.Tag, 0, len(names)),
	}
	if err := idea.Validate(); err != nil {
		return nil, &Error{Op: "create idea", Kind: ConstraintViolation, Err: fmt.Errorf("invalid idea: %w", err)}
	}

	ts := s.timestamp()
	idea.CreatedAt = fromTimestamp(ts)

	err = s.withTx(ctx, "create idea", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET ideas_count = ideas_count + 1 WHERE id = ?`, authorID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return newError("create idea", NotFound, "author %s", authorID)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ideas (id, author_id, title, body, created_at, like_count) VALUES (?, ?, ?, ?, ?, 0)`,
			idea.ID, idea.AuthorID, idea.Title, idea.Body, ts); err != nil {
			return err
		}

		tags, err := attachTags(ctx, tx, idea.ID, names)
		if err != nil {
			return err
		}
		idea.Tags = tags
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idea, nil
}

// DeleteIdea removes an idea authored by requesterID together with its likes
// and tag links, decrementing the author's ideas count and each tag's usage
// count in the same transaction.
func (s *Storage) DeleteIdea(ctx context.Context, ideaID, requesterID string) error {
	return s.withTx(ctx, "delete idea", func(tx *sql.Tx) error {
		if err := checkAuthor(ctx, tx, "delete idea", ideaID, requesterID); err != nil {
			return err
		}
		if err := detachTags(ctx, tx, ideaID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM idea_likes WHERE idea_id = ?`, ideaID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ideas WHERE id = ?`, ideaID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE users SET ideas_count = ideas_count - 1 WHERE id = ?`, requesterID)
		return err
	})
}

// RetagIdea replaces the tags of an idea authored by requesterID. Removed tags
// lose one usage, added tags gain one; tags kept across the change end where
// they started.
func (s *Storage) RetagIdea(ctx context.Context, ideaID, requesterID string, tagNames []string) (*models.TradingIdea, error) {
	names, err := normalizeTags(tagNames)
	if err != nil {
		return nil, &Error{Op: "retag idea", Kind: ConstraintViolation, Err: err}
	}

	var idea *models.TradingIdea
	err = s.withTx(ctx, "retag idea", func(tx *sql.Tx) error {
		if err := checkAuthor(ctx, tx, "retag idea", ideaID, requesterID); err != nil {
			return err
		}
		if err := detachTags(ctx, tx, ideaID); err != nil {
			return err
		}
		if _, err := attachTags(ctx, tx, ideaID, names); err != nil {
			return err
		}
		idea, err = getIdea(ctx, tx, ideaID, requesterID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return idea, nil
}

// GetIdea retrieves an idea with LikedByViewer computed for viewerID.
func (s *Storage) GetIdea(ctx context.Context, ideaID, viewerID string) (*models.TradingIdea, error) {
	idea, err := getIdea(ctx, s.db, ideaID, viewerID)
	if err != nil {
		return nil, wrap("get idea", err)
	}
	return idea, nil
}

func getIdea(ctx context.Context, q querier, ideaID, viewerID string) (*models.TradingIdea, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas i WHERE i.id = ?`, viewerID, ideaID)
	idea, err := scanIdea(row)
	if err == sql.ErrNoRows {
		return nil, newError("get idea", NotFound, "idea %s", ideaID)
	}
	if err != nil {
		return nil, err
	}

	tags, err := loadTags(ctx, q, []string{idea.ID})
	if err != nil {
		return nil, err
	}
	idea.Tags = tags[idea.ID]
	if idea.Tags == nil {
		idea.Tags = []models.Tag{}
	}
	return idea, nil
}

// ListIdeas returns ideas matching opts, with tags attached and LikedByViewer
// computed for opts.ViewerID.
func (s *Storage) ListIdeas(ctx context.Context, opts ListOptions) ([]models.TradingIdea, error) {
	where, args := ideaFilter(opts)
	query := `SELECT ` + ideaColumns + ` FROM ideas i` + where

	switch opts.OrderBy {
	case OrderLikes:
		query += ` ORDER BY i.like_count DESC, i.created_at DESC, i.id ASC`
	default:
		query += ` ORDER BY i.created_at DESC, i.id ASC`
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	query += ` LIMIT ? OFFSET ?`
	args = append([]interface{}{opts.ViewerID}, args...)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list ideas", err)
	}

	ideas := make([]models.TradingIdea, 0)
	ids := make([]string, 0)
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			rows.Close()
			return nil, wrap("list ideas", err)
		}
		ideas = append(ideas, *idea)
		ids = append(ids, idea.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrap("list ideas", err)
	}
	// The pool holds a single connection; release it before the tag query.
	rows.Close()

	tags, err := loadTags(ctx, s.db, ids)
	if err != nil {
		return nil, wrap("list ideas", err)
	}
	for i := range ideas {
		ideas[i].Tags = tags[ideas[i].ID]
		if ideas[i].Tags == nil {
			ideas[i].Tags = []models.Tag{}
		}
	}
	return ideas, nil
}

// CountIdeas returns the number of ideas matching the filters in opts.
// Ordering and paging fields are ignored.
func (s *Storage) CountIdeas(ctx context.Context, opts ListOptions) (int, error) {
	where, args := ideaFilter(opts)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ideas i`+where, args...).Scan(&n); err != nil {
		return 0, wrap("count ideas", err)
	}
	return n, nil
}

func ideaFilter(opts ListOptions) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if opts.AuthorID != "" {
		clauses = append(clauses, `i.author_id = ?`)
		args = append(args, opts.AuthorID)
	}
	if tag := models.NormalizeTagName(opts.Tag); tag != "" {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM idea_tags it JOIN tags t ON t.id = it.tag_id
			WHERE it.idea_id = i.id AND t.name = ?)`)
		args = append(args, tag)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return ` WHERE ` + strings.Join(clauses, ` AND `), args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIdea(row scanner) (*models.TradingIdea, error) {
	var idea models.TradingIdea
	var createdAt int64
	var liked bool
	if err := row.Scan(&idea.ID, &idea.AuthorID, &idea.Title, &idea.Body, &createdAt, &idea.LikeCount, &liked); err != nil {
		return nil, err
	}
	idea.CreatedAt = fromTimestamp(createdAt)
	idea.LikedByViewer = liked
	return &idea, nil
}

// loadTags returns the tags of each idea keyed by idea id, ordered by name.
func loadTags(ctx context.Context, q querier, ideaIDs []string) (map[string][]models.Tag, error) {
	out := make(map[string][]models.Tag, len(ideaIDs))
	if len(ideaIDs) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(ideaIDs))
	for i, id := range ideaIDs {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx,
		`SELECT it.idea_id, t.id, t.name, t.usage_count
		 FROM idea_tags it JOIN tags t ON t.id = it.tag_id
		 WHERE it.idea_id IN (`+placeholders(len(ideaIDs))+`)
		 ORDER BY t.name ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ideaID string
		var t models.Tag
		if err := rows.Scan(&ideaID, &t.ID, &t.Name, &t.UsageCount); err != nil {
			return nil, err
		}
		out[ideaID] = append(out[ideaID], t)
	}
	return out, rows.Err()
}

// attachTags links names to an idea, creating missing tags and incrementing
// usage counts.
func attachTags(ctx context.Context, tx *sql.Tx, ideaID string, names []string) ([]models.Tag, error) {
	tags := make([]models.Tag, 0, len(names))
	for _, name := range names {
		var t models.Tag
		err := tx.QueryRowContext(ctx,
			`INSERT INTO tags (id, name, usage_count) VALUES (?, ?, 1)
			 ON CONFLICT(name) DO UPDATE SET usage_count = usage_count + 1
			 RETURNING id, name, usage_count`,
			uuid.New().String(), name,
		).Scan(&t.ID, &t.Name, &t.UsageCount)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO idea_tags (idea_id, tag_id) VALUES (?, ?)`, ideaID, t.ID); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, nil
}

// detachTags unlinks every tag of an idea, decrementing usage counts.
func detachTags(ctx context.Context, tx *sql.Tx, ideaID string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE tags SET usage_count = usage_count - 1
		 WHERE id IN (SELECT tag_id FROM idea_tags WHERE idea_id = ?)`, ideaID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM idea_tags WHERE idea_id = ?`, ideaID)
	return err
}

// checkAuthor fails with NotFound when the idea is missing and Forbidden when
// requesterID is not its author.
func checkAuthor(ctx context.Context, tx *sql.Tx, op, ideaID, requesterID string) error {
	var authorID string
	err := tx.QueryRowContext(ctx, `SELECT author_id FROM ideas WHERE id = ?`, ideaID).Scan(&authorID)
	if err == sql.ErrNoRows {
		return newError(op, NotFound, "idea %s", ideaID)
	}
	if err != nil {
		return err
	}
	if authorID != requesterID {
		return newError(op, Forbidden, "user %s is not the author of idea %s", requesterID, ideaID)
	}
	return nil
}

func normalizeTags(tagNames []string) ([]string, error) {
	names := models.NormalizeTagNames(tagNames)
	if len(names) > models.MaxTagsPerIdea {
		return nil, fmt.Errorf("at most %d tags per idea", models.MaxTagsPerIdea)
	}
	for _, n := range names {
		if err := models.ValidateTagName(n); err != nil {
			return nil, fmt.Errorf("tag %q: %w", n, err)
		}
	}
	return names, nil
}
