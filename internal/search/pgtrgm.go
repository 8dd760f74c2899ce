package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgTrgm implements Searcher using PostgreSQL trigram similarity as a
// fallback. Requires the pg_trgm extension.
type PgTrgm struct {
	db        *sql.DB
	threshold float64
}

// NewPgTrgm creates a trigram searcher. A thread matches when the summed
// title and body similarity against the query exceeds threshold.
func NewPgTrgm(db *sql.DB, threshold float64) *PgTrgm {
	if threshold <= 0 {
		threshold = 0.2
	}
	return &PgTrgm{db: db, threshold: threshold}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgTrgm) Healthy() bool {
	return true
}

// Search ranks non-deleted threads by similarity(title)+similarity(body).
func (p *PgTrgm) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := fmt.Sprintf("t.is_deleted = FALSE AND (similarity(t.title, $1) + similarity(t.body, $1)) > %f", p.threshold)
	args := []any{q.Text}
	if q.FilterCategoryID != "" {
		where += " AND t.category_id = $2"
		args = append(args, q.FilterCategoryID)
	}

	var total int
	countSQL := "SELECT count(*) FROM threads t WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgtrgm count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT t.id, t.title, left(t.body, 200) AS snippet, t.category_id,
			(similarity(t.title, $1) + similarity(t.body, $1)) AS score
		FROM threads t
		WHERE %s
		ORDER BY score DESC, t.created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgtrgm query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.CategoryID, &r.Score); err != nil {
			return nil, 0, fmt.Errorf("pgtrgm scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all live threads for full reindexing.
func (p *PgTrgm) LoadAllRecords(ctx context.Context) ([]ThreadRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.body, t.category_id, COALESCE(t.course_id, ''), u.display_name
		FROM threads t
		JOIN users u ON u.id = t.author_id
		WHERE t.is_deleted = FALSE
	`)
	if err != nil {
		return nil, fmt.Errorf("load threads: %w", err)
	}
	defer rows.Close()

	threads := make([]ThreadRecord, 0)
	for rows.Next() {
		var t ThreadRecord
		if err := rows.Scan(&t.ID, &t.Title, &t.Body, &t.CategoryID, &t.CourseID, &t.AuthorName); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	return threads, nil
}
