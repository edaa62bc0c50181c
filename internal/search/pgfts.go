package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches the pages and comments tables with PostgreSQL full-text
// search. The 'simple' configuration matches the GIN indexes in the schema.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultPage {
		where := fmt.Sprintf("to_tsvector('simple', p.title || ' ' || p.plain_text) @@ %s", tsQuery)
		if q.FilterPageID != "" {
			where += fmt.Sprintf(" AND p.id = $%d", argN)
			args = append(args, q.FilterPageID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'page'::text AS type, p.id, p.title,
				ts_headline('simple', p.plain_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS page_id,
				ts_rank(to_tsvector('simple', p.title || ' ' || p.plain_text), %s) AS rank
			FROM pages p
			WHERE %s`, tsQuery, tsQuery, where))
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		where := fmt.Sprintf("c.deleted_at IS NULL AND to_tsvector('simple', c.plain_text) @@ %s", tsQuery)
		if q.FilterPageID != "" {
			where += fmt.Sprintf(" AND c.page_id = $%d", argN)
			args = append(args, q.FilterPageID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.selection AS title,
				ts_headline('simple', c.plain_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.page_id,
				ts_rank(to_tsvector('simple', c.plain_text), %s) AS rank
			FROM comments c
			WHERE %s`, tsQuery, tsQuery, where))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, page_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.PageID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every page and live comment for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PageRecord, []CommentRecord, error) {
	pageRows, err := p.db.QueryContext(ctx, `SELECT id, title, plain_text, latest_version FROM pages`)
	if err != nil {
		return nil, nil, fmt.Errorf("load pages: %w", err)
	}
	defer pageRows.Close()

	pages := make([]PageRecord, 0)
	for pageRows.Next() {
		var r PageRecord
		if err := pageRows.Scan(&r.ID, &r.Title, &r.Body, &r.Version); err != nil {
			return nil, nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, r)
	}
	if err := pageRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate pages: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT id, page_id, root_comment_id, creator_id, plain_text, selection
		FROM comments
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var r CommentRecord
		if err := commentRows.Scan(&r.ID, &r.PageID, &r.RootID, &r.CreatorID, &r.Body, &r.Selection); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, r)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}
	return pages, comments, nil
}
