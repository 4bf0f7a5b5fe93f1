package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// It only ever surfaces public, non-redirect pages, and only the revision a
// page's head pointer currently references.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across pages and current revisions using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	const publicPage = "p.grant_level = 1 AND p.redirect_to IS NULL"

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPage {
		pageWhere := "p.fts @@ " + tsQuery + " AND " + publicPage
		if q.FilterPathPrefix != "" {
			pageWhere += fmt.Sprintf(" AND p.path LIKE $%d || '%%'", argN)
			args = append(args, q.FilterPathPrefix)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'page'::text AS type, p.id, p.path,
				''::text AS snippet,
				p.id AS page_id,
				ts_rank(p.fts, %s) AS rank
			FROM pages p
			WHERE %s`, tsQuery, pageWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultRevision {
		revWhere := "r.fts @@ " + tsQuery + " AND " + publicPage
		if q.FilterPathPrefix != "" {
			revWhere += fmt.Sprintf(" AND p.path LIKE $%d || '%%'", argN)
			args = append(args, q.FilterPathPrefix)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'revision'::text AS type, r.id, p.path,
				ts_headline('english', coalesce(r.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS page_id,
				ts_rank(r.fts, %s) AS rank
			FROM revisions r
			JOIN pages p ON p.current_revision_id = r.id
			WHERE %s`, tsQuery, tsQuery, revWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, path, snippet, page_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Path, &r.Snippet, &r.PageID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PageRecord, []RevisionRecord, error) {
	pageRows, err := p.db.QueryContext(ctx, `
		SELECT id, path
		FROM pages
		WHERE grant_level = 1 AND redirect_to IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load pages: %w", err)
	}
	defer pageRows.Close()

	pages := make([]PageRecord, 0)
	for pageRows.Next() {
		var pr PageRecord
		if err := pageRows.Scan(&pr.ID, &pr.Path); err != nil {
			return nil, nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, pr)
	}
	if err := pageRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate pages: %w", err)
	}

	revRows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.body, p.path, p.id
		FROM revisions r
		JOIN pages p ON p.current_revision_id = r.id
		WHERE p.grant_level = 1 AND p.redirect_to IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load revisions: %w", err)
	}
	defer revRows.Close()

	revisions := make([]RevisionRecord, 0)
	for revRows.Next() {
		var rr RevisionRecord
		if err := revRows.Scan(&rr.ID, &rr.Body, &rr.Path, &rr.PageID); err != nil {
			return nil, nil, fmt.Errorf("scan revision: %w", err)
		}
		revisions = append(revisions, rr)
	}
	if err := revRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate revisions: %w", err)
	}

	return pages, revisions, nil
}
