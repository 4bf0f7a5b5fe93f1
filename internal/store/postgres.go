package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"trellis/internal/identity"
	"trellis/internal/page"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

const pageColumns = `
	p.id, p.path, COALESCE(p.current_revision_id, ''), COALESCE(p.redirect_to, ''),
	p.grant_level, p.comment_count, p.created_at, p.updated_at,
	u.id, u.username, u.name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*page.Page, error) {
	var p page.Page
	var grant int
	var creator identity.PublicUser
	err := row.Scan(
		&p.ID, &p.Path, &p.CurrentRevisionID, &p.RedirectTo,
		&grant, &p.CommentCount, &p.CreatedAt, &p.UpdatedAt,
		&creator.ID, &creator.Username, &creator.Name,
	)
	if err != nil {
		return nil, err
	}
	p.Grant = page.Grant(grant)
	p.Creator = identity.ByUser(creator)
	return &p, nil
}

// FindPageByPath loads the page stored at the exact path, memberships
// included. When a stub and an active page share the path the active one
// wins. Returns sql.ErrNoRows when nothing is stored there.
func (s *PostgresStore) FindPageByPath(ctx context.Context, path string) (*page.Page, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages p
		JOIN users u ON u.id = p.creator_id
		WHERE p.path = $1
		ORDER BY (p.redirect_to IS NULL) DESC
		LIMIT 1
	`, path)
	p, err := scanPage(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadMemberships(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (*page.Page, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages p
		JOIN users u ON u.id = p.creator_id
		WHERE p.id = $1
	`, pageID)
	p, err := scanPage(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadMemberships(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PageExistsAtPath reports whether any page, redirect stubs included,
// occupies the path. Create treats a stub as an occupant too.
func (s *PostgresStore) PageExistsAtPath(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pages WHERE path = $1)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check path occupancy: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) loadMemberships(ctx context.Context, p *page.Page) error {
	var err error
	if p.GrantedUsers, err = s.listMembers(ctx, "page_granted_users", p.ID); err != nil {
		return err
	}
	if p.Likers, err = s.listMembers(ctx, "page_likers", p.ID); err != nil {
		return err
	}
	if p.SeenUsers, err = s.listMembers(ctx, "page_seen_users", p.ID); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) listMembers(ctx context.Context, table, pageID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM `+table+` WHERE page_id = $1`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return ids, nil
}

// GetRevision loads a single revision with its author expanded.
func (s *PostgresStore) GetRevision(ctx context.Context, revisionID string) (*page.Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.page_id, r.path, r.body, r.format, r.created_at,
			u.id, u.username, u.name
		FROM revisions r
		JOIN users u ON u.id = r.author_id
		WHERE r.id = $1
	`, revisionID)
	return scanRevision(row)
}

func scanRevision(row rowScanner) (*page.Revision, error) {
	var rev page.Revision
	var author identity.PublicUser
	err := row.Scan(
		&rev.ID, &rev.PageID, &rev.Path, &rev.Body, &rev.Format, &rev.CreatedAt,
		&author.ID, &author.Username, &author.Name,
	)
	if err != nil {
		return nil, err
	}
	rev.Author = identity.ByUser(author)
	return &rev, nil
}

// ListRevisionsByPage returns a page's revision history, newest first.
func (s *PostgresStore) ListRevisionsByPage(ctx context.Context, pageID string, opts ListOptions) ([]*page.Revision, error) {
	opts = opts.normalized()
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.page_id, r.path, r.body, r.format, r.created_at,
			u.id, u.username, u.name
		FROM revisions r
		JOIN users u ON u.id = r.author_id
		WHERE r.page_id = $1
		ORDER BY r.created_at DESC
		OFFSET $2 LIMIT $3
	`, pageID, opts.Offset, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	items := make([]*page.Revision, 0)
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		items = append(items, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}

// ListPagesByPrefix lists active pages under the prefix the requester may
// see: public, or any non-public tier where the requester is on the granted
// list. The creator escape is deliberately not part of this filter; callers
// who need "creator always sees own page" union in ListPagesByCreator.
func (s *PostgresStore) ListPagesByPrefix(ctx context.Context, prefix, requesterID string, opts ListOptions) ([]*page.Page, error) {
	opts = opts.normalized()
	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM pages p
		JOIN users u ON u.id = p.creator_id
		WHERE p.path LIKE $1 || '%%'
		  AND p.redirect_to IS NULL
		  AND (p.grant_level = 1 OR EXISTS (
			SELECT 1 FROM page_granted_users g WHERE g.page_id = p.id AND g.user_id = $2
		  ))
		ORDER BY p.%s %s
		OFFSET $3 LIMIT $4
	`, pageColumns, opts.SortField, direction)

	return s.queryPages(ctx, "list pages by prefix", query, prefix, requesterID, opts.Offset, opts.Limit)
}

// ListPagesByCreator lists a creator's public pages only. Private pages stay
// out of listings even for the creator; single-page fetch is where the
// creator escape applies.
func (s *PostgresStore) ListPagesByCreator(ctx context.Context, creatorID string, opts ListOptions) ([]*page.Page, error) {
	opts = opts.normalized()
	query := fmt.Sprintf(`
		SELECT %s
		FROM pages p
		JOIN users u ON u.id = p.creator_id
		WHERE p.creator_id = $1 AND p.grant_level = 1 AND p.redirect_to IS NULL
		ORDER BY p.created_at DESC
		OFFSET $2 LIMIT $3
	`, pageColumns)

	return s.queryPages(ctx, "list pages by creator", query, creatorID, opts.Offset, opts.Limit)
}

// ListPagesByIDs batch-loads public pages by id.
func (s *PostgresStore) ListPagesByIDs(ctx context.Context, ids []string, opts ListOptions) ([]*page.Page, error) {
	if len(ids) == 0 {
		return []*page.Page{}, nil
	}
	opts = opts.normalized()
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids)+2)
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}
	args = append(args, opts.Offset, opts.Limit)
	query := fmt.Sprintf(`
		SELECT %s
		FROM pages p
		JOIN users u ON u.id = p.creator_id
		WHERE p.id IN (%s) AND p.grant_level = 1
		ORDER BY p.created_at DESC
		OFFSET $%d LIMIT $%d
	`, pageColumns, strings.Join(placeholders, ", "), len(ids)+1, len(ids)+2)

	return s.queryPages(ctx, "list pages by ids", query, args...)
}

// ListDescendants returns every active page strictly below the path,
// unfiltered by visibility. Rename uses it to enumerate a subtree; it must
// never feed a listing endpoint directly.
func (s *PostgresStore) ListDescendants(ctx context.Context, path string) ([]*page.Page, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM pages p
		JOIN users u ON u.id = p.creator_id
		WHERE p.path LIKE $1 || '/%%' AND p.redirect_to IS NULL
		ORDER BY p.path ASC
	`, pageColumns)
	return s.queryPages(ctx, "list descendants", query, strings.TrimRight(path, "/"))
}

func (s *PostgresStore) queryPages(ctx context.Context, op, query string, args ...any) ([]*page.Page, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]*page.Page, 0)
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

// CreatePage persists a new page together with its first revision and
// advances the pointer, all in one transaction. A race on the path surfaces
// as ErrPathTaken through the partial unique index.
func (s *PostgresStore) CreatePage(ctx context.Context, p *page.Page, rev *page.Revision) error {
	return s.withTx(ctx, "create page", func(tx *sql.Tx) error {
		if err := insertPage(ctx, tx, p); err != nil {
			return err
		}
		if err := insertRevision(ctx, tx, rev); err != nil {
			return err
		}
		advanced, err := advancePointer(ctx, tx, p.ID, rev.ID)
		if err != nil {
			return err
		}
		if !advanced {
			return fmt.Errorf("create page: pointer not set for fresh page %s", p.ID)
		}
		return nil
	})
}

// PushRevision appends a revision and advances the page pointer unless a
// newer revision already holds it. The revision record is committed either
// way; advanced tells the caller whether the pointer moved.
func (s *PostgresStore) PushRevision(ctx context.Context, rev *page.Revision) (advanced bool, err error) {
	err = s.withTx(ctx, "push revision", func(tx *sql.Tx) error {
		if err := insertRevision(ctx, tx, rev); err != nil {
			return err
		}
		advanced, err = advancePointer(ctx, tx, rev.PageID, rev.ID)
		return err
	})
	return advanced, err
}

func insertPage(ctx context.Context, tx *sql.Tx, p *page.Page) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pages (id, path, redirect_to, grant_level, creator_id, comment_count, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`, p.ID, p.Path, p.RedirectTo, int(p.Grant), p.Creator.ID(), p.CommentCount, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPathTaken
		}
		return fmt.Errorf("insert page: %w", err)
	}
	for _, userID := range p.GrantedUsers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO page_granted_users (page_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (page_id, user_id) DO NOTHING
		`, p.ID, userID); err != nil {
			return fmt.Errorf("insert granted user: %w", err)
		}
	}
	return nil
}

func insertRevision(ctx context.Context, tx *sql.Tx, rev *page.Revision) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO revisions (id, page_id, path, body, format, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rev.ID, rev.PageID, rev.Path, rev.Body, rev.Format, rev.Author.ID(), rev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

// advancePointer moves the page's current revision forward. The guard keeps
// the pointer at the revision with the latest creation time no matter the
// commit order of concurrent pushes: it never rolls back to an older one.
func advancePointer(ctx context.Context, tx *sql.Tx, pageID, revisionID string) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE pages p
		SET current_revision_id = $2, updated_at = NOW()
		WHERE p.id = $1
		  AND (p.current_revision_id IS NULL OR
			(SELECT head.created_at FROM revisions head WHERE head.id = p.current_revision_id)
				<= (SELECT r.created_at FROM revisions r WHERE r.id = $2))
	`, pageID, revisionID)
	if err != nil {
		return false, fmt.Errorf("advance revision pointer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance revision pointer rows: %w", err)
	}
	return affected > 0, nil
}

// RenamePages applies path changes, cascades every affected revision's stored
// path, and creates the requested redirect stubs — all or nothing. A subtree
// move passes one RenameOp per descendant.
func (s *PostgresStore) RenamePages(ctx context.Context, ops []RenameOp, stubs []StubPage) error {
	return s.withTx(ctx, "rename pages", func(tx *sql.Tx) error {
		for _, op := range ops {
			if _, err := tx.ExecContext(ctx, `
				UPDATE pages SET path = $2, updated_at = NOW() WHERE id = $1
			`, op.PageID, op.NewPath); err != nil {
				return fmt.Errorf("update page path: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE revisions SET path = $2 WHERE path = $1
			`, op.OldPath, op.NewPath); err != nil {
				return fmt.Errorf("cascade revision paths: %w", err)
			}
		}
		for _, stub := range stubs {
			if err := insertPage(ctx, tx, stub.Page); err != nil {
				return err
			}
			if err := insertRevision(ctx, tx, stub.Revision); err != nil {
				return err
			}
			if _, err := advancePointer(ctx, tx, stub.Page.ID, stub.Revision.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateGrant sets the tier and resets the granted-user list in one
// transaction. Public clears the list; any other tier replaces it outright.
func (s *PostgresStore) UpdateGrant(ctx context.Context, pageID string, grant page.Grant, grantedUserIDs []string) error {
	return s.withTx(ctx, "update grant", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pages SET grant_level = $2, updated_at = NOW() WHERE id = $1
		`, pageID, int(grant)); err != nil {
			return fmt.Errorf("update grant: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM page_granted_users WHERE page_id = $1
		`, pageID); err != nil {
			return fmt.Errorf("clear granted users: %w", err)
		}
		for _, userID := range grantedUserIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO page_granted_users (page_id, user_id) VALUES ($1, $2)
			`, pageID, userID); err != nil {
				return fmt.Errorf("insert granted user: %w", err)
			}
		}
		return nil
	})
}

// AddLiker adds the user to the liker set. changed is false when the user
// already liked the page; no row is written in that case.
func (s *PostgresStore) AddLiker(ctx context.Context, pageID, userID string) (changed bool, err error) {
	return s.toggleMembership(ctx, `
		INSERT INTO page_likers (page_id, user_id) VALUES ($1, $2)
		ON CONFLICT (page_id, user_id) DO NOTHING
	`, "add liker", pageID, userID)
}

// RemoveLiker removes the user from the liker set; changed is false when the
// membership was not there to begin with.
func (s *PostgresStore) RemoveLiker(ctx context.Context, pageID, userID string) (changed bool, err error) {
	return s.toggleMembership(ctx, `
		DELETE FROM page_likers WHERE page_id = $1 AND user_id = $2
	`, "remove liker", pageID, userID)
}

// AddSeenUser records the user as having seen the page. Add-only; never
// removed.
func (s *PostgresStore) AddSeenUser(ctx context.Context, pageID, userID string) (changed bool, err error) {
	return s.toggleMembership(ctx, `
		INSERT INTO page_seen_users (page_id, user_id) VALUES ($1, $2)
		ON CONFLICT (page_id, user_id) DO NOTHING
	`, "add seen user", pageID, userID)
}

func (s *PostgresStore) toggleMembership(ctx context.Context, query, op, pageID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, pageID, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return affected > 0, nil
}

// UpdateCommentCount sets the externally driven comment counter.
func (s *PostgresStore) UpdateCommentCount(ctx context.Context, pageID string, count int) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE pages SET comment_count = $2 WHERE id = $1
	`, pageID, count); err != nil {
		return fmt.Errorf("update comment count: %w", err)
	}
	return nil
}

// FindOrphanRevisions returns revisions newer than their page's current
// pointer target, or belonging to a page whose pointer was never set — the
// residue of a push whose page write failed.
func (s *PostgresStore) FindOrphanRevisions(ctx context.Context, limit int) ([]OrphanRevision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.page_id, r.path, r.created_at
		FROM revisions r
		JOIN pages p ON p.id = r.page_id
		LEFT JOIN revisions head ON head.id = p.current_revision_id
		WHERE p.current_revision_id IS NULL OR head.created_at < r.created_at
		ORDER BY r.created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("find orphan revisions: %w", err)
	}
	return scanOrphans(rows)
}

// FindStaleRevisionPaths returns revisions whose stored path matches no page
// — the residue of a rename whose cascade did not complete.
func (s *PostgresStore) FindStaleRevisionPaths(ctx context.Context, limit int) ([]OrphanRevision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.page_id, r.path, r.created_at
		FROM revisions r
		WHERE NOT EXISTS (SELECT 1 FROM pages p WHERE p.path = r.path)
		ORDER BY r.created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("find stale revision paths: %w", err)
	}
	return scanOrphans(rows)
}

func scanOrphans(rows *sql.Rows) ([]OrphanRevision, error) {
	defer rows.Close()
	items := make([]OrphanRevision, 0)
	for rows.Next() {
		var item OrphanRevision
		if err := rows.Scan(&item.ID, &item.PageID, &item.Path, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan orphan revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphan revisions: %w", err)
	}
	return items, nil
}
