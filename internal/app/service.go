// Package app is the page repository: the service that strings the domain
// rules, the store, and the collaborators (sessions, search, archive,
// attachments, export) together, plus the thin HTTP surface in front of it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"trellis/internal/archive"
	"trellis/internal/attachment"
	"trellis/internal/auth"
	"trellis/internal/authpw"
	"trellis/internal/config"
	"trellis/internal/export"
	"trellis/internal/identity"
	"trellis/internal/page"
	"trellis/internal/rbac"
	"trellis/internal/revision"
	"trellis/internal/search"
	"trellis/internal/store"
	"trellis/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the slice of the Postgres store the service uses. It is a
// superset of revision.Store so the revision chain can run over the same
// connection pool.
type dataStore interface {
	FindPageByPath(ctx context.Context, path string) (*page.Page, error)
	GetPage(ctx context.Context, pageID string) (*page.Page, error)
	PageExistsAtPath(ctx context.Context, path string) (bool, error)
	GetRevision(ctx context.Context, revisionID string) (*page.Revision, error)
	ListRevisionsByPage(ctx context.Context, pageID string, opts store.ListOptions) ([]*page.Revision, error)
	ListPagesByPrefix(ctx context.Context, prefix, requesterID string, opts store.ListOptions) ([]*page.Page, error)
	ListPagesByCreator(ctx context.Context, creatorID string, opts store.ListOptions) ([]*page.Page, error)
	ListPagesByIDs(ctx context.Context, ids []string, opts store.ListOptions) ([]*page.Page, error)
	ListDescendants(ctx context.Context, path string) ([]*page.Page, error)
	CreatePage(ctx context.Context, p *page.Page, rev *page.Revision) error
	PushRevision(ctx context.Context, rev *page.Revision) (advanced bool, err error)
	RenamePages(ctx context.Context, ops []store.RenameOp, stubs []store.StubPage) error
	UpdateGrant(ctx context.Context, pageID string, grant page.Grant, grantedUserIDs []string) error
	AddLiker(ctx context.Context, pageID, userID string) (changed bool, err error)
	RemoveLiker(ctx context.Context, pageID, userID string) (changed bool, err error)
	AddSeenUser(ctx context.Context, pageID, userID string) (changed bool, err error)
	UpdateCommentCount(ctx context.Context, pageID string, count int) error
	FindOrphanRevisions(ctx context.Context, limit int) ([]store.OrphanRevision, error)
	FindStaleRevisionPaths(ctx context.Context, limit int) ([]store.OrphanRevision, error)
	GetUserByID(ctx context.Context, userID string) (identity.User, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user identity.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (identity.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	chain    *revision.Chain
	sessions sessionStore
	accounts *authpw.Service

	// optional collaborators; nil disables the feature
	search   *search.Service
	archive  *archive.Service
	attach   *attachment.Service
	exporter *export.Service

	now func() time.Time
}

func New(cfg config.Config, ds dataStore, sessions sessionStore, accounts *authpw.Service, searchSvc *search.Service, archiveSvc *archive.Service, attachSvc *attachment.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    ds,
		chain:    revision.New(ds),
		sessions: sessions,
		accounts: accounts,
		search:   searchSvc,
		archive:  archiveSvc,
		attach:   attachSvc,
		now:      time.Now,
	}
	s.exporter = export.NewService(s)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Attachments() *attachment.Service {
	return s.attach
}

func (s *Service) SearchService() *search.Service {
	return s.search
}

// --- sessions ---

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// re-read so a role change lands in the next access token
	if fresh, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = fresh
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user identity.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      user.ID,
		Username: user.Username,
		Role:     user.Role,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- reads ---

// FindByPath loads the page at the path, applies the grant policy, and
// attaches the head revision. A non-empty revisionID overrides the attached
// revision while LatestRevisionID keeps the real head so stale-base detection
// still works. NotFound and AccessDenied stay distinct error kinds.
func (s *Service) FindByPath(ctx context.Context, path string, requester *identity.PublicUser, revisionID string) (*page.Page, error) {
	path = page.Normalize(path)
	p, err := s.store.FindPageByPath(ctx, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &page.NotFoundError{Path: path}
	}
	if err != nil {
		return nil, &page.PersistenceError{Op: "find page by path", Err: err}
	}
	if !p.IsVisibleTo(requester) {
		return nil, s.denied(p.Path, requester)
	}
	if err := s.attachRevision(ctx, p, revisionID); err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID is the raw internal fetch; no grant policy applied.
func (s *Service) FindByID(ctx context.Context, pageID string) (*page.Page, error) {
	p, err := s.store.GetPage(ctx, pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &page.NotFoundError{ID: pageID}
	}
	if err != nil {
		return nil, &page.PersistenceError{Op: "get page", Err: err}
	}
	return p, nil
}

// FindByIDForUser is FindByID with the grant policy applied.
func (s *Service) FindByIDForUser(ctx context.Context, pageID string, requester *identity.PublicUser) (*page.Page, error) {
	p, err := s.FindByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if !p.IsVisibleTo(requester) {
		return nil, s.denied(p.Path, requester)
	}
	if err := s.attachRevision(ctx, p, ""); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) attachRevision(ctx context.Context, p *page.Page, revisionID string) error {
	if p.CurrentRevisionID == "" && revisionID == "" {
		return nil
	}
	want := p.CurrentRevisionID
	if revisionID != "" {
		want = revisionID
	}
	rev, err := s.store.GetRevision(ctx, want)
	if errors.Is(err, sql.ErrNoRows) {
		return &page.NotFoundError{ID: want}
	}
	if err != nil {
		return &page.PersistenceError{Op: "get revision", Err: err}
	}
	if rev.PageID != p.ID {
		return &page.NotFoundError{ID: want}
	}
	p.LatestRevisionID = p.CurrentRevisionID
	p.Revision = rev
	return nil
}

func (s *Service) denied(path string, requester *identity.PublicUser) error {
	userID := ""
	if requester != nil {
		userID = requester.ID
	}
	return &page.AccessDeniedError{Path: path, UserID: userID}
}

// ListByPathPrefix lists visible active pages under the prefix. The
// visibility pre-filter runs server side; redirect stubs never appear.
func (s *Service) ListByPathPrefix(ctx context.Context, prefix string, requester *identity.PublicUser, opts store.ListOptions) ([]*page.Page, error) {
	requesterID := ""
	if requester != nil {
		requesterID = requester.ID
	}
	items, err := s.store.ListPagesByPrefix(ctx, page.Normalize(prefix), requesterID, opts)
	if err != nil {
		return nil, &page.PersistenceError{Op: "list pages by prefix", Err: err}
	}
	return items, nil
}

// ListByCreator lists a creator's public pages.
func (s *Service) ListByCreator(ctx context.Context, creatorID string, opts store.ListOptions) ([]*page.Page, error) {
	items, err := s.store.ListPagesByCreator(ctx, creatorID, opts)
	if err != nil {
		return nil, &page.PersistenceError{Op: "list pages by creator", Err: err}
	}
	return items, nil
}

// ListByIDs batch-loads public pages.
func (s *Service) ListByIDs(ctx context.Context, ids []string, opts store.ListOptions) ([]*page.Page, error) {
	items, err := s.store.ListPagesByIDs(ctx, ids, opts)
	if err != nil {
		return nil, &page.PersistenceError{Op: "list pages by ids", Err: err}
	}
	return items, nil
}

// ListRevisions returns a visible page's history, newest first.
func (s *Service) ListRevisions(ctx context.Context, pageID string, requester *identity.PublicUser, opts store.ListOptions) ([]*page.Revision, error) {
	if _, err := s.FindByIDForUser(ctx, pageID, requester); err != nil {
		return nil, err
	}
	items, err := s.store.ListRevisionsByPage(ctx, pageID, opts)
	if err != nil {
		return nil, &page.PersistenceError{Op: "list revisions", Err: err}
	}
	return items, nil
}

// --- writes ---

type CreateInput struct {
	Path   string
	Body   string
	Format string
	Grant  page.Grant
}

// Create makes a new page with its first revision in one transaction. Portal
// paths are forced public. The author lands on the granted list for every
// non-public tier; public pages keep the list empty.
func (s *Service) Create(ctx context.Context, input CreateInput, author identity.PublicUser) (*page.Page, error) {
	path := page.Normalize(input.Path)
	if !page.IsCreatableName(path) {
		return nil, &page.InvalidPathError{Path: path}
	}

	grant := input.Grant
	if grant == 0 {
		grant = page.GrantPublic
	}
	if !grant.Valid() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown grant %d", grant), nil)
	}
	if page.IsPortal(path) {
		grant = page.GrantPublic
	}

	// Fast-path occupancy check; the partial unique index catches the race.
	occupied, err := s.store.PageExistsAtPath(ctx, path)
	if err != nil {
		return nil, &page.PersistenceError{Op: "check path occupancy", Err: err}
	}
	if occupied {
		return nil, &page.PathConflictError{Path: path}
	}

	now := s.now().UTC()
	p := &page.Page{
		ID:        util.NewID("page"),
		Path:      path,
		Grant:     grant,
		Creator:   identity.ByUser(author),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if grant != page.GrantPublic {
		p.GrantedUsers = []string{author.ID}
	}

	rev := s.chain.Build(p, page.PrepareRevision(p, input.Body, input.Format), identity.ByUser(author))
	if err := s.store.CreatePage(ctx, p, rev); err != nil {
		if errors.Is(err, store.ErrPathTaken) {
			return nil, &page.PathConflictError{Path: path}
		}
		return nil, &page.PersistenceError{Op: "create page", Err: err}
	}
	p.CurrentRevisionID = rev.ID
	p.LatestRevisionID = rev.ID
	p.Revision = rev

	s.indexPage(p)
	s.archivePage(p, rev, author.Username, "Create "+p.Path)
	return p, nil
}

// Edit appends a revision to a visible page. The edit must be based on the
// current head; anything else is a stale base and is rejected before any
// write.
func (s *Service) Edit(ctx context.Context, pageID, body, format, previousRevisionID string, author identity.PublicUser) (*page.Page, error) {
	p, err := s.FindByIDForUser(ctx, pageID, &author)
	if err != nil {
		return nil, err
	}
	if p.IsRedirect() {
		return nil, domainError(http.StatusConflict, "REDIRECT_STUB", "redirect stubs cannot be edited", nil)
	}
	if !p.IsUpdatable(previousRevisionID) {
		return nil, &page.StaleRevisionError{
			PageID:         p.ID,
			BaseRevisionID: previousRevisionID,
			HeadRevisionID: p.CurrentRevisionID,
		}
	}

	rev, err := s.chain.Push(ctx, p, page.PrepareRevision(p, body, format), identity.ByUser(author))
	if err != nil {
		return nil, err
	}

	s.indexPage(p)
	s.archivePage(p, rev, author.Username, "Update "+p.Path)
	return p, nil
}

type RenameInput struct {
	NewPath        string
	CreateRedirect bool
	MoveSubtree    bool
}

// Rename moves a page (and optionally its whole subtree) to a new path. The
// page path updates, the revision path cascade, and any redirect stubs commit
// in one transaction; a concurrent occupant of the target path aborts the
// whole move.
func (s *Service) Rename(ctx context.Context, pageID string, input RenameInput, requester identity.PublicUser) (*page.Page, error) {
	p, err := s.FindByIDForUser(ctx, pageID, &requester)
	if err != nil {
		return nil, err
	}
	if p.IsRedirect() {
		return nil, domainError(http.StatusConflict, "REDIRECT_STUB", "redirect stubs cannot be renamed", nil)
	}

	newPath := page.Normalize(input.NewPath)
	if newPath == p.Path {
		return p, nil
	}
	if !page.IsCreatableName(newPath) {
		return nil, &page.InvalidPathError{Path: newPath}
	}
	occupied, err := s.store.PageExistsAtPath(ctx, newPath)
	if err != nil {
		return nil, &page.PersistenceError{Op: "check path occupancy", Err: err}
	}
	if occupied {
		return nil, &page.PathConflictError{Path: newPath}
	}

	ops := []store.RenameOp{{PageID: p.ID, OldPath: p.Path, NewPath: newPath}}
	moved := []*page.Page{p}
	if input.MoveSubtree {
		descendants, err := s.store.ListDescendants(ctx, p.Path)
		if err != nil {
			return nil, &page.PersistenceError{Op: "list descendants", Err: err}
		}
		oldPrefix := strings.TrimRight(p.Path, "/")
		newPrefix := strings.TrimRight(newPath, "/")
		for _, d := range descendants {
			ops = append(ops, store.RenameOp{
				PageID:  d.ID,
				OldPath: d.Path,
				NewPath: newPrefix + strings.TrimPrefix(d.Path, oldPrefix),
			})
			moved = append(moved, d)
		}
	}

	var stubs []store.StubPage
	if input.CreateRedirect {
		for i, op := range ops {
			stubs = append(stubs, s.buildRedirectStub(moved[i], op, requester))
		}
	}

	if err := s.store.RenamePages(ctx, ops, stubs); err != nil {
		if errors.Is(err, store.ErrPathTaken) {
			return nil, &page.PathConflictError{Path: newPath}
		}
		return nil, &page.PersistenceError{Op: "rename pages", Err: err}
	}

	for i, op := range ops {
		moved[i].Path = op.NewPath
		s.reindexRenamed(moved[i])
	}
	return p, nil
}

// buildRedirectStub leaves a stub at the old path pointing at the new one.
// The stub inherits the source page's grant so a private subtree does not
// leak its paths through redirects.
func (s *Service) buildRedirectStub(src *page.Page, op store.RenameOp, requester identity.PublicUser) store.StubPage {
	now := s.now().UTC()
	stub := &page.Page{
		ID:           util.NewID("page"),
		Path:         op.OldPath,
		RedirectTo:   op.NewPath,
		Grant:        src.Grant,
		GrantedUsers: append([]string(nil), src.GrantedUsers...),
		Creator:      identity.ByUser(requester),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	rev := s.chain.Build(stub, page.RevisionDraft{
		Body:   "redirect " + op.NewPath,
		Format: "markdown",
	}, identity.ByUser(requester))
	return store.StubPage{Page: stub, Revision: rev}
}

// UpdateGrant moves the page to a new tier. Public clears the granted list;
// every other tier resets it to just the granting user. Portal pages stay
// public.
func (s *Service) UpdateGrant(ctx context.Context, pageID string, grant page.Grant, requester identity.PublicUser) (*page.Page, error) {
	if !grant.Valid() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown grant %d", grant), nil)
	}
	p, err := s.FindByIDForUser(ctx, pageID, &requester)
	if err != nil {
		return nil, err
	}
	if p.IsPortal() {
		grant = page.GrantPublic
	}

	granted := []string{}
	if grant != page.GrantPublic {
		granted = []string{requester.ID}
	}
	if err := s.store.UpdateGrant(ctx, p.ID, grant, granted); err != nil {
		return nil, &page.PersistenceError{Op: "update grant", Err: err}
	}
	p.Grant = grant
	p.GrantedUsers = granted

	if p.IsPublic() {
		s.indexPage(p)
	} else if s.search != nil {
		s.search.DeletePage(p.ID)
	}
	return p, nil
}

// Like adds the requester to the page's liker set. A like that changes
// nothing surfaces as NoOpError so the caller can skip the refresh.
func (s *Service) Like(ctx context.Context, pageID string, requester identity.PublicUser) (*page.Page, error) {
	return s.toggleLiker(ctx, pageID, requester, true)
}

// Unlike removes the requester from the liker set; same no-op contract.
func (s *Service) Unlike(ctx context.Context, pageID string, requester identity.PublicUser) (*page.Page, error) {
	return s.toggleLiker(ctx, pageID, requester, false)
}

func (s *Service) toggleLiker(ctx context.Context, pageID string, requester identity.PublicUser, on bool) (*page.Page, error) {
	p, err := s.FindByIDForUser(ctx, pageID, &requester)
	if err != nil {
		return nil, err
	}

	op := "like"
	toggle := s.store.AddLiker
	if !on {
		op = "unlike"
		toggle = s.store.RemoveLiker
	}
	changed, err := toggle(ctx, p.ID, requester.ID)
	if err != nil {
		return nil, &page.PersistenceError{Op: op, Err: err}
	}
	if !changed {
		return nil, &page.NoOpError{Op: op, PageID: p.ID, UserID: requester.ID}
	}

	if on {
		p.Likers = append(p.Likers, requester.ID)
	} else {
		p.Likers = remove(p.Likers, requester.ID)
	}
	return p, nil
}

// Seen records the requester as having seen the page. Already-seen is a
// silent no-op; the page comes back either way.
func (s *Service) Seen(ctx context.Context, pageID string, requester identity.PublicUser) (*page.Page, error) {
	p, err := s.FindByIDForUser(ctx, pageID, &requester)
	if err != nil {
		return nil, err
	}
	changed, err := s.store.AddSeenUser(ctx, p.ID, requester.ID)
	if err != nil {
		return nil, &page.PersistenceError{Op: "mark seen", Err: err}
	}
	if changed {
		p.SeenUsers = append(p.SeenUsers, requester.ID)
	}
	return p, nil
}

// UpdateCommentCount sets the externally driven comment counter.
func (s *Service) UpdateCommentCount(ctx context.Context, pageID string, count int) error {
	if count < 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment count must be non-negative", nil)
	}
	if err := s.store.UpdateCommentCount(ctx, pageID, count); err != nil {
		return &page.PersistenceError{Op: "update comment count", Err: err}
	}
	return nil
}

// Reconcile runs the revision chain's maintenance pass.
func (s *Service) Reconcile(ctx context.Context, limit int) ([]*page.InconsistencyError, error) {
	return s.chain.Reconcile(ctx, limit)
}

// --- export ---

// GetPageForExport implements export.DataStore. No grant check here; the HTTP
// layer resolves the page through FindByIDForUser first.
func (s *Service) GetPageForExport(ctx context.Context, pageID, revisionID string) (export.PageInfo, error) {
	p, err := s.FindByID(ctx, pageID)
	if err != nil {
		return export.PageInfo{}, err
	}
	if err := s.attachRevision(ctx, p, revisionID); err != nil {
		return export.PageInfo{}, err
	}

	info := export.PageInfo{ID: p.ID, Path: p.Path, UpdatedAt: p.UpdatedAt}
	if p.Revision != nil {
		info.Body = p.Revision.Body
		info.UpdatedAt = p.Revision.CreatedAt
		if author, ok := p.Revision.Author.User(); ok {
			info.Author = author.Username
		}
	}
	return info, nil
}

func (s *Service) ExportPDF(ctx context.Context, pageID, revisionID string) (*export.Result, error) {
	return s.exporter.Export(ctx, export.Request{PageID: pageID, RevisionID: revisionID})
}

// --- fire-and-forget collaborators ---

// indexPage pushes a page and its head revision into search. Only public,
// non-redirect pages ever reach the index.
func (s *Service) indexPage(p *page.Page) {
	if s.search == nil {
		return
	}
	if !p.IsPublic() || p.IsRedirect() {
		return
	}
	s.search.IndexPage(search.PageRecord{ID: p.ID, Path: p.Path})
	if p.Revision != nil {
		s.search.IndexRevision(search.RevisionRecord{
			ID:     p.Revision.ID,
			Body:   p.Revision.Body,
			Path:   p.Path,
			PageID: p.ID,
		})
	}
}

func (s *Service) reindexRenamed(p *page.Page) {
	if s.search == nil {
		return
	}
	s.search.DeletePage(p.ID)
	s.indexPage(p)
}

func (s *Service) archivePage(p *page.Page, rev *page.Revision, author, message string) {
	if s.archive == nil {
		return
	}
	pageID, body := p.ID, rev.Body
	go func() {
		if err := s.archive.EnsurePageRepo(pageID, body, author); err != nil {
			log.Printf("archive: ensure repo for %s: %v", pageID, err)
			return
		}
		if _, err := s.archive.CommitRevision(pageID, body, author, message); err != nil {
			log.Printf("archive: commit for %s: %v", pageID, err)
		}
	}()
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
