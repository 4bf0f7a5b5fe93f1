package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trellis/internal/auth"
	"trellis/internal/authpw"
	"trellis/internal/identity"
	"trellis/internal/page"
	"trellis/internal/rbac"
	"trellis/internal/search"
	"trellis/internal/session"
	"trellis/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": status == "ready", "status": status, "checks": checks})
		return
	}

	// Auth routes, no session required
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"username":      sess.Username,
			"role":          sess.Role,
		})
		return
	}

	// Everything below accepts an optional session: anonymous readers see
	// public pages, mutations demand one.
	requester, sess := s.optionalRequester(r)

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.URL.Path == "/api/pages" {
		switch r.Method {
		case http.MethodGet:
			s.handleGetPage(w, r, requester)
			return
		case http.MethodPost:
			user, ok := s.requireAction(w, sess, rbac.ActionWrite)
			if !ok {
				return
			}
			s.handleCreatePage(w, r, user)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/pages/list" {
		s.handleListPages(w, r, requester)
		return
	}

	// /api/pages/{id}/...
	segments := splitPath(r.URL.Path)
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "pages" {
		pageID := segments[2]
		rest := segments[3:]

		if len(rest) == 0 && r.Method == http.MethodGet {
			p, err := s.service.FindByIDForUser(r.Context(), pageID, requester)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, pagePayload(p))
			return
		}

		if len(rest) == 1 {
			switch {
			case rest[0] == "revisions" && r.Method == http.MethodGet:
				items, err := s.service.ListRevisions(r.Context(), pageID, requester, listOptions(r))
				if err != nil {
					writeMappedError(w, err)
					return
				}
				payload := make([]map[string]any, 0, len(items))
				for _, rev := range items {
					payload = append(payload, revisionPayload(rev))
				}
				writeJSON(w, http.StatusOK, map[string]any{"revisions": payload})
				return

			case rest[0] == "revision" && r.Method == http.MethodPost:
				user, ok := s.requireAction(w, sess, rbac.ActionWrite)
				if !ok {
					return
				}
				s.handleEditPage(w, r, pageID, user)
				return

			case rest[0] == "rename" && r.Method == http.MethodPost:
				user, ok := s.requireAction(w, sess, rbac.ActionRename)
				if !ok {
					return
				}
				s.handleRenamePage(w, r, pageID, user)
				return

			case rest[0] == "grant" && r.Method == http.MethodPost:
				user, ok := s.requireAction(w, sess, rbac.ActionChangeGrant)
				if !ok {
					return
				}
				s.handleUpdateGrant(w, r, pageID, user)
				return

			case rest[0] == "like" && r.Method == http.MethodPost:
				s.handleToggleLike(w, r, pageID, sess, true)
				return

			case rest[0] == "unlike" && r.Method == http.MethodPost:
				s.handleToggleLike(w, r, pageID, sess, false)
				return

			case rest[0] == "seen" && r.Method == http.MethodPost:
				user, ok := s.requireUser(w, sess)
				if !ok {
					return
				}
				p, err := s.service.Seen(r.Context(), pageID, user)
				if err != nil {
					writeMappedError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, pagePayload(p))
				return

			case rest[0] == "comment-count" && r.Method == http.MethodPost:
				if _, ok := s.requireUser(w, sess); !ok {
					return
				}
				var body struct {
					Count int `json:"count"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				if err := s.service.UpdateCommentCount(r.Context(), pageID, body.Count); err != nil {
					writeMappedError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return

			case rest[0] == "export.pdf" && r.Method == http.MethodGet:
				s.handleExportPDF(w, r, pageID, requester)
				return

			case rest[0] == "attachments":
				s.handleAttachments(w, r, pageID, requester, sess)
				return
			}
		}

		if len(rest) == 2 && rest[0] == "attachments" {
			s.handleAttachment(w, r, pageID, rest[1], requester, sess)
			return
		}
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/reconcile" {
		if _, ok := s.requireAction(w, sess, rbac.ActionAdmin); !ok {
			return
		}
		limit := queryInt(r, "limit", 100)
		found, err := s.service.Reconcile(r.Context(), limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(found))
		for _, inc := range found {
			items = append(items, map[string]any{
				"kind":       inc.Kind,
				"revisionId": inc.RevisionID,
				"detail":     inc.Detail,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"inconsistencies": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// --- handlers ---

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	sess, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:    body.Email,
		Username: body.Username,
		Name:     body.Name,
		Password: body.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailTaken):
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		case errors.Is(err, authpw.ErrWeakPassword):
			writeError(w, http.StatusUnprocessableEntity, "WEAK_PASSWORD", err.Error(), nil)
		default:
			writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		}
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(sess))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	sess, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	svc := s.service.SearchService()
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
		return
	}
	q := search.Query{
		Text:             strings.TrimSpace(r.URL.Query().Get("q")),
		FilterType:       search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
		FilterPathPrefix: strings.TrimSpace(r.URL.Query().Get("prefix")),
		Limit:            queryInt(r, "limit", 20),
		Offset:           queryInt(r, "offset", 0),
	}
	writeJSON(w, http.StatusOK, svc.Search(q))
}

func (s *HTTPServer) handleGetPage(w http.ResponseWriter, r *http.Request, requester *identity.PublicUser) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "path is required", nil)
		return
	}
	revisionID := strings.TrimSpace(r.URL.Query().Get("revision"))

	p, err := s.service.FindByPath(r.Context(), path, requester, revisionID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagePayload(p))
}

func (s *HTTPServer) handleListPages(w http.ResponseWriter, r *http.Request, requester *identity.PublicUser) {
	opts := listOptions(r)
	ctx := r.Context()

	if creator := strings.TrimSpace(r.URL.Query().Get("creator")); creator != "" {
		items, err := s.service.ListByCreator(ctx, creator, opts)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pagesPayload(items))
		return
	}

	if rawIDs := strings.TrimSpace(r.URL.Query().Get("ids")); rawIDs != "" {
		items, err := s.service.ListByIDs(ctx, strings.Split(rawIDs, ","), opts)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pagesPayload(items))
		return
	}

	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	if prefix == "" {
		prefix = "/"
	}
	items, err := s.service.ListByPathPrefix(ctx, prefix, requester, opts)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagesPayload(items))
}

func (s *HTTPServer) handleCreatePage(w http.ResponseWriter, r *http.Request, user identity.PublicUser) {
	var body struct {
		Path   string `json:"path"`
		Body   string `json:"body"`
		Format string `json:"format"`
		Grant  int    `json:"grant"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "path is required", nil)
		return
	}

	p, err := s.service.Create(r.Context(), CreateInput{
		Path:   body.Path,
		Body:   body.Body,
		Format: body.Format,
		Grant:  page.Grant(body.Grant),
	}, user)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pagePayload(p))
}

func (s *HTTPServer) handleEditPage(w http.ResponseWriter, r *http.Request, pageID string, user identity.PublicUser) {
	var body struct {
		Body               string `json:"body"`
		Format             string `json:"format"`
		PreviousRevisionID string `json:"previousRevisionId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	p, err := s.service.Edit(r.Context(), pageID, body.Body, body.Format, body.PreviousRevisionID, user)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagePayload(p))
}

func (s *HTTPServer) handleRenamePage(w http.ResponseWriter, r *http.Request, pageID string, user identity.PublicUser) {
	var body struct {
		NewPath        string `json:"newPath"`
		CreateRedirect bool   `json:"createRedirect"`
		MoveSubtree    bool   `json:"moveSubtree"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.NewPath) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "newPath is required", nil)
		return
	}

	p, err := s.service.Rename(r.Context(), pageID, RenameInput{
		NewPath:        body.NewPath,
		CreateRedirect: body.CreateRedirect,
		MoveSubtree:    body.MoveSubtree,
	}, user)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagePayload(p))
}

func (s *HTTPServer) handleUpdateGrant(w http.ResponseWriter, r *http.Request, pageID string, user identity.PublicUser) {
	var body struct {
		Grant int `json:"grant"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	p, err := s.service.UpdateGrant(r.Context(), pageID, page.Grant(body.Grant), user)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pagePayload(p))
}

func (s *HTTPServer) handleToggleLike(w http.ResponseWriter, r *http.Request, pageID string, sess *Session, on bool) {
	user, ok := s.requireUser(w, sess)
	if !ok {
		return
	}

	var p *page.Page
	var err error
	if on {
		p, err = s.service.Like(r.Context(), pageID, user)
	} else {
		p, err = s.service.Unlike(r.Context(), pageID, user)
	}

	var noop *page.NoOpError
	if errors.As(err, &noop) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "changed": false})
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := pagePayload(p)
	payload["changed"] = true
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleExportPDF(w http.ResponseWriter, r *http.Request, pageID string, requester *identity.PublicUser) {
	if _, err := s.service.FindByIDForUser(r.Context(), pageID, requester); err != nil {
		writeMappedError(w, err)
		return
	}

	result, err := s.service.ExportPDF(r.Context(), pageID, strings.TrimSpace(r.URL.Query().Get("revision")))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, pageID string, requester *identity.PublicUser, sess *Session) {
	svc := s.service.Attachments()
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage is not configured", nil)
		return
	}
	if _, err := s.service.FindByIDForUser(r.Context(), pageID, requester); err != nil {
		writeMappedError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		items, err := svc.List(r.Context(), pageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": items})

	case http.MethodPost:
		user, ok := s.requireUser(w, sess)
		if !ok {
			return
		}
		fileName := strings.TrimSpace(r.URL.Query().Get("name"))
		if fileName == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
			return
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		var body io.Reader = r.Body
		defer r.Body.Close()
		att, err := svc.Upload(r.Context(), pageID, user.ID, fileName, contentType, r.ContentLength, body)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			return
		}
		writeJSON(w, http.StatusCreated, att)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAttachment(w http.ResponseWriter, r *http.Request, pageID, attachmentID string, requester *identity.PublicUser, sess *Session) {
	svc := s.service.Attachments()
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage is not configured", nil)
		return
	}
	if _, err := s.service.FindByIDForUser(r.Context(), pageID, requester); err != nil {
		writeMappedError(w, err)
		return
	}
	fileName := strings.TrimSpace(r.URL.Query().Get("name"))
	if fileName == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		url, err := svc.PresignedURL(r.Context(), pageID, attachmentID, fileName, 15*time.Minute)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})

	case http.MethodDelete:
		if _, ok := s.requireUser(w, sess); !ok {
			return
		}
		if err := svc.Delete(r.Context(), pageID, attachmentID, fileName); err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// --- session plumbing ---

func (s *HTTPServer) optionalRequester(r *http.Request) (*identity.PublicUser, *Session) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return nil, nil
	}
	return &identity.PublicUser{ID: sess.UserID, Username: sess.Username}, &sess
}

func (s *HTTPServer) requireUser(w http.ResponseWriter, sess *Session) (identity.PublicUser, bool) {
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return identity.PublicUser{}, false
	}
	return identity.PublicUser{ID: sess.UserID, Username: sess.Username}, true
}

func (s *HTTPServer) requireAction(w http.ResponseWriter, sess *Session, action rbac.Action) (identity.PublicUser, bool) {
	user, ok := s.requireUser(w, sess)
	if !ok {
		return identity.PublicUser{}, false
	}
	if !s.service.Can(sess.Role, action) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return identity.PublicUser{}, false
	}
	return user, true
}

// --- payloads ---

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"username":     sess.Username,
		"role":         sess.Role,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func pagePayload(p *page.Page) map[string]any {
	payload := map[string]any{
		"id":                p.ID,
		"path":              p.Path,
		"grant":             int(p.Grant),
		"grantedUsers":      nonNilStrings(p.GrantedUsers),
		"creatorId":         p.Creator.ID(),
		"likers":            nonNilStrings(p.Likers),
		"seenUsers":         nonNilStrings(p.SeenUsers),
		"commentCount":      p.CommentCount,
		"currentRevisionId": p.CurrentRevisionID,
		"createdAt":         p.CreatedAt,
		"updatedAt":         p.UpdatedAt,
		"isPortal":          p.IsPortal(),
	}
	if creator, ok := p.Creator.User(); ok {
		payload["creator"] = map[string]any{"id": creator.ID, "username": creator.Username, "name": creator.Name}
	}
	if p.RedirectTo != "" {
		payload["redirectTo"] = p.RedirectTo
	}
	if p.Revision != nil {
		payload["revision"] = revisionPayload(p.Revision)
	}
	return payload
}

func revisionPayload(rev *page.Revision) map[string]any {
	payload := map[string]any{
		"id":        rev.ID,
		"pageId":    rev.PageID,
		"path":      rev.Path,
		"body":      rev.Body,
		"format":    rev.Format,
		"authorId":  rev.Author.ID(),
		"createdAt": rev.CreatedAt,
	}
	if author, ok := rev.Author.User(); ok {
		payload["author"] = map[string]any{"id": author.ID, "username": author.Username, "name": author.Name}
	}
	return payload
}

func pagesPayload(items []*page.Page) map[string]any {
	pages := make([]map[string]any, 0, len(items))
	for _, p := range items {
		pages = append(pages, pagePayload(p))
	}
	return map[string]any{"pages": pages}
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func listOptions(r *http.Request) store.ListOptions {
	return store.ListOptions{
		SortField:  strings.TrimSpace(r.URL.Query().Get("sort")),
		Descending: r.URL.Query().Get("order") == "desc",
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", 0),
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

// --- middleware and helpers ---

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// mapError translates the domain error taxonomy to HTTP statuses. NotFound
// and AccessDenied keep their own statuses; the blur-for-anonymous decision
// belongs to clients, not this API.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var notFound *page.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, "NOT_FOUND", notFound.Error(), nil
	}
	var denied *page.AccessDeniedError
	if errors.As(err, &denied) {
		return http.StatusForbidden, "FORBIDDEN", denied.Error(), nil
	}
	var conflict *page.PathConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, "PATH_CONFLICT", conflict.Error(), nil
	}
	var invalidPath *page.InvalidPathError
	if errors.As(err, &invalidPath) {
		return http.StatusBadRequest, "INVALID_PATH", invalidPath.Error(), nil
	}
	var stale *page.StaleRevisionError
	if errors.As(err, &stale) {
		return http.StatusConflict, "STALE_REVISION", stale.Error(), map[string]any{
			"headRevisionId": stale.HeadRevisionID,
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrPathTaken) {
		return http.StatusConflict, "PATH_CONFLICT", "Path already taken", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
