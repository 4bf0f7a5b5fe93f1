package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPage indexes a page (fire-and-forget to Meilisearch).
func (s *Service) IndexPage(p PageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPage(p); err != nil {
			log.Printf("search: index page %s: %v", p.ID, err)
		}
	}()
}

// IndexRevision indexes a revision body (fire-and-forget to Meilisearch).
func (s *Service) IndexRevision(r RevisionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRevision(r); err != nil {
			log.Printf("search: index revision %s: %v", r.ID, err)
		}
	}()
}

// DeletePage removes a page and its revisions from the search index
// (fire-and-forget). Used when a page leaves the public grant or turns into a
// redirect stub.
func (s *Service) DeletePage(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePage(id); err != nil {
			log.Printf("search: delete page %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes every public page and current revision from
// PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	pages, revisions, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexPages(pages); err != nil {
		log.Printf("search: reindex pages: %v", err)
	}
	if err := s.meili.IndexRevisions(revisions); err != nil {
		log.Printf("search: reindex revisions: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
