package export

import (
	"context"
	"fmt"
)

// DataStore defines the data access the exporter needs.
type DataStore interface {
	GetPageForExport(ctx context.Context, pageID, revisionID string) (PageInfo, error)
}

// Service provides page export functionality.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders the requested page revision to PDF.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.store.GetPageForExport(ctx, req.PageID, req.RevisionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	html, err := RenderPageHTML(TemplateData{
		Path:        info.Path,
		ContentHTML: markdownToHTML(info.Body),
		Author:      info.Author,
		UpdatedAt:   info.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return exportPDF(html, info.Path)
}
