// Package export renders a page revision to PDF via headless Chrome.
package export

import (
	"errors"
	"time"
)

// Request contains parameters for an export operation.
type Request struct {
	PageID     string
	RevisionID string // empty = current head
}

// PageInfo holds the page data needed for rendering.
type PageInfo struct {
	ID        string
	Path      string
	Body      string
	Author    string
	UpdatedAt time.Time
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates page content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
