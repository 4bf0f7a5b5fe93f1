package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPage     ResultType = "page"
	ResultRevision ResultType = "revision"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Path    string     `json:"path"`
	Snippet string     `json:"snippet"`
	PageID  string     `json:"pageId"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterPathPrefix string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPage(p PageRecord) error
	IndexRevision(r RevisionRecord) error
	DeletePage(id string) error
}

// PageRecord is the data we index for a page. Only public, non-redirect pages
// are ever indexed; everything else is invisible to search.
type PageRecord struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// RevisionRecord is the data we index for a revision body.
type RevisionRecord struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	Path   string `json:"path"`
	PageID string `json:"pageId"`
}
