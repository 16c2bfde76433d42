// Package index defines the searchable document store the pipeline writes
// to and queries: the document model and the Writer/Searcher contracts.
// Implementations live in subpackages: blevestore (embedded), client (HTTP, for
// processes that do not own the index) and server (exposes a Store over
// HTTP).
package index

import (
	"context"
	"time"
)

// DateLayout is the wire format of document dates, always in UTC.
const DateLayout = "2006-01-02 15:04:05"

// DefaultLimit caps a Query that does not set Limit.
const DefaultLimit = 100

// Document is one indexed content item. ID is assigned by the store when
// empty. Seq is the offset of the queue message the document came from, so
// index order can be checked against publish order.
type Document struct {
	ID     string    `json:"id,omitempty"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
	Author string    `json:"author"`
	Date   time.Time `json:"date"`
	User   string    `json:"user"`
	Seq    int64     `json:"seq"`
}

// Summary is the projection returned to query clients.
type Summary struct {
	Title string `json:"title"`
	Date  string `json:"date"`
}

// Summarize projects d for query responses.
func (d Document) Summarize() Summary {
	return Summary{Title: d.Title, Date: FormatDate(d.Date)}
}

// Query selects documents. An empty Term matches everything. Start and End
// bound Date inclusively; a nil bound is open. Results are ordered by
// relevance for a term query and by Seq otherwise.
type Query struct {
	Term  string     `json:"term,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	Limit int        `json:"limit"`
}

type Writer interface {
	// Index stores doc and returns its ID.
	Index(ctx context.Context, doc Document) (string, error)
	// Bulk stores docs in one batch; on error none are guaranteed visible.
	Bulk(ctx context.Context, docs []Document) error
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Document, error)
	Count(ctx context.Context) (uint64, error)
}

// Store is a complete index backend.
type Store interface {
	Writer
	Searcher
	Ping(ctx context.Context) error
	Close() error
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a DateLayout timestamp as UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
