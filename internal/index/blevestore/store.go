// Package blevestore implements index.Store on an embedded bleve index.
package blevestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
)

var storedFields = []string{"title", "text", "author", "user", "date", "seq"}

// record is the shape handed to bleve; field names match the mapping.
type record struct {
	Title  string    `json:"title"`
	Text   string    `json:"text"`
	Author string    `json:"author"`
	User   string    `json:"user"`
	Date   time.Time `json:"date"`
	Seq    float64   `json:"seq"`
}

type Store struct {
	mu     sync.RWMutex
	idx    bleve.Index
	path   string
	closed bool
	logger *slog.Logger
}

// Open opens the index at path, creating it if needed. An empty path gives
// an in-memory index.
func Open(path string) (*Store, error) {
	m := newMapping()
	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening index %q: %w", path, err)
	}
	return &Store{
		idx:    idx,
		path:   path,
		logger: slog.Default().With("component", "bleve-store"),
	}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	date := bleve.NewDateTimeFieldMapping()
	seq := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("author", kw)
	doc.AddFieldMappingsAt("user", kw)
	doc.AddFieldMappingsAt("date", date)
	doc.AddFieldMappingsAt("seq", seq)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

func toRecord(d index.Document) record {
	return record{
		Title:  d.Title,
		Text:   d.Text,
		Author: d.Author,
		User:   d.User,
		Date:   d.Date.UTC(),
		Seq:    float64(d.Seq),
	}
}

func (s *Store) Index(ctx context.Context, doc index.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("%w: index is closed", apperrors.ErrIndexUnavailable)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	batch := s.idx.NewBatch()
	if err := batch.Index(doc.ID, toRecord(doc)); err != nil {
		return "", mappingError(doc.ID, err)
	}
	if err := s.idx.Batch(batch); err != nil {
		return "", writeError("indexing "+doc.ID, err)
	}
	return doc.ID, nil
}

func (s *Store) Bulk(ctx context.Context, docs []index.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: index is closed", apperrors.ErrIndexUnavailable)
	}
	batch := s.idx.NewBatch()
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if err := batch.Index(doc.ID, toRecord(doc)); err != nil {
			return mappingError(doc.ID, err)
		}
	}
	if err := s.idx.Batch(batch); err != nil {
		return writeError(fmt.Sprintf("executing batch of %d", len(docs)), err)
	}
	s.logger.Debug("batch indexed", "count", len(docs))
	return nil
}

// mappingError marks a document bleve refused to map. The same document
// will be refused again, so it is never worth retrying.
func mappingError(id string, err error) error {
	return apperrors.Permanent(fmt.Errorf("%w: mapping %s: %v", apperrors.ErrIndexWrite, id, err))
}

// writeError classifies a failed batch execution, which is transient.
func writeError(op string, err error) error {
	if errors.Is(err, bleve.ErrorIndexClosed) {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrIndexUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrIndexWrite, op, err)
}

func (s *Store) Search(ctx context.Context, q index.Query) ([]index.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: index is closed", apperrors.ErrIndexUnavailable)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = index.DefaultLimit
	}
	req := bleve.NewSearchRequestOptions(buildQuery(q), limit, 0, false)
	req.Fields = storedFields
	if q.Term == "" {
		req.SortBy([]string{"seq"})
	} else {
		req.SortBy([]string{"-_score", "seq"})
	}
	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", apperrors.ErrIndexUnavailable, err)
	}
	docs := make([]index.Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		docs = append(docs, fromFields(hit.ID, hit.Fields))
	}
	return docs, nil
}

func buildQuery(q index.Query) query.Query {
	var base query.Query
	if q.Term == "" {
		base = bleve.NewMatchAllQuery()
	} else {
		mq := bleve.NewMatchQuery(q.Term)
		mq.SetField("text")
		base = mq
	}
	if q.Start == nil && q.End == nil {
		return base
	}
	var start, end time.Time
	if q.Start != nil {
		start = q.Start.UTC()
	}
	if q.End != nil {
		end = q.End.UTC()
	}
	inclusive := true
	dr := bleve.NewDateRangeInclusiveQuery(start, end, &inclusive, &inclusive)
	dr.SetField("date")
	return bleve.NewConjunctionQuery(base, dr)
}

func fromFields(id string, fields map[string]interface{}) index.Document {
	doc := index.Document{ID: id}
	doc.Title, _ = fields["title"].(string)
	doc.Text, _ = fields["text"].(string)
	doc.Author, _ = fields["author"].(string)
	doc.User, _ = fields["user"].(string)
	if seq, ok := fields["seq"].(float64); ok {
		doc.Seq = int64(seq)
	}
	if raw, ok := fields["date"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			doc.Date = t.UTC()
		} else if t, err := index.ParseDate(raw); err == nil {
			doc.Date = t
		}
	}
	return doc
}

func (s *Store) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("%w: index is closed", apperrors.ErrIndexUnavailable)
	}
	return s.idx.DocCount()
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.Count(ctx)
	return err
}

// Close closes the index. Later calls fail with ErrIndexUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.idx.Close()
}

var _ index.Store = (*Store)(nil)
