// Package lexical ranks candidates by full-text relevance. The engine
// falls back to it when no intent embedding can be obtained, so a
// provider outage degrades ranking quality instead of failing requests.
package lexical

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// ErrIndexClosed indicates an operation on a closed index.
var ErrIndexClosed = errors.New("lexical index closed")

// DefaultLimit bounds a ranking when the caller passes no limit.
const DefaultLimit = 10

// Document is one indexed candidate. Name and Description may be empty;
// the id itself still tokenizes (namespace and action split on ':').
type Document struct {
	ID          string
	Name        string
	Description string
}

// Match is one ranked hit. Relevance is the hit's score normalized by
// the best score in the result set, so the top hit always reads 1.0.
type Match struct {
	ID        string
	Relevance float64
}

// Index is an in-memory full-text index over candidate metadata. All
// methods are safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
	logger *slog.Logger
}

// NewIndex creates an empty in-memory index.
func NewIndex(logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	text := bleve.NewTextFieldMapping()
	text.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("id", text)
	doc.AddFieldMappingsAt("name", text)
	doc.AddFieldMappingsAt("description", text)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc

	index, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}
	return &Index{index: index, logger: logger}, nil
}

// Upsert indexes or reindexes one candidate.
func (x *Index) Upsert(d Document) error {
	if d.ID == "" {
		return errors.New("lexical document needs an id")
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return ErrIndexClosed
	}

	return x.index.Index(d.ID, map[string]string{
		"id":          d.ID,
		"name":        d.Name,
		"description": d.Description,
	})
}

// Remove drops a candidate from the index. Removing an unknown id is a
// no-op.
func (x *Index) Remove(id string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return ErrIndexClosed
	}
	return x.index.Delete(id)
}

// Count returns the number of indexed candidates.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0
	}

	n, err := x.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Rank returns candidates ordered by lexical relevance to the query.
// An empty query, an empty index, or a search failure all return nil;
// the caller's ranking proceeds without a lexical signal.
func (x *Index) Rank(query string, limit int) []Match {
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil
	}

	name := bleve.NewMatchQuery(query)
	name.SetField("name")
	name.SetBoost(2.0)

	id := bleve.NewMatchQuery(query)
	id.SetField("id")
	id.SetBoost(1.5)

	description := bleve.NewMatchQuery(query)
	description.SetField("description")

	disjunction := bleve.NewDisjunctionQuery()
	disjunction.AddQuery(name, id, description)

	req := bleve.NewSearchRequestOptions(disjunction, limit, 0, false)
	res, err := x.index.Search(req)
	if err != nil {
		x.logger.Warn("lexical search failed", "error", err)
		return nil
	}
	if len(res.Hits) == 0 || res.MaxScore <= 0 {
		return nil
	}

	matches := make([]Match, 0, len(res.Hits))
	for _, hit := range res.Hits {
		matches = append(matches, Match{
			ID:        hit.ID,
			Relevance: hit.Score / res.MaxScore,
		})
	}
	return matches
}

// Close releases the index. Further calls return ErrIndexClosed or
// empty results.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}
