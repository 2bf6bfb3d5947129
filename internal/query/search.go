package query

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/draagon/codemesh/internal/mesh"
)

// searchDoc is the indexed shape of one node.
type searchDoc struct {
	Name string `json:"name"`
	Type string `json:"type"`
	File string `json:"file"`
}

type searchIndex struct {
	index bleve.Index
}

func buildSearchIndex(nodes map[string]mesh.Node) (*searchIndex, error) {
	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}

	batch := index.NewBatch()
	for id, n := range nodes {
		doc := searchDoc{Name: n.Name, Type: string(n.Type), File: n.Location.File}
		if err := batch.Index(id, doc); err != nil {
			return nil, fmt.Errorf("indexing node %s: %w", id, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("committing search index: %w", err)
	}
	return &searchIndex{index: index}, nil
}

func (s *searchIndex) Close() error { return s.index.Close() }

// SearchHit is one search result with its relevance score.
type SearchHit struct {
	Node  mesh.Node `json:"node"`
	Score float64   `json:"score"`
}

// Search finds nodes whose name matches the query, by token match or name
// prefix, best first.
func (e *Engine) Search(q string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	match := bleve.NewMatchQuery(q)
	match.SetField("name")
	prefix := bleve.NewPrefixQuery(q)
	prefix.SetField("name")
	combined := bleve.NewDisjunctionQuery(match, prefix)

	req := bleve.NewSearchRequestOptions(combined, limit, 0, false)
	res, err := e.search.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		n, ok := e.nodes[hit.ID]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{Node: n, Score: hit.Score})
	}
	return hits, nil
}
