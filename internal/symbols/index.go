// Package symbols keeps an in-memory full-text index over the symbol
// directory for offline autocomplete.
package symbols

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Suggestion is one autocomplete hit.
type Suggestion struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
}

type entry struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Index is a rebuildable symbol/name index. The zero value is not usable;
// call New.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
	size  int
}

// New returns an empty index.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating symbol index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Store = true
	text.Index = true
	doc.AddFieldMappingsAt("symbol", text)
	doc.AddFieldMappingsAt("name", text)

	indexMapping.AddDocumentMapping("_default", doc)
	return indexMapping
}

// Rebuild replaces the index contents with dir (symbol→name). The old index
// keeps serving until the new one is complete.
func (x *Index) Rebuild(dir map[string]string) error {
	next, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("creating symbol index: %w", err)
	}
	batch := next.NewBatch()
	n := 0
	for sym, name := range dir {
		if strings.TrimSpace(sym) == "" {
			continue
		}
		if err := batch.Index(sym, entry{Symbol: sym, Name: name}); err != nil {
			next.Close()
			return fmt.Errorf("indexing %s: %w", sym, err)
		}
		n++
	}
	if err := next.Batch(batch); err != nil {
		next.Close()
		return fmt.Errorf("executing index batch: %w", err)
	}

	x.mu.Lock()
	old := x.index
	x.index = next
	x.size = n
	x.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Len returns the number of indexed symbols.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.size
}

// Suggest returns up to limit entries matching q: exact and prefix hits on
// the symbol rank above name matches. A blank query returns nothing.
func (x *Index) Suggest(q string, limit int) ([]Suggestion, error) {
	q = strings.TrimSpace(q)
	if q == "" || limit <= 0 {
		return nil, nil
	}
	lower := strings.ToLower(q)

	exact := bleve.NewTermQuery(lower)
	exact.SetField("symbol")
	exact.SetBoost(10.0)

	prefix := bleve.NewPrefixQuery(lower)
	prefix.SetField("symbol")
	prefix.SetBoost(5.0)

	name := bleve.NewMatchQuery(q)
	name.SetField("name")
	name.SetBoost(3.0)

	namePrefix := bleve.NewPrefixQuery(lower)
	namePrefix.SetField("name")
	namePrefix.SetBoost(2.0)

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(exact, prefix, name, namePrefix))
	req.Fields = []string{"symbol", "name"}
	req.Size = limit

	x.mu.RLock()
	res, err := x.index.Search(req)
	x.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("searching symbols: %w", err)
	}

	out := make([]Suggestion, 0, len(res.Hits))
	for _, hit := range res.Hits {
		s := Suggestion{Symbol: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["name"].(string); ok {
			s.Name = v
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// Close releases the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.index == nil {
		return nil
	}
	err := x.index.Close()
	x.index = nil
	return err
}
