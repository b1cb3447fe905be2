// Package textindex maintains a bleve keyword index over indexed file
// names so media can be found by name fragments as well as by meaning.
package textindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// NameDoc is the indexed document for one media item or frame.
type NameDoc struct {
	Name string `json:"name"` // base file name without extension
	Path string `json:"path"` // full file path
	Kind string `json:"kind"` // "image" | "video"
}

// NameHit is a single filename match.
type NameHit struct {
	ID    string
	Path  string
	Kind  string
	Score float64
}

// Index is a persistent bleve index over file names.
type Index struct {
	index bleve.Index
}

// Open opens the index at dir, creating it if needed.
func Open(dir string) (*Index, error) {
	index, err := bleve.Open(dir)
	if err == nil {
		return &Index{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create text index dir: %w", err)
	}
	index, err = bleve.New(dir, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

// IndexDoc adds or replaces the document under id.
func (x *Index) IndexDoc(id string, doc NameDoc) error {
	return x.index.Index(id, doc)
}

// Delete removes the document under id. Deleting an unknown id is a no-op.
func (x *Index) Delete(id string) error {
	return x.index.Delete(id)
}

// Search matches query against file names and paths, names weighted
// higher, and returns up to topK hits by descending bleve score.
func (x *Index) Search(query string, topK int) ([]NameHit, error) {
	if topK <= 0 {
		topK = 10
	}

	nameQuery := bleve.NewMatchQuery(query)
	nameQuery.SetField("name")
	nameQuery.SetBoost(2.0)
	pathQuery := bleve.NewMatchQuery(query)
	pathQuery.SetField("path")
	pathQuery.SetBoost(1.0)

	disjunction := bleve.NewDisjunctionQuery([]blevequery.Query{nameQuery, pathQuery}...)

	req := bleve.NewSearchRequestOptions(disjunction, topK, 0, false)
	req.Fields = []string{"path", "kind"}

	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search text index: %w", err)
	}

	hits := make([]NameHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		pathVal, _ := hit.Fields["path"].(string)
		kindVal, _ := hit.Fields["kind"].(string)
		hits = append(hits, NameHit{
			ID:    hit.ID,
			Path:  pathVal,
			Kind:  kindVal,
			Score: hit.Score,
		})
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (x *Index) Count() (uint64, error) {
	return x.index.DocCount()
}

// Close releases the underlying bleve index.
func (x *Index) Close() error {
	return x.index.Close()
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "standard"
	indexMapping.DefaultField = "name"

	docMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Store = true
	nameField.Index = true
	docMapping.AddFieldMappingsAt("name", nameField)

	pathField := bleve.NewTextFieldMapping()
	pathField.Store = true
	pathField.Index = true
	docMapping.AddFieldMappingsAt("path", pathField)

	kindField := bleve.NewTextFieldMapping()
	kindField.Store = true
	kindField.Index = true
	kindField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("kind", kindField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}
