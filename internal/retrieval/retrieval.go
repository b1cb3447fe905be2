// Package retrieval answers search requests over the vector store and the
// filename index.
package retrieval

import (
	"context"
	"fmt"
	"os"

	"github.com/medialens/medialens/internal/embedding"
	"github.com/medialens/medialens/internal/store"
	"github.com/medialens/medialens/internal/textindex"
)

// Engine runs text, image and item-similarity queries. names may be nil
// when no filename index exists yet; SearchByName then fails.
type Engine struct {
	store   *store.VectorStore
	service *embedding.Service
	names   *textindex.Index
}

// New creates a retrieval engine over the given backends.
func New(vectors *store.VectorStore, service *embedding.Service, names *textindex.Index) *Engine {
	return &Engine{store: vectors, service: service, names: names}
}

// SearchByText embeds the query and returns up to topK matches with
// similarity at or above minScore, most similar first. kind narrows
// results to "image" or "video" records; empty means both.
func (e *Engine) SearchByText(ctx context.Context, query string, topK int, kind string, minScore float64) ([]store.SearchResult, error) {
	vector, err := e.service.EncodeText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := e.store.Query(vector, topK, kindFilter(kind))
	if err != nil {
		return nil, err
	}

	return applyMinScore(results, minScore), nil
}

// SearchByImage embeds a reference image and returns its nearest stored
// records. The image must be readable; there is no zero-vector fallback
// on the query side.
func (e *Engine) SearchByImage(ctx context.Context, imagePath string, topK int, kind string, minScore float64) ([]store.SearchResult, error) {
	vectors, err := e.service.EncodeImages(ctx, []string{imagePath}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to embed image: %w", err)
	}
	if len(vectors) == 0 || embedding.IsZero(vectors[0]) {
		return nil, fmt.Errorf("cannot read query image %s", imagePath)
	}

	results, err := e.store.Query(vectors[0], topK, kindFilter(kind))
	if err != nil {
		return nil, err
	}

	return applyMinScore(results, minScore), nil
}

// SearchMultimodal blends a text description and a reference image into
// one query. textWeight in [0, 1] is the text embedding's share; the
// image gets the remainder. The blend is re-normalized before the store
// query so scores stay comparable with single-mode searches.
func (e *Engine) SearchMultimodal(ctx context.Context, query, imagePath string, textWeight float64, topK int, kind string, minScore float64) ([]store.SearchResult, error) {
	if textWeight < 0 || textWeight > 1 {
		return nil, fmt.Errorf("text weight must be between 0 and 1, got %g", textWeight)
	}

	textVector, err := e.service.EncodeText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	imageVectors, err := e.service.EncodeImages(ctx, []string{imagePath}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to embed image: %w", err)
	}
	if len(imageVectors) == 0 || embedding.IsZero(imageVectors[0]) {
		return nil, fmt.Errorf("cannot read query image %s", imagePath)
	}

	combined := make([]float32, len(textVector))
	for i := range combined {
		combined[i] = float32(textWeight)*textVector[i] + float32(1-textWeight)*imageVectors[0][i]
	}
	combined = embedding.Normalize(combined)

	results, err := e.store.Query(combined, topK, kindFilter(kind))
	if err != nil {
		return nil, err
	}

	return applyMinScore(results, minScore), nil
}

// SearchByItem returns the topK records most similar to the stored record
// with the given id, excluding the record itself. The store is asked for
// one extra result because the item is its own best match.
func (e *Engine) SearchByItem(id string, topK int) ([]store.SearchResult, error) {
	vector, _, err := e.store.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", id, err)
	}

	results, err := e.store.Query(vector, topK+1, nil)
	if err != nil {
		return nil, err
	}

	filtered := make([]store.SearchResult, 0, topK)
	for _, result := range results {
		if result.ID == id {
			continue
		}
		filtered = append(filtered, result)
		if len(filtered) == topK {
			break
		}
	}

	return filtered, nil
}

// SearchByName matches query against indexed file names via the keyword
// index. Scores are bleve relevance scores, not cosine similarities.
func (e *Engine) SearchByName(query string, topK int) ([]store.SearchResult, error) {
	if e.names == nil {
		return nil, fmt.Errorf("filename index not available")
	}

	hits, err := e.names.Search(query, topK)
	if err != nil {
		return nil, err
	}

	results := make([]store.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, store.SearchResult{
			ID:       hit.ID,
			FilePath: hit.Path,
			Score:    float32(hit.Score),
			Metadata: store.Metadata{FilePath: hit.Path, Kind: hit.Kind},
		})
	}
	return results, nil
}

// FormatResult renders one result for terminal output, marking records
// whose file no longer exists on disk.
func FormatResult(rank int, result store.SearchResult) string {
	marker := ""
	if _, err := os.Stat(result.FilePath); err != nil {
		marker = " [missing]"
	}

	line := fmt.Sprintf("%2d. %.4f  %s%s", rank, result.Score, result.FilePath, marker)
	if result.Metadata.Kind == "video" {
		line += fmt.Sprintf("  (frame %d @ %.1fs)", result.Metadata.FrameIndex, result.Metadata.Timestamp)
	}
	return line
}

func kindFilter(kind string) store.Filter {
	if kind == "" {
		return nil
	}
	return store.Filter{"kind": kind}
}

func applyMinScore(results []store.SearchResult, minScore float64) []store.SearchResult {
	if minScore <= 0 {
		return results
	}
	filtered := results[:0]
	for _, result := range results {
		if float64(result.Score) >= minScore {
			filtered = append(filtered, result)
		}
	}
	return filtered
}
