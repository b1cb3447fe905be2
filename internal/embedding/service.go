package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/medialens/medialens/internal/config"
	"github.com/medialens/medialens/internal/runlog"
)

// Client is the interface for embedding provider clients. A provider turns
// images and text into fixed-length vectors and reports its width up front.
type Client interface {
	EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// Offload asks the provider to release accelerator state. Remote
	// providers may treat this as a no-op.
	Offload(ctx context.Context) error
	Dimensions() int
}

// Service orchestrates batched embedding generation over a provider,
// preserving input order and isolating per-item load failures. The
// provider sees at most one request at a time: a call arriving while
// another is in flight queues behind it, never runs concurrently.
type Service struct {
	cfg    *config.EmbeddingConfig
	client Client
	log    *runlog.Logger

	mu sync.Mutex // serializes all provider access
}

// NewService creates a new embedding service for the configured provider
func NewService(cfg *config.EmbeddingConfig, log *runlog.Logger) (*Service, error) {
	svc := &Service{cfg: cfg, log: log}

	var client Client
	var err error

	switch cfg.Provider {
	case "clip-server":
		client, err = NewCLIPServerClient(cfg)
	case "jina":
		client, err = NewJinaClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	svc.client = client
	return svc, nil
}

// NewServiceWithClient wires a service over an existing client.
func NewServiceWithClient(client Client, log *runlog.Logger) *Service {
	return &Service{client: client, log: log}
}

// EncodeImages embeds the images at the given paths in fixed-size batches.
// The result is aligned 1:1 with the input: a path that cannot be read
// occupies its slot with a zero vector of the provider's dimension, so
// callers must treat an all-zero vector as "encoding failed".
// Successfully embedded vectors are L2-normalized.
func (s *Service) EncodeImages(ctx context.Context, paths []string, batchSize int) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.client.Dimensions()
	results := make([][]float32, len(paths))

	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}

		if err := s.encodeImageBatch(ctx, paths[start:end], results[start:end], dim); err != nil {
			return nil, fmt.Errorf("failed to encode batch %d-%d: %w", start, end, err)
		}
	}

	return results, nil
}

// encodeImageBatch fills out with one vector per path. Unreadable paths get
// zero vectors; the provider is only called with the images that loaded.
func (s *Service) encodeImageBatch(ctx context.Context, paths []string, out [][]float32, dim int) error {
	images := make([][]byte, 0, len(paths))
	validIndices := make([]int, 0, len(paths))

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("image load failed, substituting zero vector", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		images = append(images, data)
		validIndices = append(validIndices, i)
	}

	for i := range out {
		out[i] = make([]float32, dim)
	}

	if len(images) == 0 {
		return nil
	}

	embeddings, err := s.client.EmbedImages(ctx, images)
	if err != nil {
		return err
	}
	if len(embeddings) != len(images) {
		return fmt.Errorf("provider returned %d embeddings for %d images", len(embeddings), len(images))
	}

	for j, emb := range embeddings {
		if len(emb) != dim {
			return fmt.Errorf("provider returned width %d, expected %d", len(emb), dim)
		}
		out[validIndices[j]] = Normalize(emb)
	}

	return nil
}

// EncodeText embeds a text query and returns an L2-normalized vector.
func (s *Service) EncodeText(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, fmt.Errorf("cannot embed empty query")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vector, err := s.client.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vector) != s.client.Dimensions() {
		return nil, fmt.Errorf("provider returned width %d, expected %d", len(vector), s.client.Dimensions())
	}

	return Normalize(vector), nil
}

// Offload releases provider compute state. Called once after an indexing
// pass completes, never mid-pass.
func (s *Service) Offload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Offload(ctx)
}

// Dimensions returns the provider's fixed vector width
func (s *Service) Dimensions() int {
	return s.client.Dimensions()
}

// Normalize returns v scaled to unit L2 length. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f / norm
	}
	return out
}

// IsZero reports whether every component of v is zero, the marker for a
// failed image load.
func IsZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// Similarity computes cosine similarity between two vectors
func Similarity(a, b []float32) float32 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("vector dimension mismatch: %d vs %d", len(a), len(b)))
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
