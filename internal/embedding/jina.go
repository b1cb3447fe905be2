package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medialens/medialens/internal/config"
)

// JinaClient implements Client for Jina's hosted CLIP embedding API
type JinaClient struct {
	apiKey     string
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

// jinaEmbeddingRequest is the request format for the Jina API. Each input
// object carries either a text or a base64 image.
type jinaEmbeddingRequest struct {
	Model string      `json:"model"`
	Input []jinaInput `json:"input"`
}

type jinaInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// jinaEmbeddingResponse is the response from the Jina API
type jinaEmbeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
		Object    string    `json:"object"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewJinaClient creates a new Jina embedding client
func NewJinaClient(cfg *config.EmbeddingConfig) (*JinaClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("jina api_key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.jina.ai/v1/embeddings"
	}

	model := cfg.Model
	if model == "" {
		model = "jina-clip-v2"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1024
	}

	return &JinaClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// EmbedImages generates embeddings for a batch of encoded images
func (c *JinaClient) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}

	inputs := make([]jinaInput, len(images))
	for i, img := range images {
		inputs[i] = jinaInput{Image: base64.StdEncoding.EncodeToString(img)}
	}

	return c.embed(ctx, inputs)
}

// EmbedText generates an embedding for a single text
func (c *JinaClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.embed(ctx, []jinaInput{{Text: text}})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

func (c *JinaClient) embed(ctx context.Context, inputs []jinaInput) ([][]float32, error) {
	req := jinaEmbeddingRequest{
		Model: c.model,
		Input: inputs,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp jinaEmbeddingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(apiResp.Data) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(apiResp.Data))
	}

	embeddings := make([][]float32, len(inputs))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(inputs) {
			return nil, fmt.Errorf("invalid embedding index: %d", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}

	return embeddings, nil
}

// Offload is a no-op: the hosted API manages its own accelerators.
func (c *JinaClient) Offload(ctx context.Context) error {
	return nil
}

// Dimensions returns the dimension of the embeddings
func (c *JinaClient) Dimensions() int {
	return c.dimensions
}
