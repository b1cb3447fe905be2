package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/medialens/medialens/internal/config"
)

// CLIPServerClient implements Client for a self-hosted CLIP embedding
// server exposing a multimodal embeddings endpoint.
type CLIPServerClient struct {
	apiKey     string
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

// clipEmbeddingRequest is the request format for the CLIP server
type clipEmbeddingRequest struct {
	Input []clipInput `json:"input"`
	Model string      `json:"model"`
}

// clipInput represents an input item for embedding
type clipInput struct {
	Type  string `json:"type"` // "text" | "image"
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"` // base64 data URL
}

// clipEmbeddingResponse is the response from the CLIP server
type clipEmbeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
		Object    string    `json:"object"`
	} `json:"data"`
}

// NewCLIPServerClient creates a new CLIP server embedding client
func NewCLIPServerClient(cfg *config.EmbeddingConfig) (*CLIPServerClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("clip-server api_key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:8400/v1/embeddings/multimodal"
	}

	model := cfg.Model
	if model == "" {
		model = "clip-vit-large-patch14"
	}

	return &CLIPServerClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		model:      model,
		dimensions: cfg.Dimensions,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// EmbedImages generates embeddings for a batch of encoded images
func (c *CLIPServerClient) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}

	inputs := make([]clipInput, len(images))
	for i, img := range images {
		inputs[i] = clipInput{
			Type:  "image",
			Image: "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(img),
		}
	}

	return c.embed(ctx, inputs)
}

// EmbedText generates an embedding for a single text
func (c *CLIPServerClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.embed(ctx, []clipInput{{Type: "text", Text: text}})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

func (c *CLIPServerClient) embed(ctx context.Context, inputs []clipInput) ([][]float32, error) {
	req := clipEmbeddingRequest{
		Input: inputs,
		Model: c.model,
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

	var apiResp clipEmbeddingResponse
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

// Offload asks the server to move the model off the accelerator and drop
// its caches.
func (c *CLIPServerClient) Offload(ctx context.Context) error {
	offloadURL := strings.TrimSuffix(c.endpoint, "/") + "/offload"

	httpReq, err := http.NewRequestWithContext(ctx, "POST", offloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send offload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("offload returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Dimensions returns the dimension of the embeddings
func (c *CLIPServerClient) Dimensions() int {
	return c.dimensions
}
