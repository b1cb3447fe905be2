package internal

import (
	"fmt"
	"os"

	"github.com/medialens/medialens/internal/config"
)

// LoadConfig reads configuration from the given path, or from the default
// location when path is empty.
func LoadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// PrintConfigExample writes an annotated configuration example to stderr.
func PrintConfigExample() {
	homeDir, _ := os.UserHomeDir()
	configPath := fmt.Sprintf("%s/.medialens/config/medialens.yaml", homeDir)

	fmt.Fprintf(os.Stderr, `Create a configuration file at %s:

# Embedding service configuration (required)
embedding:
  # Provider: "clip-server" (self-hosted) | "jina" (hosted API)
  provider: clip-server

  api_key: your-api-key
  endpoint: http://localhost:8400/v1/embeddings/multimodal
  model: clip-vit-large-patch14

  dimensions: 768               # Vector width of the model
  batch_size: 32                # Images per embedding request

# Frame sampling for videos
sampler:
  method: scene_detect          # or fixed_interval
  target_fps: 1.0               # Frames per second in fixed_interval mode
  scene_threshold: 27.0
  min_scene_length: 15
  max_frames: 30                # Cap per video

search:
  default_top_k: 10
  min_score: 0.0

# Vector database is stored per media directory under ~/.medialens/data/

Usage:
  1. Create the config file
  2. Navigate to your media directory: cd ~/Pictures
  3. Run: medialens index
  4. Search: medialens search "kids playing in the snow"
`, configPath)
}
