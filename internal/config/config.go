package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Scanner   ScannerConfig   `yaml:"scanner,omitempty"`
	Sampler   SamplerConfig   `yaml:"sampler,omitempty"`
	Search    SearchConfig    `yaml:"search,omitempty"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "clip-server" | "jina"

	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`

	// Embedding parameters
	Dimensions int `yaml:"dimensions"` // vector width reported by the provider
	BatchSize  int `yaml:"batch_size"` // images per provider call
}

// DatabaseConfig holds vector database configuration
type DatabaseConfig struct {
	// Path to SQLite database file
	// If empty, uses ~/.medialens/data/<root-name>.db
	Path string `yaml:"path,omitempty"`

	// Path to the bleve filename index directory
	// If empty, uses <database path>.names
	TextIndexPath string `yaml:"text_index_path,omitempty"`
}

// ScannerConfig holds media discovery configuration
type ScannerConfig struct {
	VideoExtensions []string `yaml:"video_extensions,omitempty"`
	ImageExtensions []string `yaml:"image_extensions,omitempty"`
	Exclude         []string `yaml:"exclude,omitempty"`     // doublestar glob patterns
	IgnoreFile      string   `yaml:"ignore_file,omitempty"` // fingerprint set file name
}

// SamplerConfig holds video frame sampling configuration
type SamplerConfig struct {
	Method         string  `yaml:"method,omitempty"` // "scene_detect" | "fixed_interval"
	TargetFPS      float64 `yaml:"target_fps,omitempty"`
	SceneThreshold float64 `yaml:"scene_threshold,omitempty"`
	MinSceneLength int     `yaml:"min_scene_length,omitempty"` // frames
	MaxFrames      int     `yaml:"max_frames,omitempty"`       // per video
}

// SearchConfig holds search-specific configuration
type SearchConfig struct {
	DefaultTopK int     `yaml:"default_top_k,omitempty"`
	MinScore    float64 `yaml:"min_score,omitempty"`
}

// Load loads configuration from the default config file
// Default location: ~/.medialens/config/medialens.yaml
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".medialens", "config", "medialens.yaml")
	return LoadFromFile(configPath)
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			homeDir, _ := os.UserHomeDir()
			defaultPath := filepath.Join(homeDir, ".medialens", "config", "medialens.yaml")
			return nil, &ConfigNotFoundError{
				RequestedPath: path,
				DefaultPath:   defaultPath,
			}
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ConfigNotFoundError is returned when config file is not found
type ConfigNotFoundError struct {
	RequestedPath string
	DefaultPath   string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s\n\nDefault location: %s\n\nYou can:\n"+
		"  1. Create the config file at the default location\n"+
		"  2. Specify a custom path with -config flag\n"+
		"  3. Run 'medialens index' once to create a template config",
		e.RequestedPath, e.DefaultPath)
}

// IsConfigNotFound checks if error is config not found
func IsConfigNotFound(err error) bool {
	_, ok := err.(*ConfigNotFoundError)
	return ok
}

// expandPath expands ~ and $HOME to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "$HOME/") || path == "$HOME" {
		homeDir := os.Getenv("HOME")
		if homeDir == "" {
			var err error
			homeDir, err = os.UserHomeDir()
			if err != nil {
				return path
			}
		}
		if path == "$HOME" {
			return homeDir
		}
		return filepath.Join(homeDir, path[6:])
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "clip-server"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "clip-vit-large-patch14"
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("MEDIALENS_API_KEY")
	}

	if c.Database.Path != "" {
		c.Database.Path = expandPath(c.Database.Path)
	}
	if c.Database.TextIndexPath != "" {
		c.Database.TextIndexPath = expandPath(c.Database.TextIndexPath)
	}

	if len(c.Scanner.VideoExtensions) == 0 {
		c.Scanner.VideoExtensions = []string{
			".mp4", ".mov", ".mkv", ".avi", ".webm", ".flv", ".wmv", ".m4v",
		}
	}
	if len(c.Scanner.ImageExtensions) == 0 {
		c.Scanner.ImageExtensions = []string{
			".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tiff", ".tif", ".gif",
		}
	}
	if c.Scanner.IgnoreFile == "" {
		c.Scanner.IgnoreFile = ".medialens_ignore"
	}

	if c.Sampler.Method == "" {
		c.Sampler.Method = "scene_detect"
	}
	if c.Sampler.TargetFPS == 0 {
		c.Sampler.TargetFPS = 1.0
	}
	if c.Sampler.SceneThreshold == 0 {
		c.Sampler.SceneThreshold = 27.0
	}
	if c.Sampler.MinSceneLength == 0 {
		c.Sampler.MinSceneLength = 15
	}
	if c.Sampler.MaxFrames == 0 {
		c.Sampler.MaxFrames = 30
	}

	if c.Search.DefaultTopK == 0 {
		c.Search.DefaultTopK = 10
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "clip-server", "jina":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("%s provider requires api_key (or MEDIALENS_API_KEY)", c.Embedding.Provider)
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got: %d", c.Embedding.Dimensions)
	}

	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > 256 {
		return fmt.Errorf("batch_size must be between 1 and 256, got: %d", c.Embedding.BatchSize)
	}

	switch c.Sampler.Method {
	case "scene_detect", "fixed_interval":
	default:
		return fmt.Errorf("unsupported sampler method: %s", c.Sampler.Method)
	}

	if c.Sampler.TargetFPS <= 0 {
		return fmt.Errorf("target_fps must be positive, got: %g", c.Sampler.TargetFPS)
	}

	if c.Sampler.MaxFrames <= 0 {
		return fmt.Errorf("max_frames must be positive, got: %d", c.Sampler.MaxFrames)
	}

	return nil
}

const defaultConfigTemplate = `# medialens configuration
#
# Copy and edit this file for your environment.
# Default location: $HOME/.medialens/config/medialens.yaml

embedding:
  # Provider: "clip-server" (self-hosted CLIP endpoint) or "jina"
  provider: clip-server

  api_key: your-api-key
  endpoint: http://localhost:8400/v1/embeddings/multimodal
  model: clip-vit-large-patch14
  dimensions: 768
  batch_size: 32

sampler:
  # method: "scene_detect" or "fixed_interval"
  method: scene_detect
  target_fps: 1.0
  scene_threshold: 27.0
  min_scene_length: 15
  max_frames: 30

search:
  default_top_k: 10
  min_score: 0.0
`

// WriteDefaultTemplate creates a default configuration file if it does not exist.
// It returns true if a file was created, false if it already existed.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return false, fmt.Errorf("failed to write config template: %w", err)
	}

	return true, nil
}
