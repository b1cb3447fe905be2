package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "medialens.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFileDefaults(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: clip-server
  api_key: test-key
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("default dimensions = %d, want 768", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.BatchSize != 32 {
		t.Errorf("default batch_size = %d, want 32", cfg.Embedding.BatchSize)
	}
	if cfg.Sampler.Method != "scene_detect" {
		t.Errorf("default sampler method = %s, want scene_detect", cfg.Sampler.Method)
	}
	if cfg.Sampler.MaxFrames != 30 {
		t.Errorf("default max_frames = %d, want 30", cfg.Sampler.MaxFrames)
	}
	if cfg.Search.DefaultTopK != 10 {
		t.Errorf("default top_k = %d, want 10", cfg.Search.DefaultTopK)
	}
	if cfg.Scanner.IgnoreFile != ".medialens_ignore" {
		t.Errorf("default ignore file = %s", cfg.Scanner.IgnoreFile)
	}
	if len(cfg.Scanner.VideoExtensions) == 0 || len(cfg.Scanner.ImageExtensions) == 0 {
		t.Error("default extension lists are empty")
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !IsConfigNotFound(err) {
		t.Fatalf("error = %v, want ConfigNotFoundError", err)
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("MEDIALENS_API_KEY", "env-key")

	path := writeConfig(t, `
embedding:
  provider: jina
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("api key = %s, want env-key", cfg.Embedding.APIKey)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown provider",
			yaml: `
embedding:
  provider: bedrock
  api_key: k
`,
		},
		{
			name: "missing api key",
			yaml: `
embedding:
  provider: clip-server
`,
		},
		{
			name: "bad batch size",
			yaml: `
embedding:
  provider: clip-server
  api_key: k
  batch_size: 1000
`,
		},
		{
			name: "bad sampler method",
			yaml: `
embedding:
  provider: clip-server
  api_key: k
sampler:
  method: every_other_frame
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "missing api key" {
				t.Setenv("MEDIALENS_API_KEY", "")
			}
			path := writeConfig(t, tt.yaml)
			if _, err := LoadFromFile(path); err == nil {
				t.Error("LoadFromFile() succeeded, want validation error")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{in: "~/data/db.sqlite", want: filepath.Join(home, "data", "db.sqlite")},
		{in: "~", want: home},
		{in: "/absolute/path", want: "/absolute/path"},
		{in: "relative/path", want: "relative/path"},
	}

	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteDefaultTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "medialens.yaml")

	created, err := WriteDefaultTemplate(path)
	if err != nil {
		t.Fatalf("WriteDefaultTemplate() error = %v", err)
	}
	if !created {
		t.Fatal("WriteDefaultTemplate() reported not created for a fresh path")
	}

	// second call must not overwrite
	created, err = WriteDefaultTemplate(path)
	if err != nil {
		t.Fatalf("second WriteDefaultTemplate() error = %v", err)
	}
	if created {
		t.Error("WriteDefaultTemplate() re-created an existing file")
	}

	// template parses once the api key placeholder is in place
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if cfg.Embedding.Provider != "clip-server" {
		t.Errorf("template provider = %s, want clip-server", cfg.Embedding.Provider)
	}
}
