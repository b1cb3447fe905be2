package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/medialens/medialens/internal/config"
)

func testConfig() config.ScannerConfig {
	return config.ScannerConfig{
		VideoExtensions: []string{".mp4", ".mov"},
		ImageExtensions: []string{".jpg", ".png"},
		IgnoreFile:      ".medialens_ignore",
	}
}

func newTestScanner(t *testing.T, root string, cfg config.ScannerConfig) *Scanner {
	t.Helper()
	s, err := New(root, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestScanFindsMediaByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "photo.JPG"), "jpeg-bytes")
	writeFile(t, filepath.Join(root, "clip.mp4"), "mp4-bytes")
	writeFile(t, filepath.Join(root, "notes.txt"), "not media")
	writeFile(t, filepath.Join(root, "sub", "deep.png"), "png-bytes")

	s := newTestScanner(t, root, testConfig())
	result, err := s.Scan(false)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(result.Items) != 3 {
		t.Fatalf("found %d items, want 3: %+v", len(result.Items), result.Items)
	}

	kinds := map[string]Kind{}
	for _, item := range result.Items {
		kinds[filepath.Base(item.Path)] = item.Kind
	}
	if kinds["photo.JPG"] != KindImage {
		t.Errorf("photo.JPG kind = %s, want image", kinds["photo.JPG"])
	}
	if kinds["clip.mp4"] != KindVideo {
		t.Errorf("clip.mp4 kind = %s, want video", kinds["clip.mp4"])
	}
}

func TestScanSkipsHiddenDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".cache", "thumb.jpg"), "hidden")
	writeFile(t, filepath.Join(root, "visible.jpg"), "shown")

	s := newTestScanner(t, root, testConfig())
	result, err := s.Scan(false)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(result.Items) != 1 || filepath.Base(result.Items[0].Path) != "visible.jpg" {
		t.Errorf("items = %+v, want only visible.jpg", result.Items)
	}
}

func TestScanExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.jpg"), "keep")
	writeFile(t, filepath.Join(root, "raw", "drop.jpg"), "drop")
	writeFile(t, filepath.Join(root, "thumb_small.jpg"), "drop too")

	cfg := testConfig()
	cfg.Exclude = []string{"raw/**", "thumb_*"}

	s := newTestScanner(t, root, cfg)
	result, err := s.Scan(false)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(result.Items) != 1 || filepath.Base(result.Items[0].Path) != "keep.jpg" {
		t.Errorf("items = %+v, want only keep.jpg", result.Items)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	root := t.TempDir()
	pathA := filepath.Join(root, "a.jpg")
	pathB := filepath.Join(root, "b.jpg")
	writeFile(t, pathA, "same content")
	writeFile(t, pathB, "same content")

	s := newTestScanner(t, root, testConfig())

	hashA1 := s.fingerprint(pathA, int64(len("same content")))
	hashA2 := s.fingerprint(pathA, int64(len("same content")))
	hashB := s.fingerprint(pathB, int64(len("same content")))

	if hashA1 != hashA2 {
		t.Error("fingerprint of the same file differs between calls")
	}
	if hashA1 != hashB {
		t.Error("identical content at different paths produced different fingerprints")
	}
}

func TestFingerprintFallbackOnUnreadable(t *testing.T) {
	root := t.TempDir()
	s := newTestScanner(t, root, testConfig())

	missing := filepath.Join(root, "gone.jpg")
	hash1 := s.fingerprint(missing, 42)
	hash2 := s.fingerprint(missing, 42)

	if hash1 == "" {
		t.Fatal("fallback fingerprint is empty")
	}
	if hash1 != hash2 {
		t.Error("fallback fingerprint is not deterministic")
	}
}

func TestIncrementalSkipsCommitted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "first")
	writeFile(t, filepath.Join(root, "b.jpg"), "second")

	s := newTestScanner(t, root, testConfig())
	result, err := s.Scan(true)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("first scan found %d items, want 2", len(result.Items))
	}

	if err := s.Commit(result.Items); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// immediate rescan yields nothing new
	rescan, err := s.Scan(true)
	if err != nil {
		t.Fatalf("rescan error = %v", err)
	}
	if len(rescan.Items) != 0 {
		t.Errorf("rescan found %d items, want 0", len(rescan.Items))
	}
	if rescan.SkippedIndexed != 2 {
		t.Errorf("rescan skipped %d, want 2", rescan.SkippedIndexed)
	}

	// one new file yields exactly that file
	writeFile(t, filepath.Join(root, "c.jpg"), "third")
	rescan, err = s.Scan(true)
	if err != nil {
		t.Fatalf("rescan error = %v", err)
	}
	if len(rescan.Items) != 1 || filepath.Base(rescan.Items[0].Path) != "c.jpg" {
		t.Errorf("rescan items = %+v, want only c.jpg", rescan.Items)
	}
}

func TestIncrementalSkipsMovedFile(t *testing.T) {
	root := t.TempDir()
	original := filepath.Join(root, "orig.jpg")
	writeFile(t, original, "pixels")

	s := newTestScanner(t, root, testConfig())
	result, err := s.Scan(true)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := s.Commit(result.Items); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// same content under a new name is still considered indexed
	if err := os.Rename(original, filepath.Join(root, "renamed.jpg")); err != nil {
		t.Fatalf("rename: %v", err)
	}

	rescan, err := s.Scan(true)
	if err != nil {
		t.Fatalf("rescan error = %v", err)
	}
	if len(rescan.Items) != 0 {
		t.Errorf("rescan found %d items after rename, want 0", len(rescan.Items))
	}
}

func TestCommitPersistsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "persisted")

	s := newTestScanner(t, root, testConfig())
	result, err := s.Scan(true)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := s.Commit(result.Items); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	fresh := newTestScanner(t, root, testConfig())
	if fresh.IndexedCount() != 1 {
		t.Errorf("fresh scanner loaded %d fingerprints, want 1", fresh.IndexedCount())
	}
}

func TestResetForgetsFingerprints(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "first")
	writeFile(t, filepath.Join(root, "b.jpg"), "second")

	s := newTestScanner(t, root, testConfig())
	result, err := s.Scan(true)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := s.Commit(result.Items); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if s.IndexedCount() != 0 {
		t.Errorf("IndexedCount() = %d after reset, want 0", s.IndexedCount())
	}

	// every file is new again, in memory and on disk
	rescan, err := s.Scan(true)
	if err != nil {
		t.Fatalf("rescan error = %v", err)
	}
	if len(rescan.Items) != 2 {
		t.Errorf("rescan found %d items after reset, want 2", len(rescan.Items))
	}

	fresh := newTestScanner(t, root, testConfig())
	if fresh.IndexedCount() != 0 {
		t.Errorf("fresh scanner loaded %d fingerprints after reset, want 0", fresh.IndexedCount())
	}

	// resetting an already-empty scanner is fine
	if err := s.Reset(); err != nil {
		t.Errorf("second Reset() error = %v", err)
	}
}

func TestCorruptFingerprintFileTreatedAsEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".medialens_ignore"), "{not json")
	writeFile(t, filepath.Join(root, "a.jpg"), "pixels")

	s := newTestScanner(t, root, testConfig())
	if s.IndexedCount() != 0 {
		t.Errorf("IndexedCount() = %d for corrupt set, want 0", s.IndexedCount())
	}

	result, err := s.Scan(true)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(result.Items) != 1 {
		t.Errorf("found %d items, want 1", len(result.Items))
	}
}

func TestValidateErrors(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, tempFile, "x")

	tests := []struct {
		name string
		root string
	}{
		{name: "missing path", root: filepath.Join(t.TempDir(), "nope")},
		{name: "not a directory", root: tempFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScanner(t, tt.root, testConfig())
			err := s.Validate()
			if err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
			if _, ok := err.(*InvalidPathError); !ok {
				t.Errorf("Validate() error type = %T, want *InvalidPathError", err)
			}
		})
	}
}
