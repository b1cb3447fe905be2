// Package scanner discovers media files under a root directory and tracks
// which content fingerprints have already been indexed.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/medialens/medialens/internal/config"
	"github.com/medialens/medialens/internal/runlog"
)

// Kind distinguishes the two media classes the scanner understands.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

const (
	fullHashLimit = 10 << 20 // files below this are hashed in full
	sampleSize    = 1 << 20  // head/tail sample for large files
)

// MediaItem represents a discovered media file. Immutable once produced;
// only its ContentHash is ever persisted.
type MediaItem struct {
	Path        string
	ContentHash string
	Kind        Kind
	SizeBytes   int64
	ModTime     time.Time
}

// ScanResult holds the outcome of one directory walk.
type ScanResult struct {
	Items          []MediaItem
	SkippedIndexed int // already-fingerprinted files excluded in incremental mode
}

// InvalidPathError reports why a scan root failed validation.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid scan root %s: %s", e.Path, e.Reason)
}

// fingerprintFile is the persisted fingerprint set format, rewritten
// wholesale on every commit.
type fingerprintFile struct {
	IndexedHashes []string `json:"indexed_hashes"`
	LastUpdated   string   `json:"last_updated"`
	TotalFiles    int      `json:"total_files"`
}

// Scanner walks a root directory for media files, fingerprints them and
// keeps the set of already-indexed fingerprints. Commit is serialized; a
// hash enters the persisted set only after its item reached the store.
type Scanner struct {
	root       string
	ignorePath string
	videoExts  map[string]bool
	imageExts  map[string]bool
	exclude    []string
	log        *runlog.Logger

	mu      sync.Mutex
	indexed map[string]bool
}

// New creates a scanner rooted at root, loading the persisted fingerprint
// set if one exists. A corrupt fingerprint file is treated as empty.
func New(root string, cfg config.ScannerConfig, log *runlog.Logger) (*Scanner, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	s := &Scanner{
		root:       absRoot,
		ignorePath: filepath.Join(absRoot, cfg.IgnoreFile),
		videoExts:  extSet(cfg.VideoExtensions),
		imageExts:  extSet(cfg.ImageExtensions),
		exclude:    cfg.Exclude,
		log:        log,
		indexed:    make(map[string]bool),
	}

	s.loadFingerprints()
	return s, nil
}

func extSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = true
	}
	return set
}

// Root returns the absolute scan root.
func (s *Scanner) Root() string {
	return s.root
}

// IndexedCount returns the size of the in-memory fingerprint set.
func (s *Scanner) IndexedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indexed)
}

// Validate checks that the root exists, is a directory, and is readable
// and writable. It fails fast with the first specific reason found; the
// write check matters because the fingerprint set lives inside the root.
func (s *Scanner) Validate() error {
	info, err := os.Stat(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return &InvalidPathError{Path: s.root, Reason: "path does not exist"}
		}
		return &InvalidPathError{Path: s.root, Reason: fmt.Sprintf("cannot stat path: %v", err)}
	}

	if !info.IsDir() {
		return &InvalidPathError{Path: s.root, Reason: "path is not a directory"}
	}

	dir, err := os.Open(s.root)
	if err != nil {
		return &InvalidPathError{Path: s.root, Reason: "no read permission"}
	}
	dir.Close()

	probe, err := os.CreateTemp(s.root, ".medialens-w-*")
	if err != nil {
		return &InvalidPathError{Path: s.root, Reason: "no write permission"}
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}

// Scan walks the root recursively, skipping hidden directories and
// excluded patterns, and fingerprints every file with an allowed media
// extension. In incremental mode, items whose fingerprint is already in
// the set are excluded regardless of their path.
func (s *Scanner) Scan(incremental bool) (*ScanResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	result := &ScanResult{}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.Warn("walk error, skipping entry", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}

		if s.excluded(path) {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		var kind Kind
		switch {
		case s.videoExts[ext]:
			kind = KindVideo
		case s.imageExts[ext]:
			kind = KindImage
		default:
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.log.Warn("stat failed, skipping file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			return nil
		}

		hash := s.fingerprint(path, info.Size())

		if incremental && s.isIndexed(hash) {
			result.SkippedIndexed++
			return nil
		}

		result.Items = append(result.Items, MediaItem{
			Path:        path,
			ContentHash: hash,
			Kind:        kind,
			SizeBytes:   info.Size(),
			ModTime:     info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", s.root, err)
	}

	return result, nil
}

func (s *Scanner) excluded(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range s.exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, filepath.Base(rel)); matched {
			return true
		}
	}
	return false
}

func (s *Scanner) isIndexed(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexed[hash]
}

// fingerprint computes the content hash for a file. Small files are
// hashed in full; large files hash head + tail + size, trading perfect
// uniqueness for bounded I/O. An unreadable file falls back to hashing
// path + size so a fingerprint is always produced.
func (s *Scanner) fingerprint(path string, size int64) string {
	hasher := sha256.New()

	f, err := os.Open(path)
	if err != nil {
		s.log.Warn("hashing fallback to path+size", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		hasher.Write([]byte(path))
		fmt.Fprintf(hasher, "%d", size)
		return hex.EncodeToString(hasher.Sum(nil))
	}
	defer f.Close()

	if size < fullHashLimit {
		if _, err := io.Copy(hasher, f); err != nil {
			return s.fallbackFingerprint(path, size, err)
		}
	} else {
		if _, err := io.CopyN(hasher, f, sampleSize); err != nil {
			return s.fallbackFingerprint(path, size, err)
		}
		if _, err := f.Seek(-sampleSize, io.SeekEnd); err != nil {
			return s.fallbackFingerprint(path, size, err)
		}
		if _, err := io.CopyN(hasher, f, sampleSize); err != nil && err != io.EOF {
			return s.fallbackFingerprint(path, size, err)
		}
		fmt.Fprintf(hasher, "%d", size)
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

func (s *Scanner) fallbackFingerprint(path string, size int64, cause error) string {
	s.log.Warn("hashing fallback to path+size", map[string]interface{}{
		"path":  path,
		"error": cause.Error(),
	})
	hasher := sha256.New()
	hasher.Write([]byte(path))
	fmt.Fprintf(hasher, "%d", size)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Commit marks the items' fingerprints as indexed and rewrites the
// persisted set in full. Call only after the downstream embedding and
// storage for those items succeeded. Commits are serialized.
func (s *Scanner) Commit(items []MediaItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.indexed[item.ContentHash] = true
	}

	hashes := make([]string, 0, len(s.indexed))
	for hash := range s.indexed {
		hashes = append(hashes, hash)
	}

	data, err := json.MarshalIndent(fingerprintFile{
		IndexedHashes: hashes,
		LastUpdated:   time.Now().UTC().Format(time.RFC3339),
		TotalFiles:    len(hashes),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint set: %w", err)
	}

	// Write-then-rename so the persisted set is never half-written.
	tmp := s.ignorePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write fingerprint set: %w", err)
	}
	if err := os.Rename(tmp, s.ignorePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace fingerprint set: %w", err)
	}

	return nil
}

// Reset forgets every indexed fingerprint and removes the persisted set.
// The next scan sees every file as new.
func (s *Scanner) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.indexed = make(map[string]bool)

	if err := os.Remove(s.ignorePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove fingerprint set: %w", err)
	}
	return nil
}

func (s *Scanner) loadFingerprints() {
	data, err := os.ReadFile(s.ignorePath)
	if err != nil {
		return // first run, nothing indexed yet
	}

	var file fingerprintFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.log.Warn("fingerprint set unreadable, starting empty", map[string]interface{}{
			"path":  s.ignorePath,
			"error": err.Error(),
		})
		return
	}

	for _, hash := range file.IndexedHashes {
		s.indexed[hash] = true
	}
}
