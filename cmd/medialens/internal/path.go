package internal

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveRoot resolves the media root to an absolute, symlink-free path.
func ResolveRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}

	absPath, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	return absPath, nil
}

// DefaultDBPath builds the per-root database path under
// ~/.medialens/data/. The name combines the directory's base name with a
// short hash of the full path so distinct roots never collide.
func DefaultDBPath(root string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dataDir := filepath.Join(homeDir, ".medialens", "data")
	rootName := sanitizeRootName(filepath.Base(root))
	hash := sha1.Sum([]byte(root))
	suffix := hex.EncodeToString(hash[:])[:12]
	filename := fmt.Sprintf("%s-%s.db", rootName, suffix)
	return filepath.Join(dataDir, filename), nil
}

// DefaultTextIndexPath derives the filename index directory from the
// database path.
func DefaultTextIndexPath(dbPath string) string {
	return dbPath + ".names"
}

// LogDir returns the run log directory under the user's home.
func LogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".medialens", "logs"), nil
}

// sanitizeRootName replaces characters unsafe in file names.
func sanitizeRootName(name string) string {
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "media"
	}
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	if b.Len() == 0 {
		return "media"
	}
	return b.String()
}
