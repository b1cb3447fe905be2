package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/medialens/medialens/internal/embedding"
)

// Metadata describes the media item (or video frame) behind a record.
type Metadata struct {
	FilePath     string  `json:"file_path"`
	Kind         string  `json:"kind"` // "image" | "video"
	SizeBytes    int64   `json:"size_bytes"`
	ModifiedTime int64   `json:"modified_time"` // unix seconds
	Timestamp    float64 `json:"timestamp,omitempty"`
	FrameIndex   int     `json:"frame_index,omitempty"`
}

// Filter is an exact-match conjunction over metadata fields.
// Supported keys: "kind", "file_path".
type Filter map[string]string

// SearchResult represents a ranked similarity search result
type SearchResult struct {
	ID       string   `json:"id"`
	FilePath string   `json:"file_path"`
	Score    float32  `json:"score"` // 1 - cosine distance
	Metadata Metadata `json:"metadata"`
}

// Stats reports the store size and locked dimension (0 when unset).
type Stats struct {
	Count     int `json:"count"`
	Dimension int `json:"dimension"`
}

// VectorStore owns the mapping from record ID to (vector, metadata) and
// locks its vector dimension on the first upsert.
type VectorStore struct {
	db *DB

	mu        sync.Mutex
	dimension int // 0 = unset
}

// NewVectorStore creates a vector store over an open database, loading the
// persisted dimension lock if one exists.
func NewVectorStore(db *DB) (*VectorStore, error) {
	v := &VectorStore{db: db}

	var value string
	err := db.sqlDB.QueryRow("SELECT value FROM store_meta WHERE key = 'dimension'").Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		// dimension not locked yet
	case err != nil:
		return nil, fmt.Errorf("failed to load dimension: %w", err)
	default:
		if _, err := fmt.Sscanf(value, "%d", &v.dimension); err != nil {
			return nil, fmt.Errorf("failed to parse stored dimension %q: %w", value, err)
		}
	}

	return v, nil
}

// Dimension returns the locked vector dimension, or 0 when no vector has
// been written yet.
func (v *VectorStore) Dimension() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dimension
}

// Upsert writes records atomically. The first call ever locks the store's
// dimension to the width of the given vectors; later calls must match it.
// An existing ID is updated in place and keeps its insertion position.
func (v *VectorStore) Upsert(ids []string, vectors [][]float32, metadatas []Metadata) error {
	if len(ids) != len(vectors) || len(ids) != len(metadatas) {
		return fmt.Errorf("ids, vectors and metadatas length mismatch: %d/%d/%d",
			len(ids), len(vectors), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	dim := v.dimension
	if dim == 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return fmt.Errorf("cannot lock dimension from an empty vector")
		}
	}
	for i, vec := range vectors {
		if len(vec) != dim {
			return &DimensionMismatchError{Want: dim, Got: len(vec), ID: ids[i]}
		}
	}

	tx, err := v.db.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if v.dimension == 0 {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO store_meta (key, value) VALUES ('dimension', ?)",
			fmt.Sprintf("%d", dim),
		); err != nil {
			return fmt.Errorf("failed to lock dimension: %w", err)
		}
	}

	var nextPos int64
	if err := tx.QueryRow("SELECT COALESCE(MAX(position), 0) FROM records").Scan(&nextPos); err != nil {
		return fmt.Errorf("failed to read max position: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO records (id, vector, dimension, metadata, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			metadata = excluded.metadata
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)

	for i, vec := range vectors {
		blob := vectorToBlob(vec)

		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", ids[i], err)
		}

		nextPos++
		if _, err := stmt.Exec(ids[i], blob, dim, string(meta), nextPos, now); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", ids[i], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	v.dimension = dim
	return nil
}

// Query performs cosine similarity search, ranked descending by score with
// ties broken by insertion order. Filter is an exact-match conjunction.
func (v *VectorStore) Query(queryVector []float32, topK int, filter Filter) ([]SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	v.mu.Lock()
	dim := v.dimension
	v.mu.Unlock()

	if dim != 0 && len(queryVector) != dim {
		return nil, &DimensionMismatchError{Want: dim, Got: len(queryVector)}
	}

	// Full scan in insertion order keeps tie-breaking stable.
	// TODO: delegate to an ANN index once stores grow past brute-force scale.
	rows, err := v.db.sqlDB.Query("SELECT id, vector, metadata FROM records ORDER BY position ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, topK)

	for rows.Next() {
		var id string
		var blob []byte
		var metaJSON string

		if err := rows.Scan(&id, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		vector, err := blobToVector(blob)
		if err != nil {
			continue // skip malformed vectors
		}
		if len(vector) != len(queryVector) {
			continue
		}

		var meta Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}

		if !matchesFilter(meta, filter) {
			continue
		}

		results = append(results, SearchResult{
			ID:       id,
			FilePath: meta.FilePath,
			Score:    embedding.Similarity(queryVector, vector),
			Metadata: meta,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	sortResults(results)

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// GetByID retrieves a stored vector and its metadata.
func (v *VectorStore) GetByID(id string) ([]float32, Metadata, error) {
	var blob []byte
	var metaJSON string

	err := v.db.sqlDB.QueryRow("SELECT vector, metadata FROM records WHERE id = ?", id).
		Scan(&blob, &metaJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, Metadata{}, fmt.Errorf("failed to get record: %w", err)
	}

	vector, err := blobToVector(blob)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("failed to decode vector for %s: %w", id, err)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, Metadata{}, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}

	return vector, meta, nil
}

// DeleteByID removes a record.
func (v *VectorStore) DeleteByID(id string) error {
	if _, err := v.db.sqlDB.Exec("DELETE FROM records WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// DeleteByFilter removes all records whose metadata matches the filter.
func (v *VectorStore) DeleteByFilter(filter Filter) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	if len(filter) == 0 {
		return fmt.Errorf("refusing to delete with an empty filter")
	}

	rows, err := v.db.sqlDB.Query("SELECT id, metadata FROM records")
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var doomed []string
	for rows.Next() {
		var id string
		var metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		var meta Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		if matchesFilter(meta, filter) {
			doomed = append(doomed, id)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	tx, err := v.db.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range doomed {
		if _, err := tx.Exec("DELETE FROM records WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete record %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// Clear removes every record and releases the dimension lock, returning
// the store to its freshly-created state. The next upsert locks a new
// dimension, so a model change can follow a clear.
func (v *VectorStore) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM store_meta WHERE key = 'dimension'"); err != nil {
		return fmt.Errorf("failed to release dimension lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	v.dimension = 0
	return nil
}

// Count returns the number of records stored
func (v *VectorStore) Count() (int, error) {
	var count int
	if err := v.db.sqlDB.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// GetStats returns store statistics
func (v *VectorStore) GetStats() (Stats, error) {
	count, err := v.Count()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Count: count, Dimension: v.Dimension()}, nil
}

// Has checks whether a record exists
func (v *VectorStore) Has(id string) (bool, error) {
	var count int
	err := v.db.sqlDB.QueryRow("SELECT COUNT(*) FROM records WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check record: %w", err)
	}
	return count > 0, nil
}

func validateFilter(filter Filter) error {
	for key := range filter {
		switch key {
		case "kind", "file_path":
		default:
			return &UnsupportedFilterError{Key: key}
		}
	}
	return nil
}

func matchesFilter(meta Metadata, filter Filter) bool {
	for key, want := range filter {
		switch key {
		case "kind":
			if meta.Kind != want {
				return false
			}
		case "file_path":
			if meta.FilePath != want {
				return false
			}
		}
	}
	return true
}

// Helper functions for vector serialization

// vectorToBlob converts a float32 slice to a little-endian binary blob
func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, f := range vector {
		bits := math.Float32bits(f)
		binary.LittleEndian.PutUint32(blob[i*4:i*4+4], bits)
	}
	return blob
}

// blobToVector converts a binary blob back to a float32 slice
func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob size %d is not a multiple of 4", len(blob))
	}

	vector := make([]float32, len(blob)/4)
	for i := 0; i < len(vector); i++ {
		bits := binary.LittleEndian.Uint32(blob[i*4 : i*4+4])
		vector[i] = math.Float32frombits(bits)
	}

	return vector, nil
}

// sortResults sorts results by score descending using insertion sort, which
// is stable: equal scores keep their insertion order.
func sortResults(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		key := results[i]
		j := i - 1
		for j >= 0 && results[j].Score < key.Score {
			results[j+1] = results[j]
			j--
		}
		results[j+1] = key
	}
}
