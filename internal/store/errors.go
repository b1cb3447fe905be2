package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record ID does not exist in the store.
var ErrNotFound = errors.New("record not found")

// DimensionMismatchError is returned when a vector's width disagrees with
// the store's locked dimension. It is never coerced.
type DimensionMismatchError struct {
	Want int
	Got  int
	ID   string // offending record, empty for query vectors
}

func (e *DimensionMismatchError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("dimension mismatch for record %s: store is locked to %d, got %d", e.ID, e.Want, e.Got)
	}
	return fmt.Sprintf("dimension mismatch: store is locked to %d, got %d", e.Want, e.Got)
}

// IsDimensionMismatch checks if error is a dimension mismatch
func IsDimensionMismatch(err error) bool {
	var dm *DimensionMismatchError
	return errors.As(err, &dm)
}

// UnsupportedFilterError is returned when a metadata filter references a
// key the store cannot match on.
type UnsupportedFilterError struct {
	Key string
}

func (e *UnsupportedFilterError) Error() string {
	return fmt.Sprintf("unsupported filter key: %s", e.Key)
}
