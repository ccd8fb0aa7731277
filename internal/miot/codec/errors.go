package codec

import "errors"

// Sentinel errors for codec operations.
//
// These can be checked with errors.Is() for specific handling:
//
//	if errors.Is(err, codec.ErrValueNotFound) {
//	    // Value outside the declared enum table
//	}
var (
	// ErrNotNumeric indicates a wire value could not be coerced to a number.
	ErrNotNumeric = errors.New("codec: value not numeric")

	// ErrValueNotFound indicates a value or description is outside the
	// declared value list.
	ErrValueNotFound = errors.New("codec: value not found")
)
