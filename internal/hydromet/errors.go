package hydromet

import "errors"

var (
	// ErrInvalidQuery is returned for well-formed but unsupported queries.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNotFound is returned when a requested location id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConsistency marks a broken join precondition, such as two locations
	// resolving to the same result URL.
	ErrConsistency = errors.New("consistency error")
	// ErrDecode is returned when an upstream payload does not match the
	// expected shape.
	ErrDecode = errors.New("decode error")
)
