package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrParse           = errors.New("parse failure")
	ErrLookup          = errors.New("lookup failure")
	ErrSetup           = errors.New("setup failure")
	ErrSamePair        = errors.New("keep and drop ids are identical")
	ErrUnsafePredicate = errors.New("unsafe filter predicate")
)

// ParseError marks a source value the normalizer could not interpret.
// The surrounding row is skipped and counted; the batch keeps going.
type ParseError struct {
	Field string
	Raw   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s from %q", e.Field, e.Raw)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// LookupError marks a reference to something that does not exist:
// an unknown timezone name, a missing canonical id in a merge pair.
type LookupError struct {
	Kind  string
	Value string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}

func (e *LookupError) Unwrap() error { return ErrLookup }

// ConsistencyError marks a store-level violation (duplicate unique key,
// broken reference) that aborts the current unit of work only.
type ConsistencyError struct {
	Op     string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return ErrConflict }

// SetupError marks a precondition failure (missing table or column,
// unloadable config). Fatal before any mutation happens.
type SetupError struct {
	Missing string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup: %s", e.Missing)
}

func (e *SetupError) Unwrap() error { return ErrSetup }
