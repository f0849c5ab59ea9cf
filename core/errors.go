package core

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnknownParent      = errors.New("unknown parent commit")
	ErrUnknownReference   = errors.New("unknown reference")
	ErrNotABranch         = errors.New("reference is not a branch")
	ErrImmutableReference = errors.New("reference is immutable")
	ErrConflict           = errors.New("reference was advanced concurrently")
	ErrUnreachableCommit  = errors.New("commit is not reachable from reference")
	ErrTableNotFound      = errors.New("table not found")
	ErrInvalidName        = errors.New("invalid reference name")
	ErrInvalidTableState  = errors.New("invalid table state")
	ErrInvalidPointer     = errors.New("invalid pointer")
)

// kinds is ordered so that the most specific sentinel wins when an error
// wraps several of them.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrConflict, "conflict"},
	{ErrUnknownParent, "unknown_parent"},
	{ErrUnknownReference, "unknown_reference"},
	{ErrNotABranch, "not_a_branch"},
	{ErrImmutableReference, "immutable_reference"},
	{ErrUnreachableCommit, "unreachable_commit"},
	{ErrTableNotFound, "table_not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrInvalidName, "invalid_name"},
	{ErrInvalidTableState, "invalid_table_state"},
	{ErrInvalidPointer, "invalid_pointer"},
	{ErrNotFound, "not_found"},
}

// KindOf returns the wire name of the catalog error kind carried by err,
// or "internal" when err is not a catalog error.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsRetryable reports whether err is a lost-update race that the caller may
// resolve by re-reading the branch head and resubmitting.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
