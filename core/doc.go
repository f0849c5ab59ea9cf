// Package core provides the types shared by every layer of CommitCatalog.
//
// # Data model
//
// A TableState maps fully qualified table names to opaque snapshot ids:
//
//	state := core.TableState{"warehouse.movies": "snap-0001"}
//
// A Commit links a parent commit to the hash of a TableState. A Reference
// names a commit and is either a mutable Branch or a write-once Tag.
//
// # Pointers
//
// Reads address history with pointers:
//
//	main                      the current head of main
//	main@<commit hash>        a historical commit of main
//	<commit hash>             any commit
//
// Table reads combine a table with a pointer: "movies@report".
//
// # Errors
//
// Every failure wraps one of the sentinel errors (ErrNotFound, ErrConflict, ...)
// and can be matched with errors.Is. ErrConflict is the only kind a caller is
// expected to retry.
package core
