// Package ps provides the persistence layer for CommitCatalog.
//
// The catalog is stored as a bare Git repository through go-git. Each
// component maps onto a Git object kind:
//
//   - Content Store: a table state is a tree with one entry per table whose
//     blob holds the snapshot id
//   - Commit Log: commit objects with a single parent
//   - Reference Table: branches under refs/heads, tags under refs/tags
//
// Objects are content addressed, so writing an existing state or commit is
// a no-op that returns the same hash.
//
// # Memory Persistence
//
// For testing or ephemeral catalogs:
//
//	persistence, err := ps.NewMemoryPersistence()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # File Persistence
//
// For persistent storage (the directory can be inspected with git):
//
//	persistence, err := ps.NewFilePersistence("/path/to/catalog")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Branch updates
//
// Branch heads only move through CompareAndAdvance, which fails with
// core.ErrConflict when another writer got there first:
//
//	_, err := persistence.CompareAndAdvance("main", observedHead, newCommit.Hash)
//	if core.IsRetryable(err) {
//	    // re-read the head and try again
//	}
//
// # Archives
//
// Dump and Restore move a whole catalog between stores as a JSON friendly
// Archive, verifying every hash on the way in.
package ps
