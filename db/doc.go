// Package db provides the catalog engine and the statement executor.
//
// Catalog is the engine: branch and tag management, optimistic commits,
// merges and pointer resolution. It carries no per-client state; every
// operation names the references it works on.
//
// # Catalog Usage
//
//	catalog := db.NewCatalog(persistence, db.WithIdentity(identity), db.WithLogger(logger))
//	head, err := catalog.Head("main")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	commit, err := catalog.Commit("main", core.TableState{"movies": "snap1"}, head.Hash, core.CommitMeta{})
//	if errors.Is(err, core.ErrConflict) {
//	    // re-read the head and try again, or use op.CommitWithRetry
//	}
//
// Resolver answers which snapshot of a table a reader should see, given a
// pointer such as "main", "main@<hash>" or a bare commit hash.
//
// # Sessions
//
// Session parses statements from package sql and runs them. It holds the
// reference unqualified statements default to, so
//
//	session := db.NewSession(catalog, db.WithWarehouse(warehouse))
//	result, err := session.Execute(ctx, "USE REFERENCE dev")
//	result, err = session.Execute(ctx, "COMMIT SET movies = 'snap2'")
//	result.Display()
//
// commits to dev. A session parked on a hash or name@hash is detached and
// refuses writes until a branch is selected again.
//
// # Result Types
//
//   - QueryResult: reads, including warehouse queries
//   - CommitResult: reference changes and commits
package db
