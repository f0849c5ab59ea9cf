// Package CommitCatalog provides a Git-backed, versioned catalog of tables.
//
// The catalog records which immutable snapshot of each table belongs to a
// version. Versions are commits, branches and tags point at them, and every
// commit is stored as a Git commit whose tree maps table names to snapshot
// ids. Table data itself lives in an external snapshot store such as the
// DuckDB warehouse in package duck.
//
// # Quick Start
//
// Create an in-memory catalog:
//
//	persistence, _ := ps.NewMemoryPersistence()
//	instance, _ := CommitCatalog.Open(persistence)
//	session := instance.Session(core.Identity{Name: "App", Email: "app@example.com"})
//
//	session.Execute(ctx, "CREATE BRANCH dev FROM main")
//	session.Execute(ctx, "COMMIT ON dev SET movies = 'snap1'")
//	session.Execute(ctx, "MERGE BRANCH dev INTO main")
//	session.Execute(ctx, "CREATE TAG report FROM main")
//
//	result, _ := session.Execute(ctx, "SHOW SNAPSHOT movies@report")
//	result.Display()
//
// # Concepts
//
//   - Branches move on commit, merge and assign; tags never move.
//   - Commits use compare-and-advance: a commit based on a stale head
//     fails with core.ErrConflict and nothing is published.
//   - Pointers name a reference ("main"), a commit reachable from it
//     ("main@<hash>") or a commit directly ("<hash>").
//
// Callers that want the engine without the statement language use
// Instance.Catalog and db.Resolver directly.
package CommitCatalog
