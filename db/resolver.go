package db

import (
	"fmt"

	"github.com/nickyhof/CommitCatalog/core"
)

// Snapshot is a table's snapshot id as seen at a specific commit.
type Snapshot struct {
	Table      string    `json:"table"`
	SnapshotID string    `json:"snapshot_id"`
	Commit     core.Hash `json:"commit"`
}

// Resolver answers "which snapshot of this table should be read" for the
// execution engine. It never mutates the catalog.
type Resolver struct {
	catalog *Catalog
}

func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// TableSnapshotFor returns the snapshot id of table in the state pointer
// resolves to.
func (r *Resolver) TableSnapshotFor(table, pointer string) (string, error) {
	snapshot, err := r.snapshot(table, pointer)
	if err != nil {
		return "", err
	}
	return snapshot.SnapshotID, nil
}

// SnapshotFor accepts the table@pointer form. A bare table name reads from
// the default branch.
func (r *Resolver) SnapshotFor(tableRef string) (Snapshot, error) {
	table, pointer := core.SplitTableRef(tableRef)
	if pointer == "" {
		pointer = core.DefaultBranch
	}
	return r.snapshot(table, pointer)
}

// Tables returns the full table state at pointer together with the commit
// it was read from.
func (r *Resolver) Tables(pointer string) (core.TableState, core.Hash, error) {
	commit, state, err := r.catalog.State(pointer)
	if err != nil {
		return nil, core.ZeroHash, err
	}
	return state, commit.Hash, nil
}

func (r *Resolver) snapshot(table, pointer string) (Snapshot, error) {
	commit, state, err := r.catalog.State(pointer)
	if err != nil {
		return Snapshot{}, err
	}
	id, ok := state[table]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s at %s", core.ErrTableNotFound, table, pointer)
	}
	return Snapshot{Table: table, SnapshotID: id, Commit: commit.Hash}, nil
}
