package op

import (
	"context"
	"fmt"

	"github.com/nickyhof/CommitCatalog/core"
)

// BranchOp binds a branch name to a catalog for table level edits. Every
// write is a retried commit on top of the latest head.
type BranchOp struct {
	Branch  string
	Catalog Catalog
	Meta    core.CommitMeta
}

func GetBranch(name string, catalog Catalog, meta core.CommitMeta) (*BranchOp, error) {
	if _, _, err := catalog.State(name); err != nil {
		return nil, err
	}
	return &BranchOp{Branch: name, Catalog: catalog, Meta: meta}, nil
}

// Tables returns the branch's current state and the head it was read at.
func (op *BranchOp) Tables() (core.TableState, core.Hash, error) {
	head, state, err := op.Catalog.State(op.Branch)
	if err != nil {
		return nil, core.ZeroHash, err
	}
	return state, head.Hash, nil
}

func (op *BranchOp) Snapshot(table string) (string, error) {
	state, _, err := op.Tables()
	if err != nil {
		return "", err
	}
	snapshot, ok := state[table]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", core.ErrTableNotFound, table, op.Branch)
	}
	return snapshot, nil
}

func (op *BranchOp) Put(ctx context.Context, table, snapshot string) (core.Commit, error) {
	return op.PutAll(ctx, map[string]string{table: snapshot})
}

func (op *BranchOp) PutAll(ctx context.Context, snapshots map[string]string) (core.Commit, error) {
	return CommitWithRetry(ctx, op.Catalog, op.Branch, func(state core.TableState) error {
		for table, snapshot := range snapshots {
			state[table] = snapshot
		}
		return nil
	}, op.Meta)
}

// Remove drops tables from the branch. Removing a table that is not there
// fails with core.ErrTableNotFound.
func (op *BranchOp) Remove(ctx context.Context, tables ...string) (core.Commit, error) {
	return CommitWithRetry(ctx, op.Catalog, op.Branch, func(state core.TableState) error {
		for _, table := range tables {
			if _, ok := state[table]; !ok {
				return fmt.Errorf("%w: %s on %s", core.ErrTableNotFound, table, op.Branch)
			}
			delete(state, table)
		}
		return nil
	}, op.Meta)
}
