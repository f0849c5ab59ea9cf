// Package op provides caller-side operations on top of the catalog engine.
//
// The engine never retries: a commit that loses the race for a branch head
// fails with core.ErrConflict. The helpers here own that policy.
//
// # CommitWithRetry
//
//	commit, err := op.CommitWithRetry(ctx, catalog, "main", func(state core.TableState) error {
//	    state["movies"] = "snap2"
//	    return nil
//	}, meta)
//
// # BranchOp
//
// BranchOp wraps table level edits on one branch:
//
//	branch, err := op.GetBranch("dev", catalog, meta)
//	branch.Put(ctx, "movies", "snap3")
//	branch.Remove(ctx, "ratings")
//	snapshot, err := branch.Snapshot("movies")
package op
