package ps

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nickyhof/CommitCatalog/core"
	"golang.org/x/sync/errgroup"
)

func TestCreateReference(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		root := bootstrapped(t, p)

		dev, err := p.CreateReference("dev", core.Branch, root.Hash)
		if err != nil {
			t.Fatalf("CreateReference failed: %v", err)
		}
		if dev.Kind != core.Branch || dev.Target != root.Hash {
			t.Errorf("Unexpected reference: %v", dev)
		}

		if _, err := p.CreateReference("release/v1", core.Tag, root.Hash); err != nil {
			t.Fatalf("CreateReference failed: %v", err)
		}

		got, err := p.GetReference("release/v1")
		if err != nil {
			t.Fatalf("GetReference failed: %v", err)
		}
		if got.Kind != core.Tag {
			t.Errorf("Expected tag, got %v", got.Kind)
		}
	})
}

func TestCreateReferenceNameTakenAcrossKinds(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		root := bootstrapped(t, p)

		if _, err := p.CreateReference("dev", core.Tag, root.Hash); err != nil {
			t.Fatalf("CreateReference failed: %v", err)
		}
		if _, err := p.CreateReference("dev", core.Branch, root.Hash); !errors.Is(err, core.ErrAlreadyExists) {
			t.Errorf("Expected ErrAlreadyExists for branch over tag, got %v", err)
		}
		if _, err := p.CreateReference("main", core.Tag, root.Hash); !errors.Is(err, core.ErrAlreadyExists) {
			t.Errorf("Expected ErrAlreadyExists for tag over branch, got %v", err)
		}
	})
}

func TestCreateReferencePathClash(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		root := bootstrapped(t, p)

		if _, err := p.CreateReference("a", core.Branch, root.Hash); err != nil {
			t.Fatalf("CreateReference failed: %v", err)
		}
		_, err := p.CreateReference("a/b", core.Branch, root.Hash)
		if !errors.Is(err, core.ErrAlreadyExists) {
			t.Errorf("Expected ErrAlreadyExists for a/b next to a, got %v", err)
		}
		if kind := core.KindOf(err); kind != "already_exists" {
			t.Errorf("Expected kind already_exists, got %s", kind)
		}

		if _, err := p.CreateReference("x/y", core.Tag, root.Hash); err != nil {
			t.Fatalf("CreateReference failed: %v", err)
		}
		if _, err := p.CreateReference("x", core.Branch, root.Hash); !errors.Is(err, core.ErrAlreadyExists) {
			t.Errorf("Expected ErrAlreadyExists for x next to x/y, got %v", err)
		}

		// siblings sharing a prefix are fine
		if _, err := p.CreateReference("ab", core.Branch, root.Hash); err != nil {
			t.Errorf("Expected ab to be accepted, got %v", err)
		}
		if _, err := p.CreateReference("x/z", core.Branch, root.Hash); err != nil {
			t.Errorf("Expected x/z to be accepted, got %v", err)
		}
	})
}

func TestCreateReferenceValidation(t *testing.T) {
	p, err := NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	root := bootstrapped(t, p)

	for _, name := range []string{"", "a b", "dev@x", "x..y", "-dev", "dev.lock"} {
		if _, err := p.CreateReference(name, core.Branch, root.Hash); !errors.Is(err, core.ErrInvalidName) {
			t.Errorf("Expected ErrInvalidName for %q, got %v", name, err)
		}
	}

	if _, err := p.CreateReference("dangling", core.Branch, core.Hash(strings.Repeat("f", 40))); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing target, got %v", err)
	}
}

func TestListReferencesSorted(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		root := bootstrapped(t, p)
		for _, name := range []string{"zeta", "alpha", "mid"} {
			if _, err := p.CreateReference(name, core.Branch, root.Hash); err != nil {
				t.Fatalf("CreateReference failed: %v", err)
			}
		}
		if _, err := p.CreateReference("beta", core.Tag, root.Hash); err != nil {
			t.Fatalf("CreateReference failed: %v", err)
		}

		refs, err := p.ListReferences()
		if err != nil {
			t.Fatalf("ListReferences failed: %v", err)
		}
		var names []string
		for _, ref := range refs {
			names = append(names, ref.Name)
		}
		if got := strings.Join(names, ","); got != "alpha,beta,main,mid,zeta" {
			t.Errorf("Unexpected order: %s", got)
		}
	})
}

func TestCompareAndAdvance(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		root := bootstrapped(t, p)
		next := commitState(t, p, root.Hash, core.TableState{"movies": "snap1"})

		ref, err := p.CompareAndAdvance("main", root.Hash, next.Hash)
		if err != nil {
			t.Fatalf("CompareAndAdvance failed: %v", err)
		}
		if ref.Target != next.Hash {
			t.Errorf("Expected main at %s, got %s", next.Hash, ref.Target)
		}

		// stale expectation
		if _, err := p.CompareAndAdvance("main", root.Hash, root.Hash); !errors.Is(err, core.ErrConflict) {
			t.Errorf("Expected ErrConflict, got %v", err)
		}
		got, _ := p.GetReference("main")
		if got.Target != next.Hash {
			t.Errorf("Expected conflict to leave main untouched, got %s", got.Target)
		}

		if _, err := p.CreateReference("v1", core.Tag, root.Hash); err != nil {
			t.Fatalf("CreateReference failed: %v", err)
		}
		if _, err := p.CompareAndAdvance("v1", root.Hash, next.Hash); !errors.Is(err, core.ErrNotABranch) {
			t.Errorf("Expected ErrNotABranch, got %v", err)
		}
		if _, err := p.CompareAndAdvance("missing", root.Hash, next.Hash); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestCompareAndAdvanceRace(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		root := bootstrapped(t, p)

		const writers = 8
		var wins, conflicts atomic.Int32
		var winner atomic.Value

		var g errgroup.Group
		for i := range writers {
			g.Go(func() error {
				content, err := p.PutContent(core.TableState{"movies": fmt.Sprintf("snap%d", i)})
				if err != nil {
					return err
				}
				commit, err := p.AppendCommit(root.Hash, content, testMeta, time.Now())
				if err != nil {
					return err
				}
				_, err = p.CompareAndAdvance("main", root.Hash, commit.Hash)
				switch {
				case err == nil:
					wins.Add(1)
					winner.Store(commit.Hash)
					return nil
				case errors.Is(err, core.ErrConflict):
					conflicts.Add(1)
					return nil
				default:
					return err
				}
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("Writer failed: %v", err)
		}

		if wins.Load() != 1 || conflicts.Load() != writers-1 {
			t.Fatalf("Expected exactly one winner, got %d wins and %d conflicts", wins.Load(), conflicts.Load())
		}
		main, err := p.GetReference("main")
		if err != nil {
			t.Fatalf("GetReference failed: %v", err)
		}
		if main.Target != winner.Load().(core.Hash) {
			t.Errorf("Expected main at the winning commit")
		}
	})
}

func TestDeleteReference(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		root := bootstrapped(t, p)
		if _, err := p.CreateReference("dev", core.Branch, root.Hash); err != nil {
			t.Fatalf("CreateReference failed: %v", err)
		}

		deleted, err := p.DeleteReference("dev")
		if err != nil {
			t.Fatalf("DeleteReference failed: %v", err)
		}
		if deleted.Target != root.Hash {
			t.Errorf("Expected deleted target %s, got %s", root.Hash, deleted.Target)
		}

		if _, err := p.GetReference("dev"); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if _, err := p.DeleteReference("dev"); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
		if !p.HasCommit(root.Hash) {
			t.Error("Expected commits to survive reference deletion")
		}

		// a dropped branch cannot be advanced back into existence
		if _, err := p.CompareAndAdvance("dev", root.Hash, root.Hash); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}
