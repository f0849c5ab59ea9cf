package ps

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/nickyhof/CommitCatalog/core"
)

func refName(name string, kind core.RefKind) plumbing.ReferenceName {
	if kind == core.Tag {
		return plumbing.NewTagReferenceName(name)
	}
	return plumbing.NewBranchReferenceName(name)
}

func fromGitReference(ref *plumbing.Reference) (core.Reference, bool) {
	switch {
	case ref.Type() != plumbing.HashReference:
		return core.Reference{}, false
	case ref.Name().IsBranch():
		return core.Reference{Name: ref.Name().Short(), Kind: core.Branch, Target: fromGitHash(ref.Hash())}, true
	case ref.Name().IsTag():
		return core.Reference{Name: ref.Name().Short(), Kind: core.Tag, Target: fromGitHash(ref.Hash())}, true
	default:
		return core.Reference{}, false
	}
}

// lookupLocked finds name among branches first, then tags. Callers hold refMu.
func (p *Persistence) lookupLocked(name string) (core.Reference, error) {
	if err := core.ValidateReferenceName(name); err != nil {
		return core.Reference{}, fmt.Errorf("%w: reference %q", core.ErrNotFound, name)
	}
	for _, kind := range []core.RefKind{core.Branch, core.Tag} {
		ref, err := p.repo.Storer.Reference(refName(name, kind))
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			continue
		}
		if err != nil {
			return core.Reference{}, fmt.Errorf("reference %s: %w", name, rewriteError(err))
		}
		if out, ok := fromGitReference(ref); ok {
			return out, nil
		}
	}
	return core.Reference{}, fmt.Errorf("%w: reference %s", core.ErrNotFound, name)
}

// isEmptyLocked reports whether the store holds no branch or tag at all.
func (p *Persistence) isEmptyLocked() (bool, error) {
	refs, err := p.listLocked()
	if err != nil {
		return false, err
	}
	return len(refs) == 0, nil
}

func (p *Persistence) setLocked(ref core.Reference) error {
	target, err := toGitHash(ref.Target)
	if err != nil {
		return err
	}
	return p.repo.Storer.SetReference(plumbing.NewHashReference(refName(ref.Name, ref.Kind), target))
}

func (p *Persistence) listLocked() ([]core.Reference, error) {
	iter, err := p.repo.Storer.IterReferences()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	defer iter.Close()

	refs := []core.Reference{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if out, ok := fromGitReference(ref); ok {
			refs = append(refs, out)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Name < refs[j].Name
	})
	return refs, nil
}

// CreateReference adds a branch or tag pointing at target. Names are unique
// across both kinds.
func (p *Persistence) CreateReference(name string, kind core.RefKind, target core.Hash) (core.Reference, error) {
	if err := p.ensureInitialized(); err != nil {
		return core.Reference{}, err
	}
	if err := core.ValidateReferenceName(name); err != nil {
		return core.Reference{}, err
	}
	if !p.HasCommit(target) {
		return core.Reference{}, fmt.Errorf("%w: target commit %s", core.ErrNotFound, target)
	}

	p.refMu.Lock()
	defer p.refMu.Unlock()

	if existing, err := p.lookupLocked(name); err == nil {
		return core.Reference{}, fmt.Errorf("%w: %s", core.ErrAlreadyExists, existing)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Reference{}, err
	}
	if err := p.checkPathClashLocked(name); err != nil {
		return core.Reference{}, err
	}

	ref := core.Reference{Name: name, Kind: kind, Target: target}
	if err := p.setLocked(ref); err != nil {
		return core.Reference{}, fmt.Errorf("failed to create %s: %w", ref, err)
	}
	return ref, nil
}

// checkPathClashLocked rejects name when it would be a directory of an
// existing reference or live inside one, e.g. "a" next to "a/b". Git stores
// references as paths, so the two cannot coexist on disk or on a remote.
func (p *Persistence) checkPathClashLocked(name string) error {
	refs, err := p.listLocked()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if strings.HasPrefix(name, ref.Name+"/") || strings.HasPrefix(ref.Name, name+"/") {
			return fmt.Errorf("%w: %s clashes with %s", core.ErrAlreadyExists, name, ref)
		}
	}
	return nil
}

// GetReference returns the branch or tag called name.
func (p *Persistence) GetReference(name string) (core.Reference, error) {
	if err := p.ensureInitialized(); err != nil {
		return core.Reference{}, err
	}

	p.refMu.RLock()
	defer p.refMu.RUnlock()
	return p.lookupLocked(name)
}

// ListReferences returns every branch and tag ordered by name.
func (p *Persistence) ListReferences() ([]core.Reference, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.refMu.RLock()
	defer p.refMu.RUnlock()
	return p.listLocked()
}

// CompareAndAdvance moves branch name from expected to next in one atomic
// step. It fails with ErrConflict when the branch no longer points at
// expected, leaving it untouched.
func (p *Persistence) CompareAndAdvance(name string, expected, next core.Hash) (core.Reference, error) {
	if err := p.ensureInitialized(); err != nil {
		return core.Reference{}, err
	}
	nextHash, err := toGitHash(next)
	if err != nil {
		return core.Reference{}, err
	}

	p.refMu.Lock()
	defer p.refMu.Unlock()

	current, err := p.lookupLocked(name)
	if err != nil {
		return core.Reference{}, err
	}
	if current.Kind != core.Branch {
		return core.Reference{}, fmt.Errorf("%w: %s", core.ErrNotABranch, current)
	}
	if current.Target != expected {
		return core.Reference{}, fmt.Errorf("%w: branch %s is at %s, expected %s",
			core.ErrConflict, name, current.Target.Short(), expected.Short())
	}

	old, err := toGitHash(expected)
	if err != nil {
		return core.Reference{}, err
	}
	refName := plumbing.NewBranchReferenceName(name)
	err = p.repo.Storer.CheckAndSetReference(
		plumbing.NewHashReference(refName, nextHash),
		plumbing.NewHashReference(refName, old))
	if err != nil {
		return core.Reference{}, fmt.Errorf("advance %s: %w", name, rewriteError(err))
	}

	return core.Reference{Name: name, Kind: core.Branch, Target: next}, nil
}

// DeleteReference removes the branch or tag called name and returns what it
// pointed at. Commits stay in the log.
func (p *Persistence) DeleteReference(name string) (core.Reference, error) {
	if err := p.ensureInitialized(); err != nil {
		return core.Reference{}, err
	}

	p.refMu.Lock()
	defer p.refMu.Unlock()

	ref, err := p.lookupLocked(name)
	if err != nil {
		return core.Reference{}, err
	}
	if err := p.repo.Storer.RemoveReference(refName(ref.Name, ref.Kind)); err != nil {
		return core.Reference{}, fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	return ref, nil
}
