package ps

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nickyhof/CommitCatalog/core"
)

// ArchiveVersion is written into every dump and checked on restore.
const ArchiveVersion = 1

// Archive is a self-contained copy of a catalog: every reference, every
// commit reachable from one of them, and the table states those commits
// point at. Commits are ordered so that each parent precedes its children.
type Archive struct {
	Version    int                           `json:"version"`
	References []core.Reference              `json:"references"`
	Commits    []core.Commit                 `json:"commits"`
	Contents   map[core.Hash]core.TableState `json:"contents"`
}

// Dump captures the catalog as an Archive. Orphaned commits left behind by
// lost compare-and-advance races are not included.
func (p *Persistence) Dump() (Archive, error) {
	if err := p.ensureInitialized(); err != nil {
		return Archive{}, err
	}

	refs, err := p.ListReferences()
	if err != nil {
		return Archive{}, err
	}

	depth := make(map[core.Hash]int)
	commits := make(map[core.Hash]core.Commit)
	for _, ref := range refs {
		var chain []core.Commit
		for commit, err := range p.AncestorsOf(ref.Target) {
			if err != nil {
				return Archive{}, fmt.Errorf("dump %s: %w", ref.Name, err)
			}
			if _, ok := commits[commit.Hash]; ok {
				break
			}
			chain = append(chain, commit)
		}
		// chain runs newest to oldest and ends just above an already
		// collected commit, or at the root
		base := -1
		if n := len(chain); n > 0 && !chain[n-1].IsRoot() {
			base = depth[chain[n-1].Parent]
		}
		for i := len(chain) - 1; i >= 0; i-- {
			base++
			commits[chain[i].Hash] = chain[i]
			depth[chain[i].Hash] = base
		}
	}

	archive := Archive{
		Version:    ArchiveVersion,
		References: refs,
		Commits:    make([]core.Commit, 0, len(commits)),
		Contents:   make(map[core.Hash]core.TableState),
	}
	for _, commit := range commits {
		archive.Commits = append(archive.Commits, commit)
		if _, ok := archive.Contents[commit.Content]; ok {
			continue
		}
		state, err := p.GetContent(commit.Content)
		if err != nil {
			return Archive{}, fmt.Errorf("dump %s: %w", commit.Hash.Short(), err)
		}
		archive.Contents[commit.Content] = state
	}
	sort.Slice(archive.Commits, func(i, j int) bool {
		a, b := archive.Commits[i], archive.Commits[j]
		if depth[a.Hash] != depth[b.Hash] {
			return depth[a.Hash] < depth[b.Hash]
		}
		return a.Hash < b.Hash
	})

	return archive, nil
}

// Restore loads an Archive into a store that holds no references yet. Every
// content and commit hash is recomputed and must match the archived value.
func (p *Persistence) Restore(archive Archive) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if archive.Version != ArchiveVersion {
		return fmt.Errorf("%w: unsupported archive version %d", ErrCorrupt, archive.Version)
	}

	p.refMu.Lock()
	defer p.refMu.Unlock()

	empty, err := p.isEmptyLocked()
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: restore needs an empty catalog", core.ErrAlreadyExists)
	}

	for _, commit := range archive.Commits {
		state, ok := archive.Contents[commit.Content]
		if !ok {
			return fmt.Errorf("%w: content %s of commit %s missing from archive",
				ErrCorrupt, commit.Content.Short(), commit.Hash.Short())
		}
		content, err := p.PutContent(state)
		if err != nil {
			return err
		}
		if content != commit.Content {
			return fmt.Errorf("%w: content %s hashed to %s", ErrCorrupt, commit.Content.Short(), content.Short())
		}

		restored, err := p.AppendCommit(commit.Parent, content, commit.Meta, commit.Timestamp)
		if errors.Is(err, core.ErrUnknownParent) {
			return fmt.Errorf("%w: commit %s precedes its parent", ErrCorrupt, commit.Hash.Short())
		}
		if err != nil {
			return err
		}
		if restored.Hash != commit.Hash {
			return fmt.Errorf("%w: commit %s hashed to %s", ErrCorrupt, commit.Hash.Short(), restored.Hash.Short())
		}
	}

	seen := make(map[string]struct{}, len(archive.References))
	for _, ref := range archive.References {
		if err := core.ValidateReferenceName(ref.Name); err != nil {
			return err
		}
		if _, ok := seen[ref.Name]; ok {
			return fmt.Errorf("%w: reference %s", core.ErrAlreadyExists, ref.Name)
		}
		seen[ref.Name] = struct{}{}
		if !p.HasCommit(ref.Target) {
			return fmt.Errorf("%w: %s targets a commit missing from archive", ErrCorrupt, ref)
		}
	}
	for _, ref := range archive.References {
		if err := p.setLocked(ref); err != nil {
			return err
		}
	}
	return nil
}
