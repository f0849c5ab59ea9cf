package ps

import (
	"fmt"
	"iter"
	"time"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/nickyhof/CommitCatalog/core"
)

// AppendCommit writes a commit object linking parent to content. The hash
// is derived from every field, so appending the same logical commit twice
// yields the same hash and a single stored object. Timestamps are kept at
// whole-second resolution, which is what the commit encoding records.
func (p *Persistence) AppendCommit(parent, content core.Hash, meta core.CommitMeta, when time.Time) (core.Commit, error) {
	if err := p.ensureInitialized(); err != nil {
		return core.Commit{}, err
	}

	treeHash, err := toGitHash(content)
	if err != nil {
		return core.Commit{}, err
	}

	var parentHashes []plumbing.Hash
	if !parent.IsZero() {
		parentHash, err := toGitHash(parent)
		if err != nil {
			return core.Commit{}, fmt.Errorf("%w: %s", core.ErrUnknownParent, parent)
		}
		parentHashes = []plumbing.Hash{parentHash}
	}

	when = when.UTC().Truncate(time.Second)
	sig := object.Signature{
		Name:  meta.Author.Name,
		Email: meta.Author.Email,
		When:  when,
	}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      meta.Message,
		TreeHash:     treeHash,
		ParentHashes: parentHashes,
	}

	p.objMu.Lock()
	defer p.objMu.Unlock()

	// the parent check and the write happen under one lock, so no
	// commit is ever admitted with a dangling parent
	for _, parentHash := range parentHashes {
		if _, err := object.GetCommit(p.repo.Storer, parentHash); err != nil {
			return core.Commit{}, fmt.Errorf("%w: %s", core.ErrUnknownParent, parent)
		}
	}
	if !p.hasContentLocked(treeHash) {
		return core.Commit{}, fmt.Errorf("%w: content %s", core.ErrNotFound, content)
	}

	obj := p.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return core.Commit{}, fmt.Errorf("failed to encode commit: %w", err)
	}

	commitHash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return core.Commit{}, fmt.Errorf("failed to store commit: %w", err)
	}

	return core.Commit{
		Hash:      fromGitHash(commitHash),
		Parent:    parent,
		Content:   content,
		Meta:      meta,
		Timestamp: when,
	}, nil
}

// GetCommit reads a commit by hash.
func (p *Persistence) GetCommit(hash core.Hash) (core.Commit, error) {
	if err := p.ensureInitialized(); err != nil {
		return core.Commit{}, err
	}

	commitHash, err := toGitHash(hash)
	if err != nil {
		return core.Commit{}, err
	}

	unlock := p.lockObjectsForRead()
	c, err := object.GetCommit(p.repo.Storer, commitHash)
	unlock()
	if err != nil {
		return core.Commit{}, fmt.Errorf("commit %s: %w", hash.Short(), rewriteError(err))
	}

	return toCoreCommit(c), nil
}

func toCoreCommit(c *object.Commit) core.Commit {
	var parent core.Hash
	if len(c.ParentHashes) > 0 {
		parent = fromGitHash(c.ParentHashes[0])
	}
	return core.Commit{
		Hash:    fromGitHash(c.Hash),
		Parent:  parent,
		Content: fromGitHash(c.TreeHash),
		Meta: core.CommitMeta{
			Author:  core.Identity{Name: c.Author.Name, Email: c.Author.Email},
			Message: c.Message,
		},
		Timestamp: c.Author.When.UTC(),
	}
}

// HasCommit reports whether hash names a stored commit.
func (p *Persistence) HasCommit(hash core.Hash) bool {
	_, err := p.GetCommit(hash)
	return err == nil
}

// AncestorsOf walks parent links from hash down to the root, newest first,
// starting with the commit itself. Each range over the sequence re-reads the
// log, so it can be iterated any number of times. A missing commit or a
// revisited hash ends the walk with an error.
func (p *Persistence) AncestorsOf(hash core.Hash) iter.Seq2[core.Commit, error] {
	return func(yield func(core.Commit, error) bool) {
		seen := make(map[core.Hash]struct{})
		current := hash
		for !current.IsZero() {
			if _, ok := seen[current]; ok {
				yield(core.Commit{}, fmt.Errorf("%w: %s revisited", ErrCorrupt, current.Short()))
				return
			}
			seen[current] = struct{}{}

			commit, err := p.GetCommit(current)
			if err != nil {
				yield(core.Commit{}, err)
				return
			}
			if !yield(commit, nil) {
				return
			}
			current = commit.Parent
		}
	}
}

// IsAncestor reports whether candidate equals of or is one of its ancestors.
func (p *Persistence) IsAncestor(candidate, of core.Hash) (bool, error) {
	for commit, err := range p.AncestorsOf(of) {
		if err != nil {
			return false, err
		}
		if commit.Hash == candidate {
			return true, nil
		}
	}
	return false, nil
}
