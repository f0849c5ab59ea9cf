package ps

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/nickyhof/CommitCatalog/core"
)

// createBlob creates a blob object directly in the object store
func (p *Persistence) createBlob(data []byte) (plumbing.Hash, error) {
	obj := p.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to create blob writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to close blob writer: %w", err)
	}

	hash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store blob: %w", err)
	}

	return hash, nil
}

// buildTreeFromEntries creates a tree object from a list of entries
func (p *Persistence) buildTreeFromEntries(entries []object.TreeEntry) (plumbing.Hash, error) {
	// Table entries are all regular files, so a plain name sort matches git's order
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	tree := &object.Tree{Entries: entries}

	obj := p.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}

	hash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}

	return hash, nil
}

// PutContent stores a table state and returns its content hash. Each table
// becomes a tree entry whose blob holds the snapshot id, so equal states
// always hash to the same tree and are stored once.
func (p *Persistence) PutContent(state core.TableState) (core.Hash, error) {
	if err := p.ensureInitialized(); err != nil {
		return core.ZeroHash, err
	}
	if err := state.Validate(); err != nil {
		return core.ZeroHash, err
	}

	p.objMu.Lock()
	defer p.objMu.Unlock()

	entries := make([]object.TreeEntry, 0, len(state))
	for _, table := range state.Tables() {
		blobHash, err := p.createBlob([]byte(state[table]))
		if err != nil {
			return core.ZeroHash, fmt.Errorf("failed to store snapshot id for %s: %w", table, err)
		}
		entries = append(entries, object.TreeEntry{
			Name: table,
			Mode: filemode.Regular,
			Hash: blobHash,
		})
	}

	hash, err := p.buildTreeFromEntries(entries)
	if err != nil {
		return core.ZeroHash, err
	}
	return fromGitHash(hash), nil
}

// GetContent reads the table state stored under hash.
func (p *Persistence) GetContent(hash core.Hash) (core.TableState, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	treeHash, err := toGitHash(hash)
	if err != nil {
		return nil, err
	}

	defer p.lockObjectsForRead()()

	tree, err := object.GetTree(p.repo.Storer, treeHash)
	if err != nil {
		return nil, fmt.Errorf("content %s: %w", hash.Short(), rewriteError(err))
	}

	state := make(core.TableState, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.Mode != filemode.Regular {
			continue
		}
		snapshot, err := p.readBlob(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("content %s, table %s: %w", hash.Short(), entry.Name, err)
		}
		state[entry.Name] = snapshot
	}
	return state, nil
}

func (p *Persistence) readBlob(hash plumbing.Hash) (string, error) {
	blob, err := object.GetBlob(p.repo.Storer, hash)
	if err != nil {
		return "", rewriteError(err)
	}

	reader, err := blob.Reader()
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// hasContentLocked reports whether hash names a stored table state. Callers hold objMu.
func (p *Persistence) hasContentLocked(hash plumbing.Hash) bool {
	_, err := object.GetTree(p.repo.Storer, hash)
	return err == nil
}
