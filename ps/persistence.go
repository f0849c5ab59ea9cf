package ps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/storage"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/go-git/go-git/v6/storage/memory"
	"github.com/nickyhof/CommitCatalog/core"
)

var (
	ErrNotInitialized = errors.New("persistence layer not initialized")
	ErrCorrupt        = errors.New("commit log is corrupt")
)

// Persistence stores the catalog in a bare git repository: table states are
// trees, commits are commit objects and references live under refs/heads
// and refs/tags.
//
// Object writes and reference updates are guarded by separate locks. The
// reference lock is held only for the read-compare-write of a single
// reference, never while objects are hashed or written.
type Persistence struct {
	repo         *git.Repository
	objMu        sync.RWMutex
	refMu        sync.RWMutex
	isMemoryMode bool
}

// IsInitialized returns true if the persistence layer has a valid repository
func (p *Persistence) IsInitialized() bool {
	return p != nil && p.repo != nil
}

func (p *Persistence) ensureInitialized() error {
	if !p.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// IsMemoryMode reports whether nothing is written to disk.
func (p *Persistence) IsMemoryMode() bool {
	return p.isMemoryMode
}

func NewMemoryPersistence() (*Persistence, error) {
	repo, err := git.Init(memory.NewStorage())
	if err != nil {
		return nil, err
	}

	p := &Persistence{repo: repo, isMemoryMode: true}
	if err := p.pointHeadAtDefaultBranch(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewFilePersistence opens the bare repository in baseDir, creating it when
// the directory holds none yet.
func NewFilePersistence(baseDir string) (*Persistence, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	fs := osfs.New(baseDir)
	storer := filesystem.NewStorageWithOptions(
		fs,
		cache.NewObjectLRUDefault(),
		filesystem.Options{ExclusiveAccess: true})

	if _, statErr := os.Stat(filepath.Join(baseDir, "HEAD")); statErr != nil {
		repo, err := git.Init(storer)
		if err != nil {
			return nil, fmt.Errorf("failed to init catalog repository: %w", err)
		}
		p := &Persistence{repo: repo}
		if err := p.pointHeadAtDefaultBranch(); err != nil {
			return nil, err
		}
		return p, nil
	}

	repo, err := git.Open(storer, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog repository: %w", err)
	}
	return &Persistence{repo: repo}, nil
}

// pointHeadAtDefaultBranch keeps the repository browsable with stock git
// tooling; the catalog itself never reads HEAD.
func (p *Persistence) pointHeadAtDefaultBranch() error {
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(core.DefaultBranch))
	return p.repo.Storer.SetReference(head)
}

// Bootstrap creates the root commit and the default branch when the store
// holds no references yet. It reports whether anything was created.
func (p *Persistence) Bootstrap(meta core.CommitMeta) (core.Reference, bool, error) {
	if err := p.ensureInitialized(); err != nil {
		return core.Reference{}, false, err
	}

	p.refMu.Lock()
	defer p.refMu.Unlock()

	empty, err := p.isEmptyLocked()
	if err != nil {
		return core.Reference{}, false, err
	}
	if !empty {
		ref, err := p.lookupLocked(core.DefaultBranch)
		if errors.Is(err, core.ErrNotFound) {
			// main was dropped; the catalog still has history
			return core.Reference{}, false, nil
		}
		return ref, false, err
	}

	content, err := p.PutContent(core.TableState{})
	if err != nil {
		return core.Reference{}, false, err
	}
	root, err := p.AppendCommit(core.ZeroHash, content, meta, time.Now())
	if err != nil {
		return core.Reference{}, false, err
	}
	ref := core.Reference{Name: core.DefaultBranch, Kind: core.Branch, Target: root.Hash}
	if err := p.setLocked(ref); err != nil {
		return core.Reference{}, false, err
	}
	return ref, true, nil
}

// lockObjectsForRead guards an object read. The on-disk storer fills its
// object index lazily on the read path, so file mode reads are exclusive.
func (p *Persistence) lockObjectsForRead() (unlock func()) {
	if p.isMemoryMode {
		p.objMu.RLock()
		return p.objMu.RUnlock
	}
	p.objMu.Lock()
	return p.objMu.Unlock
}

// rewriteError maps go-git storage errors onto catalog error kinds.
func rewriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, plumbing.ErrObjectNotFound), errors.Is(err, plumbing.ErrReferenceNotFound):
		return fmt.Errorf("%w: %w", core.ErrNotFound, err)
	case errors.Is(err, storage.ErrReferenceHasChanged):
		return fmt.Errorf("%w: %w", core.ErrConflict, err)
	default:
		return err
	}
}

func toGitHash(hash core.Hash) (plumbing.Hash, error) {
	if _, ok := core.ParseHash(string(hash)); !ok {
		return plumbing.ZeroHash, fmt.Errorf("%w: malformed hash %q", core.ErrNotFound, hash)
	}
	return plumbing.NewHash(string(hash)), nil
}

func fromGitHash(hash plumbing.Hash) core.Hash {
	if hash == plumbing.ZeroHash {
		return core.ZeroHash
	}
	return core.Hash(hash.String())
}
