package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metrics"
	"github.com/nickyhof/CommitCatalog/ps"
	"go.uber.org/zap"
)

// MergeKind tells how a merge moved the target branch.
type MergeKind int

const (
	// UpToDate: source and target already point at the same commit.
	UpToDate MergeKind = iota
	// FastForward: the target moved to the source head, no commit created.
	FastForward
	// MergeCommit: a new commit carrying the source content was appended.
	MergeCommit
)

func (kind MergeKind) String() string {
	switch kind {
	case UpToDate:
		return "up_to_date"
	case FastForward:
		return "fast_forward"
	case MergeCommit:
		return "merge_commit"
	default:
		return fmt.Sprintf("MergeKind(%d)", int(kind))
	}
}

// MergeResult describes a completed merge. Commit is the new target head and
// Previous the head it replaced.
type MergeResult struct {
	Kind     MergeKind
	Commit   core.Commit
	Previous core.Hash
}

// Catalog is the engine every caller goes through. It holds no session
// state: each operation names the references it works on.
type Catalog struct {
	persistence *ps.Persistence
	identity    core.Identity
	logger      *zap.Logger
	now         func() time.Time
}

func NewCatalog(persistence *ps.Persistence, opts ...Option) *Catalog {
	c := &Catalog{
		persistence: persistence,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

// Persistence exposes the underlying store for archive and remote operations.
func (c *Catalog) Persistence() *ps.Persistence {
	return c.persistence
}

// Identity is the default commit author.
func (c *Catalog) Identity() core.Identity {
	return c.identity
}

func (c *Catalog) observe(op string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (c *Catalog) withDefaults(meta core.CommitMeta, message string) core.CommitMeta {
	if meta.Author.IsZero() {
		meta.Author = c.identity
	}
	if meta.Message == "" {
		meta.Message = message
	}
	return meta
}

// reference looks up name, reporting a missing one as ErrUnknownReference.
func (c *Catalog) reference(name string) (core.Reference, error) {
	ref, err := c.persistence.GetReference(name)
	if errors.Is(err, core.ErrNotFound) {
		return core.Reference{}, fmt.Errorf("%w: %s", core.ErrUnknownReference, name)
	}
	return ref, err
}

func (c *Catalog) branch(name string) (core.Reference, error) {
	ref, err := c.reference(name)
	if err != nil {
		return core.Reference{}, err
	}
	if !ref.IsBranch() {
		return core.Reference{}, fmt.Errorf("%w: %s", core.ErrNotABranch, name)
	}
	return ref, nil
}

// Resolve turns a pointer into a commit hash. Accepted forms are a reference
// name, name@hash where hash must be in the reference's history, and a bare
// commit hash. A reference wins over a commit whose hash spells the same
// string.
func (c *Catalog) Resolve(pointer string) (core.Hash, error) {
	parsed, err := core.ParsePointer(pointer)
	if err != nil {
		return core.ZeroHash, err
	}

	if parsed.IsTimeTravel() {
		metrics.Resolves.WithLabelValues("time_travel").Inc()
		ref, err := c.reference(parsed.Name)
		if err != nil {
			return core.ZeroHash, err
		}
		reachable, err := c.persistence.IsAncestor(parsed.Hash, ref.Target)
		if err != nil {
			return core.ZeroHash, err
		}
		if !reachable {
			return core.ZeroHash, fmt.Errorf("%w: %s is not in the history of %s",
				core.ErrUnreachableCommit, parsed.Hash.Short(), parsed.Name)
		}
		return parsed.Hash, nil
	}

	ref, err := c.persistence.GetReference(parsed.Name)
	if err == nil {
		metrics.Resolves.WithLabelValues("reference").Inc()
		return ref.Target, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.ZeroHash, err
	}

	if !parsed.Hash.IsZero() {
		if c.persistence.HasCommit(parsed.Hash) {
			metrics.Resolves.WithLabelValues("hash").Inc()
			return parsed.Hash, nil
		}
		return core.ZeroHash, fmt.Errorf("%w: %w: commit %s", core.ErrUnknownReference, core.ErrNotFound, pointer)
	}
	return core.ZeroHash, fmt.Errorf("%w: %s", core.ErrUnknownReference, pointer)
}

// CreateBranch creates branch name at the commit from resolves to.
func (c *Catalog) CreateBranch(name, from string) (core.Reference, error) {
	return c.createReference(name, core.Branch, from)
}

// CreateTag creates an immutable tag at the commit from resolves to.
func (c *Catalog) CreateTag(name, from string) (core.Reference, error) {
	return c.createReference(name, core.Tag, from)
}

func (c *Catalog) createReference(name string, kind core.RefKind, from string) (core.Reference, error) {
	defer c.observe("create_reference", time.Now())

	if from == "" {
		from = core.DefaultBranch
	}
	target, err := c.Resolve(from)
	if err != nil {
		return core.Reference{}, err
	}

	ref, err := c.persistence.CreateReference(name, kind, target)
	if err != nil {
		return core.Reference{}, err
	}

	metrics.ReferenceOps.WithLabelValues("create_" + kind.String()).Inc()
	c.logger.Info("reference created",
		zap.String("name", name),
		zap.Stringer("kind", kind),
		zap.String("from", from),
		zap.Stringer("target", target))
	return ref, nil
}

// Commit records state as the new head of branch. expectedParent is the head
// the caller based state on; if the branch has moved since, nothing is
// published and ErrConflict is returned so the caller can re-read and retry.
func (c *Catalog) Commit(branch string, state core.TableState, expectedParent core.Hash, meta core.CommitMeta) (core.Commit, error) {
	defer c.observe("commit", time.Now())

	commit, err := c.commit(branch, state, expectedParent, meta)
	switch {
	case err == nil:
		metrics.Commits.WithLabelValues(metrics.ResultOK).Inc()
		c.logger.Info("commit",
			zap.String("branch", branch),
			zap.Stringer("commit", commit.Hash),
			zap.Stringer("parent", commit.Parent),
			zap.Int("tables", len(state)))
	case core.IsRetryable(err):
		metrics.Commits.WithLabelValues(metrics.ResultConflict).Inc()
		metrics.Conflicts.WithLabelValues("commit").Inc()
		c.logger.Debug("commit lost race",
			zap.String("branch", branch),
			zap.Stringer("expected", expectedParent),
			zap.Error(err))
	default:
		metrics.Commits.WithLabelValues(metrics.ResultError).Inc()
	}
	return commit, err
}

func (c *Catalog) commit(branch string, state core.TableState, expectedParent core.Hash, meta core.CommitMeta) (core.Commit, error) {
	ref, err := c.branch(branch)
	if err != nil {
		return core.Commit{}, err
	}
	if ref.Target != expectedParent {
		return core.Commit{}, fmt.Errorf("%w: branch %s is at %s, expected %s",
			core.ErrConflict, branch, ref.Target.Short(), expectedParent.Short())
	}

	content, err := c.persistence.PutContent(state)
	if err != nil {
		return core.Commit{}, err
	}
	commit, err := c.persistence.AppendCommit(expectedParent, content, c.withDefaults(meta, "Commit to "+branch), c.now())
	if err != nil {
		return core.Commit{}, err
	}
	// a lost race leaves commit behind as an unreferenced orphan
	if _, err := c.persistence.CompareAndAdvance(branch, expectedParent, commit.Hash); err != nil {
		return core.Commit{}, err
	}
	return commit, nil
}

// Merge brings the source reference's head into target branch. When target's
// head is in source's history the branch fast-forwards; otherwise a merge
// commit with the source's table state and target's head as parent is
// appended, even when source's head is an older ancestor of target.
func (c *Catalog) Merge(source, target string, meta core.CommitMeta) (MergeResult, error) {
	defer c.observe("merge", time.Now())

	result, err := c.merge(source, target, meta)
	if err != nil {
		metrics.Merges.WithLabelValues("failed").Inc()
		if core.IsRetryable(err) {
			metrics.Conflicts.WithLabelValues("merge").Inc()
		}
		return MergeResult{}, err
	}

	metrics.Merges.WithLabelValues(result.Kind.String()).Inc()
	c.logger.Info("merge",
		zap.String("source", source),
		zap.String("target", target),
		zap.Stringer("kind", result.Kind),
		zap.Stringer("head", result.Commit.Hash))
	return result, nil
}

func (c *Catalog) merge(source, target string, meta core.CommitMeta) (MergeResult, error) {
	src, err := c.reference(source)
	if err != nil {
		return MergeResult{}, err
	}
	tgt, err := c.branch(target)
	if err != nil {
		return MergeResult{}, err
	}

	srcHead, err := c.persistence.GetCommit(src.Target)
	if err != nil {
		return MergeResult{}, err
	}
	if src.Target == tgt.Target {
		return MergeResult{Kind: UpToDate, Commit: srcHead, Previous: tgt.Target}, nil
	}

	fastForward, err := c.persistence.IsAncestor(tgt.Target, src.Target)
	if err != nil {
		return MergeResult{}, err
	}
	if fastForward {
		if _, err := c.persistence.CompareAndAdvance(target, tgt.Target, src.Target); err != nil {
			return MergeResult{}, err
		}
		return MergeResult{Kind: FastForward, Commit: srcHead, Previous: tgt.Target}, nil
	}

	message := fmt.Sprintf("Merge %s into %s", source, target)
	merged, err := c.persistence.AppendCommit(tgt.Target, srcHead.Content, c.withDefaults(meta, message), c.now())
	if err != nil {
		return MergeResult{}, err
	}
	if _, err := c.persistence.CompareAndAdvance(target, tgt.Target, merged.Hash); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Kind: MergeCommit, Commit: merged, Previous: tgt.Target}, nil
}

// Drop removes a branch or tag. The commits it pointed at stay reachable
// through any other reference or by hash.
func (c *Catalog) Drop(name string) (core.Reference, error) {
	defer c.observe("drop", time.Now())

	ref, err := c.persistence.DeleteReference(name)
	if errors.Is(err, core.ErrNotFound) {
		return core.Reference{}, fmt.Errorf("%w: %w: %s", core.ErrUnknownReference, core.ErrNotFound, name)
	}
	if err != nil {
		return core.Reference{}, err
	}

	metrics.ReferenceOps.WithLabelValues("drop_" + ref.Kind.String()).Inc()
	c.logger.Info("reference dropped",
		zap.String("name", name),
		zap.Stringer("kind", ref.Kind),
		zap.Stringer("target", ref.Target))
	return ref, nil
}

// Assign moves branch name to the commit pointer resolves to, with no
// ancestry requirement. A zero expected means "whatever the head is now".
// Tags can never be reassigned.
func (c *Catalog) Assign(name, pointer string, expected core.Hash) (core.Reference, error) {
	defer c.observe("assign", time.Now())

	ref, err := c.reference(name)
	if err != nil {
		return core.Reference{}, err
	}
	if !ref.IsBranch() {
		return core.Reference{}, fmt.Errorf("%w: tag %s", core.ErrImmutableReference, name)
	}

	target, err := c.Resolve(pointer)
	if err != nil {
		return core.Reference{}, err
	}
	if expected.IsZero() {
		expected = ref.Target
	}

	assigned, err := c.persistence.CompareAndAdvance(name, expected, target)
	if err != nil {
		if core.IsRetryable(err) {
			metrics.Conflicts.WithLabelValues("assign").Inc()
		}
		return core.Reference{}, err
	}

	metrics.ReferenceOps.WithLabelValues("assign").Inc()
	c.logger.Info("reference assigned",
		zap.String("name", name),
		zap.Stringer("from", expected),
		zap.Stringer("to", target))
	return assigned, nil
}

// Head returns the commit a reference currently points at.
func (c *Catalog) Head(name string) (core.Commit, error) {
	ref, err := c.reference(name)
	if err != nil {
		return core.Commit{}, err
	}
	return c.persistence.GetCommit(ref.Target)
}

// References lists branches and tags by name.
func (c *Catalog) References() ([]core.Reference, error) {
	return c.persistence.ListReferences()
}

// Log returns up to limit commits of pointer's history, newest first. A limit
// of zero or less returns the whole history.
func (c *Catalog) Log(pointer string, limit int) ([]core.Commit, error) {
	head, err := c.Resolve(pointer)
	if err != nil {
		return nil, err
	}

	var commits []core.Commit
	for commit, err := range c.persistence.AncestorsOf(head) {
		if err != nil {
			return nil, err
		}
		commits = append(commits, commit)
		if limit > 0 && len(commits) == limit {
			break
		}
	}
	return commits, nil
}

// State returns the commit pointer resolves to and the table state it holds.
func (c *Catalog) State(pointer string) (core.Commit, core.TableState, error) {
	hash, err := c.Resolve(pointer)
	if err != nil {
		return core.Commit{}, nil, err
	}
	commit, err := c.persistence.GetCommit(hash)
	if err != nil {
		return core.Commit{}, nil, err
	}
	state, err := c.persistence.GetContent(commit.Content)
	if err != nil {
		return core.Commit{}, nil, err
	}
	return commit, state, nil
}

// ResolveAsOf returns the newest commit in name's history whose timestamp is
// not after t.
func (c *Catalog) ResolveAsOf(name string, t time.Time) (core.Commit, error) {
	ref, err := c.reference(name)
	if err != nil {
		return core.Commit{}, err
	}

	for commit, err := range c.persistence.AncestorsOf(ref.Target) {
		if err != nil {
			return core.Commit{}, err
		}
		if !commit.Timestamp.After(t) {
			return commit, nil
		}
	}
	return core.Commit{}, fmt.Errorf("%w: %s has no commit before %s",
		core.ErrUnreachableCommit, name, t.UTC().Format(time.RFC3339))
}

// Diff lists the tables that differ between the states two pointers resolve to.
func (c *Catalog) Diff(from, to string) ([]core.TableChange, error) {
	_, fromState, err := c.State(from)
	if err != nil {
		return nil, err
	}
	_, toState, err := c.State(to)
	if err != nil {
		return nil, err
	}
	return core.DiffStates(fromState, toState), nil
}
