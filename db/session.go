package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/op"
	"github.com/nickyhof/CommitCatalog/ps"
	"github.com/nickyhof/CommitCatalog/sql"
	"go.uber.org/zap"
)

// ErrNoWarehouse is returned by INGEST and QUERY on a session that has no
// execution engine attached.
var ErrNoWarehouse = errors.New("no warehouse configured")

// Warehouse is the execution engine that owns table data. The catalog only
// records the snapshot ids it hands out.
type Warehouse interface {
	// Ingest loads file as a new immutable snapshot of table and returns
	// its snapshot id.
	Ingest(ctx context.Context, file, table string) (string, error)
	// Query runs query with every table in tables bound to its snapshot.
	Query(ctx context.Context, tables core.TableState, query string) ([]string, [][]string, error)
}

// Session executes statements against a catalog on behalf of one client.
// It carries the only per-client state: the pointer unqualified statements
// default to and the commit author.
type Session struct {
	catalog   *Catalog
	resolver  *Resolver
	warehouse Warehouse
	remote    *RemoteConfig
	logger    *zap.Logger

	mu        sync.Mutex
	reference string
	detached  bool
	identity  core.Identity
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithWarehouse attaches the engine INGEST and QUERY run on
func WithWarehouse(w Warehouse) SessionOption {
	return func(s *Session) {
		s.warehouse = w
	}
}

// WithRemoteConfig sets the S3 settings EXPORT uses
func WithRemoteConfig(cfg *RemoteConfig) SessionOption {
	return func(s *Session) {
		s.remote = cfg
	}
}

// WithSessionIdentity sets the author of the session's commits
func WithSessionIdentity(identity core.Identity) SessionOption {
	return func(s *Session) {
		s.identity = identity
	}
}

func NewSession(catalog *Catalog, opts ...SessionOption) *Session {
	s := &Session{
		catalog:   catalog,
		resolver:  NewResolver(catalog),
		logger:    catalog.logger,
		reference: core.DefaultBranch,
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Reference returns the pointer unqualified statements use.
func (s *Session) Reference() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reference
}

// SetIdentity changes the author of subsequent commits.
func (s *Session) SetIdentity(identity core.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
}

func (s *Session) meta(message string) core.CommitMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.CommitMeta{Author: s.identity, Message: message}
}

// pointerOr returns pointer, or the session reference when it is empty.
func (s *Session) pointerOr(pointer string) string {
	if pointer != "" {
		return pointer
	}
	return s.Reference()
}

// branchOr returns branch, or the session reference when it is empty. A
// session parked on a hash or name@hash has no branch to write to.
func (s *Session) branchOr(branch string) (string, error) {
	if branch != "" {
		return branch, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return "", fmt.Errorf("%w: session is detached at %s", core.ErrNotABranch, s.reference)
	}
	return s.reference, nil
}

// Execute parses and runs one statement.
func (s *Session) Execute(ctx context.Context, input string) (Result, error) {
	statement, err := sql.Parse(input)
	if err != nil {
		return nil, err
	}

	switch statement.Type() {
	case sql.CreateReferenceStatementType:
		return s.executeCreateReference(statement.(sql.CreateReferenceStatement))
	case sql.DropReferenceStatementType:
		return s.executeDropReference(statement.(sql.DropReferenceStatement))
	case sql.AssignStatementType:
		return s.executeAssign(statement.(sql.AssignStatement))
	case sql.MergeStatementType:
		return s.executeMerge(statement.(sql.MergeStatement))
	case sql.UseReferenceStatementType:
		return s.executeUse(statement.(sql.UseReferenceStatement))
	case sql.ListReferencesStatementType:
		return s.executeListReferences()
	case sql.ShowLogStatementType:
		return s.executeShowLog(statement.(sql.ShowLogStatement))
	case sql.ShowTablesStatementType:
		return s.executeShowTables(statement.(sql.ShowTablesStatement))
	case sql.ShowSnapshotStatementType:
		return s.executeShowSnapshot(statement.(sql.ShowSnapshotStatement))
	case sql.ShowDiffStatementType:
		return s.executeShowDiff(statement.(sql.ShowDiffStatement))
	case sql.ResolveStatementType:
		return s.executeResolve(statement.(sql.ResolveStatement))
	case sql.CommitStatementType:
		return s.executeCommit(ctx, statement.(sql.CommitStatement))
	case sql.IngestStatementType:
		return s.executeIngest(ctx, statement.(sql.IngestStatement))
	case sql.QueryStatementType:
		return s.executeQuery(ctx, statement.(sql.QueryStatement))
	case sql.ExportStatementType:
		return s.executeExport(ctx, statement.(sql.ExportStatement))
	case sql.AddRemoteStatementType:
		return s.executeAddRemote(statement.(sql.AddRemoteStatement))
	case sql.ShowRemotesStatementType:
		return s.executeShowRemotes()
	case sql.DropRemoteStatementType:
		return s.executeDropRemote(statement.(sql.DropRemoteStatement))
	case sql.PushStatementType:
		return s.executePush(statement.(sql.PushStatement))
	case sql.FetchStatementType:
		return s.executeFetch(statement.(sql.FetchStatement))
	default:
		return nil, fmt.Errorf("unsupported statement type: %v", statement.Type())
	}
}

func (s *Session) executeCreateReference(statement sql.CreateReferenceStatement) (CommitResult, error) {
	startTime := time.Now()
	action := "create " + strings.ToLower(statement.Kind.String())

	if statement.IfNotExists {
		if existing, err := s.catalog.persistence.GetReference(statement.Name); err == nil {
			if existing.Kind != statement.Kind {
				return CommitResult{}, fmt.Errorf("%w: %s is a %s",
					core.ErrAlreadyExists, existing.Name, strings.ToLower(existing.Kind.String()))
			}
			return CommitResult{
				Action:           "exists " + strings.ToLower(existing.Kind.String()),
				Reference:        existing.Name,
				Commit:           existing.Target,
				ExecutionTimeSec: time.Since(startTime).Seconds(),
			}, nil
		}
	}

	from := s.pointerOr(statement.From)
	var ref core.Reference
	var err error
	if statement.Kind == core.Tag {
		ref, err = s.catalog.CreateTag(statement.Name, from)
	} else {
		ref, err = s.catalog.CreateBranch(statement.Name, from)
	}
	if err != nil {
		return CommitResult{}, err
	}

	return CommitResult{
		Action:           action,
		Reference:        ref.Name,
		Commit:           ref.Target,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeDropReference(statement sql.DropReferenceStatement) (CommitResult, error) {
	startTime := time.Now()

	if !statement.AnyKind {
		existing, err := s.catalog.reference(statement.Name)
		if err != nil {
			return CommitResult{}, err
		}
		if existing.Kind != statement.Kind {
			return CommitResult{}, fmt.Errorf("%w: no %s named %s",
				core.ErrUnknownReference, strings.ToLower(statement.Kind.String()), statement.Name)
		}
	}

	dropped, err := s.catalog.Drop(statement.Name)
	if err != nil {
		return CommitResult{}, err
	}

	s.mu.Lock()
	if s.reference == dropped.Name {
		s.reference = core.DefaultBranch
		s.detached = false
	}
	s.mu.Unlock()

	return CommitResult{
		Action:           "drop " + strings.ToLower(dropped.Kind.String()),
		Reference:        dropped.Name,
		Commit:           dropped.Target,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeAssign(statement sql.AssignStatement) (CommitResult, error) {
	startTime := time.Now()

	if statement.Kind == core.Tag {
		return CommitResult{}, fmt.Errorf("%w: tag %s", core.ErrImmutableReference, statement.Name)
	}

	ref, err := s.catalog.Assign(statement.Name, statement.To, statement.Expect)
	if err != nil {
		return CommitResult{}, err
	}

	return CommitResult{
		Action:           "assign branch",
		Reference:        ref.Name,
		Commit:           ref.Target,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeMerge(statement sql.MergeStatement) (CommitResult, error) {
	startTime := time.Now()

	target, err := s.branchOr(statement.Target)
	if err != nil {
		return CommitResult{}, err
	}

	result, err := s.catalog.Merge(statement.Source, target, s.meta(""))
	if err != nil {
		return CommitResult{}, err
	}

	return CommitResult{
		Action:           "merge " + statement.Source + " into",
		Reference:        target,
		Commit:           result.Commit.Hash,
		Merge:            result.Kind.String(),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeUse(statement sql.UseReferenceStatement) (QueryResult, error) {
	startTime := time.Now()

	hash, err := s.catalog.Resolve(statement.Pointer)
	if err != nil {
		return QueryResult{}, err
	}

	pointer, err := core.ParsePointer(statement.Pointer)
	if err != nil {
		return QueryResult{}, err
	}
	detached := pointer.IsTimeTravel()
	if !detached {
		_, lookupErr := s.catalog.persistence.GetReference(pointer.Name)
		detached = lookupErr != nil
	}

	s.mu.Lock()
	s.reference = pointer.String()
	s.detached = detached
	s.mu.Unlock()

	s.logger.Debug("session reference changed",
		zap.String("pointer", pointer.String()),
		zap.Bool("detached", detached))

	return QueryResult{
		Commit:           hash,
		Columns:          []string{"Reference", "Commit"},
		Data:             [][]string{{pointer.String(), hash.String()}},
		RecordsRead:      1,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeListReferences() (QueryResult, error) {
	startTime := time.Now()

	refs, err := s.catalog.References()
	if err != nil {
		return QueryResult{}, err
	}

	current := s.Reference()
	data := make([][]string, len(refs))
	for i, ref := range refs {
		isCurrent := ""
		if ref.Name == current {
			isCurrent = "*"
		}
		data[i] = []string{ref.Name, ref.Kind.String(), ref.Target.String(), isCurrent}
	}

	return QueryResult{
		Columns:          []string{"Name", "Kind", "Target", "Current"},
		Data:             data,
		RecordsRead:      len(data),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeShowLog(statement sql.ShowLogStatement) (QueryResult, error) {
	startTime := time.Now()

	commits, err := s.catalog.Log(s.pointerOr(statement.Pointer), statement.Limit)
	if err != nil {
		return QueryResult{}, err
	}

	data := make([][]string, len(commits))
	for i, commit := range commits {
		data[i] = []string{
			commit.Hash.String(),
			commit.Parent.Short(),
			commit.Meta.Author.String(),
			commit.Timestamp.UTC().Format(time.RFC3339),
			commit.Meta.Message,
		}
	}

	result := QueryResult{
		Columns:          []string{"Commit", "Parent", "Author", "Timestamp", "Message"},
		Data:             data,
		RecordsRead:      len(data),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}
	if len(commits) > 0 {
		result.Commit = commits[0].Hash
	}
	return result, nil
}

func (s *Session) executeShowTables(statement sql.ShowTablesStatement) (QueryResult, error) {
	startTime := time.Now()

	state, at, err := s.resolver.Tables(s.pointerOr(statement.At))
	if err != nil {
		return QueryResult{}, err
	}

	tables := state.Tables()
	data := make([][]string, len(tables))
	for i, table := range tables {
		data[i] = []string{table, state[table]}
	}

	return QueryResult{
		Commit:           at,
		Columns:          []string{"Table", "Snapshot"},
		Data:             data,
		RecordsRead:      len(data),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeShowSnapshot(statement sql.ShowSnapshotStatement) (QueryResult, error) {
	startTime := time.Now()

	snapshot, err := s.resolver.snapshot(statement.Table, s.pointerOr(statement.Pointer))
	if err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Commit:           snapshot.Commit,
		Columns:          []string{"Table", "Snapshot", "Commit"},
		Data:             [][]string{{snapshot.Table, snapshot.SnapshotID, snapshot.Commit.String()}},
		RecordsRead:      1,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeShowDiff(statement sql.ShowDiffStatement) (QueryResult, error) {
	startTime := time.Now()

	changes, err := s.catalog.Diff(statement.From, statement.To)
	if err != nil {
		return QueryResult{}, err
	}

	data := make([][]string, len(changes))
	for i, change := range changes {
		kind := "modified"
		switch {
		case change.Added():
			kind = "added"
		case change.Removed():
			kind = "removed"
		}
		data[i] = []string{change.Table, kind, change.From, change.To}
	}

	return QueryResult{
		Columns:          []string{"Table", "Change", "From", "To"},
		Data:             data,
		RecordsRead:      len(data),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeResolve(statement sql.ResolveStatement) (QueryResult, error) {
	startTime := time.Now()

	var commit core.Commit
	if statement.AsOf.IsZero() {
		hash, err := s.catalog.Resolve(statement.Pointer)
		if err != nil {
			return QueryResult{}, err
		}
		if commit, err = s.catalog.persistence.GetCommit(hash); err != nil {
			return QueryResult{}, err
		}
	} else {
		var err error
		if commit, err = s.catalog.ResolveAsOf(statement.Pointer, statement.AsOf); err != nil {
			return QueryResult{}, err
		}
	}

	return QueryResult{
		Commit:  commit.Hash,
		Columns: []string{"Pointer", "Commit", "Timestamp"},
		Data: [][]string{{
			statement.Pointer,
			commit.Hash.String(),
			commit.Timestamp.UTC().Format(time.RFC3339),
		}},
		RecordsRead:      1,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

// applyChanges edits state in place. Removing an absent table is an error so
// that a retried mutation fails the same way every time.
func applyChanges(state core.TableState, set []sql.SetClause, remove []string) error {
	for _, clause := range set {
		state[clause.Table] = clause.Snapshot
	}
	for _, table := range remove {
		if _, ok := state[table]; !ok {
			return fmt.Errorf("%w: %s", core.ErrTableNotFound, table)
		}
		delete(state, table)
	}
	return nil
}

func (s *Session) executeCommit(ctx context.Context, statement sql.CommitStatement) (CommitResult, error) {
	startTime := time.Now()

	branch, err := s.branchOr(statement.Branch)
	if err != nil {
		return CommitResult{}, err
	}
	meta := s.meta(statement.Message)

	var commit core.Commit
	if !statement.Expect.IsZero() {
		// EXPECT pins the base: no retry, a moved head is the caller's conflict
		_, state, err := s.catalog.State(statement.Expect.String())
		if err != nil {
			return CommitResult{}, err
		}
		if err := applyChanges(state, statement.Set, statement.Remove); err != nil {
			return CommitResult{}, err
		}
		commit, err = s.catalog.Commit(branch, state, statement.Expect, meta)
		if err != nil {
			return CommitResult{}, err
		}
	} else {
		commit, err = op.CommitWithRetry(ctx, s.catalog, branch, func(state core.TableState) error {
			return applyChanges(state, statement.Set, statement.Remove)
		}, meta)
		if err != nil {
			return CommitResult{}, err
		}
	}

	return CommitResult{
		Action:           "commit",
		Reference:        branch,
		Commit:           commit.Hash,
		TablesSet:        len(statement.Set),
		TablesRemoved:    len(statement.Remove),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeIngest(ctx context.Context, statement sql.IngestStatement) (CommitResult, error) {
	startTime := time.Now()

	if s.warehouse == nil {
		return CommitResult{}, ErrNoWarehouse
	}
	if err := core.ValidateTableName(statement.Table); err != nil {
		return CommitResult{}, err
	}
	branch, err := s.branchOr(statement.Branch)
	if err != nil {
		return CommitResult{}, err
	}

	snapshot, err := s.warehouse.Ingest(ctx, statement.File, statement.Table)
	if err != nil {
		return CommitResult{}, fmt.Errorf("ingest %s: %w", statement.File, err)
	}

	message := statement.Message
	if message == "" {
		message = fmt.Sprintf("Ingest %s into %s", statement.File, statement.Table)
	}
	branchOp, err := op.GetBranch(branch, s.catalog, s.meta(message))
	if err != nil {
		return CommitResult{}, err
	}
	commit, err := branchOp.Put(ctx, statement.Table, snapshot)
	if err != nil {
		return CommitResult{}, err
	}

	s.logger.Info("snapshot ingested",
		zap.String("table", statement.Table),
		zap.String("snapshot", snapshot),
		zap.String("branch", branch))

	return CommitResult{
		Action:           "ingest " + statement.Table + " on",
		Reference:        branch,
		Commit:           commit.Hash,
		TablesSet:        1,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeQuery(ctx context.Context, statement sql.QueryStatement) (QueryResult, error) {
	startTime := time.Now()

	if s.warehouse == nil {
		return QueryResult{}, ErrNoWarehouse
	}

	state, at, err := s.resolver.Tables(s.pointerOr(statement.At))
	if err != nil {
		return QueryResult{}, err
	}

	columns, rows, err := s.warehouse.Query(ctx, state, statement.SQL)
	if err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Commit:           at,
		Columns:          columns,
		Data:             rows,
		RecordsRead:      len(rows),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeExport(ctx context.Context, statement sql.ExportStatement) (QueryResult, error) {
	startTime := time.Now()

	archive, err := Export(ctx, s.catalog.persistence, statement.URL, s.remote)
	if err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Columns: []string{"Destination", "References", "Commits", "Contents"},
		Data: [][]string{{
			statement.URL,
			fmt.Sprint(len(archive.References)),
			fmt.Sprint(len(archive.Commits)),
			fmt.Sprint(len(archive.Contents)),
		}},
		RecordsRead:      1,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeAddRemote(statement sql.AddRemoteStatement) (QueryResult, error) {
	startTime := time.Now()

	if err := s.catalog.persistence.AddRemote(statement.Name, statement.URL); err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Columns:          []string{"Status"},
		Data:             [][]string{{fmt.Sprintf("Remote '%s' added", statement.Name)}},
		RecordsRead:      1,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeShowRemotes() (QueryResult, error) {
	startTime := time.Now()

	remotes, err := s.catalog.persistence.ListRemotes()
	if err != nil {
		return QueryResult{}, err
	}

	data := make([][]string, len(remotes))
	for i, remote := range remotes {
		data[i] = []string{remote.Name, strings.Join(remote.URLs, ", ")}
	}

	return QueryResult{
		Columns:          []string{"Name", "URLs"},
		Data:             data,
		RecordsRead:      len(remotes),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executeDropRemote(statement sql.DropRemoteStatement) (QueryResult, error) {
	startTime := time.Now()

	if err := s.catalog.persistence.RemoveRemote(statement.Name); err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Columns:          []string{"Status"},
		Data:             [][]string{{fmt.Sprintf("Remote '%s' removed", statement.Name)}},
		RecordsRead:      1,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

func (s *Session) executePush(statement sql.PushStatement) (QueryResult, error) {
	startTime := time.Now()

	if err := s.catalog.persistence.Push(statement.Remote, convertAuthConfig(statement.Auth)); err != nil {
		return QueryResult{}, err
	}
	s.logger.Info("pushed catalog", zap.String("remote", statement.Remote))

	return QueryResult{
		Columns:          []string{"Status"},
		Data:             [][]string{{fmt.Sprintf("Pushed to '%s'", statement.Remote)}},
		RecordsRead:      1,
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

// executeFetch downloads the remote's branches into remote-tracking refs and
// lists them. Catalog references are never touched.
func (s *Session) executeFetch(statement sql.FetchStatement) (QueryResult, error) {
	startTime := time.Now()

	if err := s.catalog.persistence.Fetch(statement.Remote, convertAuthConfig(statement.Auth)); err != nil {
		return QueryResult{}, err
	}
	branches, err := s.catalog.persistence.RemoteBranches(statement.Remote)
	if err != nil {
		return QueryResult{}, err
	}

	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([][]string, len(names))
	for i, name := range names {
		data[i] = []string{statement.Remote + "/" + name, branches[name].String()}
	}

	return QueryResult{
		Columns:          []string{"Remote Branch", "Commit"},
		Data:             data,
		RecordsRead:      len(data),
		ExecutionTimeSec: time.Since(startTime).Seconds(),
	}, nil
}

// convertAuthConfig converts sql.AuthConfig to ps.RemoteAuth
func convertAuthConfig(auth *sql.AuthConfig) *ps.RemoteAuth {
	if auth == nil {
		return nil
	}

	if auth.Token != "" {
		return &ps.RemoteAuth{
			Type:  ps.AuthTypeToken,
			Token: auth.Token,
		}
	}

	if auth.SSHKeyPath != "" {
		return &ps.RemoteAuth{
			Type:       ps.AuthTypeSSH,
			KeyPath:    auth.SSHKeyPath,
			Passphrase: auth.Passphrase,
		}
	}

	if auth.Username != "" {
		return &ps.RemoteAuth{
			Type:     ps.AuthTypeBasic,
			Username: auth.Username,
			Password: auth.Password,
		}
	}

	return nil
}
