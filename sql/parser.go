package sql

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nickyhof/CommitCatalog/core"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("syntax error")

func syntaxError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

type StatementType int

const (
	CreateReferenceStatementType StatementType = iota
	DropReferenceStatementType
	AssignStatementType
	MergeStatementType
	UseReferenceStatementType
	ListReferencesStatementType
	ShowLogStatementType
	ShowTablesStatementType
	ShowSnapshotStatementType
	ShowDiffStatementType
	ResolveStatementType
	CommitStatementType
	IngestStatementType
	QueryStatementType
	ExportStatementType
	AddRemoteStatementType
	ShowRemotesStatementType
	DropRemoteStatementType
	PushStatementType
	FetchStatementType
)

type Statement interface {
	Type() StatementType
}

// Reference statements
type CreateReferenceStatement struct {
	Kind        core.RefKind
	Name        string
	From        string // Optional: pointer to create from, defaults to the session reference
	IfNotExists bool
}

type DropReferenceStatement struct {
	Name    string
	Kind    core.RefKind
	AnyKind bool // DROP REFERENCE
}

type AssignStatement struct {
	Kind   core.RefKind
	Name   string
	To     string
	Expect core.Hash
}

type MergeStatement struct {
	Source string
	Target string // Optional: defaults to the session reference
}

type UseReferenceStatement struct {
	Pointer string
}

type ListReferencesStatement struct{}

type ShowLogStatement struct {
	Pointer string
	Limit   int
}

type ShowTablesStatement struct {
	At string
}

type ShowSnapshotStatement struct {
	Table   string
	Pointer string
}

type ShowDiffStatement struct {
	From string
	To   string
}

type ResolveStatement struct {
	Pointer string
	AsOf    time.Time // zero unless AS OF was given
}

// Commit statements
type SetClause struct {
	Table    string
	Snapshot string
}

type CommitStatement struct {
	Branch  string
	Set     []SetClause
	Remove  []string
	Expect  core.Hash
	Message string
}

type IngestStatement struct {
	File    string
	Table   string
	Branch  string
	Message string
}

type QueryStatement struct {
	SQL string
	At  string
}

type ExportStatement struct {
	URL string
}

// AuthConfig represents authentication configuration for remote operations
type AuthConfig struct {
	Token      string // Token-based authentication
	SSHKeyPath string // Path to SSH private key
	Passphrase string // Passphrase for SSH key
	Username   string // Username for basic auth
	Password   string // Password for basic auth
}

type AddRemoteStatement struct {
	Name string
	URL  string
}

type ShowRemotesStatement struct{}

type DropRemoteStatement struct {
	Name string
}

type PushStatement struct {
	Remote string
	Auth   *AuthConfig
}

type FetchStatement struct {
	Remote string
	Auth   *AuthConfig
}

func (s CreateReferenceStatement) Type() StatementType { return CreateReferenceStatementType }
func (s DropReferenceStatement) Type() StatementType   { return DropReferenceStatementType }
func (s AssignStatement) Type() StatementType          { return AssignStatementType }
func (s MergeStatement) Type() StatementType           { return MergeStatementType }
func (s UseReferenceStatement) Type() StatementType    { return UseReferenceStatementType }
func (s ListReferencesStatement) Type() StatementType  { return ListReferencesStatementType }
func (s ShowLogStatement) Type() StatementType         { return ShowLogStatementType }
func (s ShowTablesStatement) Type() StatementType      { return ShowTablesStatementType }
func (s ShowSnapshotStatement) Type() StatementType    { return ShowSnapshotStatementType }
func (s ShowDiffStatement) Type() StatementType        { return ShowDiffStatementType }
func (s ResolveStatement) Type() StatementType         { return ResolveStatementType }
func (s CommitStatement) Type() StatementType          { return CommitStatementType }
func (s IngestStatement) Type() StatementType          { return IngestStatementType }
func (s QueryStatement) Type() StatementType           { return QueryStatementType }
func (s ExportStatement) Type() StatementType          { return ExportStatementType }
func (s AddRemoteStatement) Type() StatementType       { return AddRemoteStatementType }
func (s ShowRemotesStatement) Type() StatementType     { return ShowRemotesStatementType }
func (s DropRemoteStatement) Type() StatementType      { return DropRemoteStatementType }
func (s PushStatement) Type() StatementType            { return PushStatementType }
func (s FetchStatement) Type() StatementType           { return FetchStatementType }

type Parser struct {
	lexer *Lexer
}

func NewParser(input string) *Parser {
	lexer := NewLexer(input)
	return &Parser{lexer: lexer}
}

// Parse parses a single statement. Trailing input other than a semicolon is
// an error.
func (parser *Parser) Parse() (Statement, error) {
	statement, err := parser.parseStatement()
	if err != nil {
		return nil, err
	}
	if err := parser.expectEnd(); err != nil {
		return nil, err
	}
	return statement, nil
}

func (parser *Parser) parseStatement() (Statement, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case Create:
		return ParseCreate(parser)
	case Drop:
		return ParseDrop(parser)
	case Assign:
		return ParseAssign(parser)
	case Merge:
		return ParseMerge(parser)
	case Use:
		return ParseUse(parser)
	case List:
		if err := parser.expect(References, "REFERENCES after LIST"); err != nil {
			return nil, err
		}
		return ListReferencesStatement{}, nil
	case Show:
		return ParseShow(parser)
	case Resolve:
		return ParseResolve(parser)
	case Commit:
		return ParseCommit(parser)
	case Ingest:
		return ParseIngest(parser)
	case Query:
		return ParseQuery(parser)
	case Export:
		return ParseExport(parser)
	case Push:
		return ParsePush(parser)
	case Fetch:
		return ParseFetch(parser)
	case EOF:
		return nil, syntaxError("empty statement")
	default:
		return nil, syntaxError("unknown statement %s", token)
	}
}

func (parser *Parser) expect(tokenType TokenType, what string) error {
	token := parser.lexer.NextToken()
	if token.Type != tokenType {
		return syntaxError("expected %s, got %s", what, token)
	}
	return nil
}

// accept consumes the next token if it has the given type.
func (parser *Parser) accept(tokenType TokenType) bool {
	if parser.lexer.PeekToken().Type == tokenType {
		parser.lexer.NextToken()
		return true
	}
	return false
}

func (parser *Parser) expectEnd() error {
	parser.accept(Semicolon)
	token := parser.lexer.NextToken()
	if token.Type != EOF {
		return syntaxError("unexpected %s", token)
	}
	return nil
}

// name reads a reference name, pointer or table: a bare word or a quoted
// string, so that names which collide with keywords can still be written.
func (parser *Parser) name(what string) (string, error) {
	token := parser.lexer.NextToken()
	if token.Type != Identifier && token.Type != String && token.Type != Int {
		return "", syntaxError("expected %s, got %s", what, token)
	}
	if token.Value == "" {
		return "", syntaxError("empty %s", what)
	}
	return token.Value, nil
}

func (parser *Parser) str(what string) (string, error) {
	token := parser.lexer.NextToken()
	if token.Type != String {
		return "", syntaxError("expected quoted %s, got %s", what, token)
	}
	return token.Value, nil
}

func (parser *Parser) hash(what string) (core.Hash, error) {
	value, err := parser.name(what)
	if err != nil {
		return core.ZeroHash, err
	}
	hash, ok := core.ParseHash(value)
	if !ok {
		return core.ZeroHash, syntaxError("%s %q is not a commit hash", what, value)
	}
	return hash, nil
}

func (parser *Parser) refKind(allowAny bool) (core.RefKind, bool, error) {
	token := parser.lexer.NextToken()
	switch {
	case token.Type == Branch:
		return core.Branch, false, nil
	case token.Type == Tag:
		return core.Tag, false, nil
	case token.Type == Reference && allowAny:
		return core.Branch, true, nil
	case allowAny:
		return 0, false, syntaxError("expected BRANCH, TAG or REFERENCE, got %s", token)
	default:
		return 0, false, syntaxError("expected BRANCH or TAG, got %s", token)
	}
}

// ParseCreate parses CREATE BRANCH|TAG and CREATE REMOTE statements
// Syntax: CREATE BRANCH|TAG [IF NOT EXISTS] name [FROM pointer]
func ParseCreate(parser *Parser) (Statement, error) {
	if parser.accept(Remote) {
		return ParseAddRemote(parser)
	}

	kind, _, err := parser.refKind(false)
	if err != nil {
		return nil, err
	}
	stmt := CreateReferenceStatement{Kind: kind}

	if parser.accept(If) {
		if err := parser.expect(Not, "NOT after IF"); err != nil {
			return nil, err
		}
		if err := parser.expect(Exists, "EXISTS after IF NOT"); err != nil {
			return nil, err
		}
		stmt.IfNotExists = true
	}

	if stmt.Name, err = parser.name("reference name"); err != nil {
		return nil, err
	}

	if parser.accept(From) {
		if stmt.From, err = parser.name("pointer after FROM"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ParseDrop parses DROP BRANCH|TAG|REFERENCE name and DROP REMOTE name
func ParseDrop(parser *Parser) (Statement, error) {
	if parser.accept(Remote) {
		return ParseDropRemote(parser)
	}

	kind, anyKind, err := parser.refKind(true)
	if err != nil {
		return nil, err
	}
	name, err := parser.name("reference name")
	if err != nil {
		return nil, err
	}
	return DropReferenceStatement{Name: name, Kind: kind, AnyKind: anyKind}, nil
}

// ParseAssign parses ASSIGN BRANCH|TAG name TO pointer [EXPECT hash]
func ParseAssign(parser *Parser) (Statement, error) {
	kind, _, err := parser.refKind(false)
	if err != nil {
		return nil, err
	}
	stmt := AssignStatement{Kind: kind}

	if stmt.Name, err = parser.name("reference name"); err != nil {
		return nil, err
	}
	if err := parser.expect(To, "TO"); err != nil {
		return nil, err
	}
	if stmt.To, err = parser.name("pointer after TO"); err != nil {
		return nil, err
	}
	if parser.accept(Expect) {
		if stmt.Expect, err = parser.hash("EXPECT"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ParseMerge parses MERGE BRANCH source [INTO target]
func ParseMerge(parser *Parser) (Statement, error) {
	// BRANCH is optional
	parser.accept(Branch)

	source, err := parser.name("source branch")
	if err != nil {
		return nil, err
	}
	stmt := MergeStatement{Source: source}

	if parser.accept(Into) {
		if stmt.Target, err = parser.name("target branch"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ParseUse parses USE REFERENCE pointer
func ParseUse(parser *Parser) (Statement, error) {
	parser.accept(Reference)
	pointer, err := parser.name("pointer after USE")
	if err != nil {
		return nil, err
	}
	return UseReferenceStatement{Pointer: pointer}, nil
}

// ParseShow parses the SHOW family:
//
//	SHOW LOG [pointer] [LIMIT n]
//	SHOW TABLES [AT pointer]
//	SHOW SNAPSHOT table[@pointer]
//	SHOW DIFF pointer TO pointer
//	SHOW REFERENCES
//	SHOW REMOTES
func ParseShow(parser *Parser) (Statement, error) {
	token := parser.lexer.NextToken()
	switch token.Type {
	case Log:
		stmt := ShowLogStatement{}
		next := parser.lexer.PeekToken().Type
		if next == Identifier || next == String || next == Int {
			pointer, err := parser.name("pointer")
			if err != nil {
				return nil, err
			}
			stmt.Pointer = pointer
		}
		if parser.accept(Limit) {
			token := parser.lexer.NextToken()
			if token.Type != Int {
				return nil, syntaxError("expected number after LIMIT, got %s", token)
			}
			limit, err := strconv.Atoi(token.Value)
			if err != nil || limit <= 0 {
				return nil, syntaxError("invalid LIMIT %q", token.Value)
			}
			stmt.Limit = limit
		}
		return stmt, nil

	case Tables:
		stmt := ShowTablesStatement{}
		if parser.accept(At) {
			at, err := parser.name("pointer after AT")
			if err != nil {
				return nil, err
			}
			stmt.At = at
		}
		return stmt, nil

	case Snapshot:
		ref, err := parser.name("table")
		if err != nil {
			return nil, err
		}
		table, pointer := core.SplitTableRef(ref)
		return ShowSnapshotStatement{Table: table, Pointer: pointer}, nil

	case Diff:
		from, err := parser.name("pointer")
		if err != nil {
			return nil, err
		}
		if err := parser.expect(To, "TO"); err != nil {
			return nil, err
		}
		to, err := parser.name("pointer after TO")
		if err != nil {
			return nil, err
		}
		return ShowDiffStatement{From: from, To: to}, nil

	case References:
		return ListReferencesStatement{}, nil

	case Remotes:
		return ShowRemotesStatement{}, nil

	default:
		return nil, syntaxError("expected LOG, TABLES, SNAPSHOT, DIFF, REFERENCES or REMOTES after SHOW, got %s", token)
	}
}

// ParseResolve parses RESOLVE pointer [AS OF 'timestamp']
func ParseResolve(parser *Parser) (Statement, error) {
	pointer, err := parser.name("pointer")
	if err != nil {
		return nil, err
	}
	stmt := ResolveStatement{Pointer: pointer}

	if parser.accept(As) {
		if err := parser.expect(Of, "OF after AS"); err != nil {
			return nil, err
		}
		value, err := parser.str("timestamp")
		if err != nil {
			return nil, err
		}
		if stmt.AsOf, err = parseTimestamp(value); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, syntaxError("invalid timestamp %q", value)
}

// ParseCommit parses
// COMMIT [ON branch] SET t = 'snap' [, ...] [REMOVE t [, ...]] [EXPECT hash] [MESSAGE 'text']
// At least one of SET or REMOVE is required.
func ParseCommit(parser *Parser) (Statement, error) {
	var stmt CommitStatement
	var err error

	if parser.accept(On) {
		if stmt.Branch, err = parser.name("branch after ON"); err != nil {
			return nil, err
		}
	}

	if parser.accept(Set) {
		for {
			table, err := parser.name("table")
			if err != nil {
				return nil, err
			}
			if err := parser.expect(Equals, "= after table"); err != nil {
				return nil, err
			}
			snapshot, err := parser.str("snapshot id")
			if err != nil {
				return nil, err
			}
			stmt.Set = append(stmt.Set, SetClause{Table: table, Snapshot: snapshot})
			if !parser.accept(Comma) {
				break
			}
		}
	}

	if parser.accept(Remove) {
		for {
			table, err := parser.name("table")
			if err != nil {
				return nil, err
			}
			stmt.Remove = append(stmt.Remove, table)
			if !parser.accept(Comma) {
				break
			}
		}
	}

	if len(stmt.Set) == 0 && len(stmt.Remove) == 0 {
		return nil, syntaxError("COMMIT needs SET or REMOVE")
	}

	if parser.accept(Expect) {
		if stmt.Expect, err = parser.hash("EXPECT"); err != nil {
			return nil, err
		}
	}
	if parser.accept(Message) {
		if stmt.Message, err = parser.str("message"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ParseIngest parses INGEST 'file.csv' INTO table [ON branch] [MESSAGE 'text']
func ParseIngest(parser *Parser) (Statement, error) {
	var stmt IngestStatement
	var err error

	if stmt.File, err = parser.str("file path"); err != nil {
		return nil, err
	}
	if err := parser.expect(Into, "INTO"); err != nil {
		return nil, err
	}
	if stmt.Table, err = parser.name("table"); err != nil {
		return nil, err
	}
	if parser.accept(On) {
		if stmt.Branch, err = parser.name("branch after ON"); err != nil {
			return nil, err
		}
	}
	if parser.accept(Message) {
		if stmt.Message, err = parser.str("message"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ParseQuery parses QUERY 'select ...' [AT pointer]
func ParseQuery(parser *Parser) (Statement, error) {
	query, err := parser.str("query")
	if err != nil {
		return nil, err
	}
	stmt := QueryStatement{SQL: query}

	if parser.accept(At) {
		if stmt.At, err = parser.name("pointer after AT"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ParseExport parses EXPORT TO 'url'
func ParseExport(parser *Parser) (Statement, error) {
	if err := parser.expect(To, "TO after EXPORT"); err != nil {
		return nil, err
	}
	url, err := parser.str("destination")
	if err != nil {
		return nil, err
	}
	return ExportStatement{URL: url}, nil
}

// ParseAddRemote parses CREATE REMOTE <name> <url> statements
func ParseAddRemote(parser *Parser) (Statement, error) {
	name, err := parser.name("remote name")
	if err != nil {
		return nil, err
	}
	url, err := parser.name("remote URL")
	if err != nil {
		return nil, err
	}
	return AddRemoteStatement{Name: name, URL: url}, nil
}

// ParseDropRemote parses DROP REMOTE <name> statements
func ParseDropRemote(parser *Parser) (Statement, error) {
	name, err := parser.name("remote name")
	if err != nil {
		return nil, err
	}
	return DropRemoteStatement{Name: name}, nil
}

// ParsePush parses PUSH [TO <remote>] [WITH TOKEN 'xxx' | WITH SSH KEY 'path' [PASSPHRASE 'xxx']]
func ParsePush(parser *Parser) (Statement, error) {
	stmt := PushStatement{Remote: "origin"} // default remote
	var err error

	if parser.accept(To) {
		if stmt.Remote, err = parser.name("remote name after TO"); err != nil {
			return nil, err
		}
	}
	if parser.accept(With) {
		if stmt.Auth, err = parseAuth(parser); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ParseFetch parses FETCH [FROM <remote>] [WITH TOKEN 'xxx' | WITH SSH KEY 'path' [PASSPHRASE 'xxx']]
func ParseFetch(parser *Parser) (Statement, error) {
	stmt := FetchStatement{Remote: "origin"} // default remote
	var err error

	if parser.accept(From) {
		if stmt.Remote, err = parser.name("remote name after FROM"); err != nil {
			return nil, err
		}
	}
	if parser.accept(With) {
		if stmt.Auth, err = parseAuth(parser); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// parseAuth parses authentication options: TOKEN 'xxx' | SSH KEY 'path' [PASSPHRASE 'xxx'] | USER 'username' PASSWORD 'password'
func parseAuth(parser *Parser) (*AuthConfig, error) {
	token := parser.lexer.NextToken()
	auth := &AuthConfig{}
	var err error

	switch token.Type {
	case TokenKeyword:
		if auth.Token, err = parser.str("token"); err != nil {
			return nil, err
		}
		return auth, nil

	case Ssh:
		if err := parser.expect(Key, "KEY after SSH"); err != nil {
			return nil, err
		}
		if auth.SSHKeyPath, err = parser.str("key path"); err != nil {
			return nil, err
		}
		if parser.accept(Passphrase) {
			if auth.Passphrase, err = parser.str("passphrase"); err != nil {
				return nil, err
			}
		}
		return auth, nil

	case User:
		if auth.Username, err = parser.str("user name"); err != nil {
			return nil, err
		}
		if err := parser.expect(Password, "PASSWORD after user name"); err != nil {
			return nil, err
		}
		if auth.Password, err = parser.str("password"); err != nil {
			return nil, err
		}
		return auth, nil

	default:
		return nil, syntaxError("expected TOKEN, SSH, or USER after WITH, got %s", token)
	}
}

// Parse is a convenience wrapper around NewParser(input).Parse().
func Parse(input string) (Statement, error) {
	return NewParser(input).Parse()
}
