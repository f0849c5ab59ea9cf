package sql

type Token struct {
	Type  TokenType
	Value string
}

type TokenType int

const (
	Identifier TokenType = iota
	String
	Int
	Comma
	Equals
	Semicolon
	Create
	Drop
	Branch
	Tag
	Reference
	References
	If
	Not
	Exists
	From
	Assign
	To
	Expect
	Merge
	Into
	Use
	List
	Show
	Log
	Limit
	Tables
	At
	Snapshot
	Diff
	Resolve
	As
	Of
	Commit
	On
	Set
	Remove
	Message
	Ingest
	Query
	Export
	Remote
	Remotes
	Push
	Fetch
	With
	TokenKeyword
	Ssh
	Key
	Passphrase
	User
	Password
	EOF
	Unknown
)

var tokenNames = map[TokenType]string{
	Comma:        "Comma",
	Equals:       "Equals",
	Semicolon:    "Semicolon",
	Create:       "Create",
	Drop:         "Drop",
	Branch:       "Branch",
	Tag:          "Tag",
	Reference:    "Reference",
	References:   "References",
	If:           "If",
	Not:          "Not",
	Exists:       "Exists",
	From:         "From",
	Assign:       "Assign",
	To:           "To",
	Expect:       "Expect",
	Merge:        "Merge",
	Into:         "Into",
	Use:          "Use",
	List:         "List",
	Show:         "Show",
	Log:          "Log",
	Limit:        "Limit",
	Tables:       "Tables",
	At:           "At",
	Snapshot:     "Snapshot",
	Diff:         "Diff",
	Resolve:      "Resolve",
	As:           "As",
	Of:           "Of",
	Commit:       "Commit",
	On:           "On",
	Set:          "Set",
	Remove:       "Remove",
	Message:      "Message",
	Ingest:       "Ingest",
	Query:        "Query",
	Export:       "Export",
	Remote:       "Remote",
	Remotes:      "Remotes",
	Push:         "Push",
	Fetch:        "Fetch",
	With:         "With",
	TokenKeyword: "Token",
	Ssh:          "Ssh",
	Key:          "Key",
	Passphrase:   "Passphrase",
	User:         "User",
	Password:     "Password",
	EOF:          "EOF",
}

// keywords maps upper case words to their token type
var keywords = map[string]TokenType{
	"CREATE":     Create,
	"DROP":       Drop,
	"BRANCH":     Branch,
	"TAG":        Tag,
	"REFERENCE":  Reference,
	"REFERENCES": References,
	"IF":         If,
	"NOT":        Not,
	"EXISTS":     Exists,
	"FROM":       From,
	"ASSIGN":     Assign,
	"TO":         To,
	"EXPECT":     Expect,
	"MERGE":      Merge,
	"INTO":       Into,
	"USE":        Use,
	"LIST":       List,
	"SHOW":       Show,
	"LOG":        Log,
	"LIMIT":      Limit,
	"TABLES":     Tables,
	"AT":         At,
	"SNAPSHOT":   Snapshot,
	"DIFF":       Diff,
	"RESOLVE":    Resolve,
	"AS":         As,
	"OF":         Of,
	"COMMIT":     Commit,
	"ON":         On,
	"SET":        Set,
	"REMOVE":     Remove,
	"MESSAGE":    Message,
	"INGEST":     Ingest,
	"QUERY":      Query,
	"EXPORT":     Export,
	"REMOTE":     Remote,
	"REMOTES":    Remotes,
	"PUSH":       Push,
	"FETCH":      Fetch,
	"WITH":       With,
	"TOKEN":      TokenKeyword,
	"SSH":        Ssh,
	"KEY":        Key,
	"PASSPHRASE": Passphrase,
	"USER":       User,
	"PASSWORD":   Password,
}

func (token Token) String() string {
	switch token.Type {
	case Identifier:
		return "Identifier(" + token.Value + ")"
	case String:
		return "String(" + token.Value + ")"
	case Int:
		return "Int(" + token.Value + ")"
	}
	if name, ok := tokenNames[token.Type]; ok {
		return name
	}
	return "Unknown(" + token.Value + ")"
}

type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(input string) *Lexer {
	lexer := &Lexer{input: input}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.readPosition >= len(lexer.input) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.input[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
}

func (lexer *Lexer) NextToken() Token {
	var token Token

	lexer.skipWhitespace()

	switch lexer.ch {
	case ',':
		token = Token{Type: Comma, Value: ","}
	case '=':
		token = Token{Type: Equals, Value: "="}
	case ';':
		token = Token{Type: Semicolon, Value: ";"}
	case 0:
		return Token{Type: EOF, Value: ""}
	case '\'':
		value, ok := lexer.readString()
		if !ok {
			return Token{Type: Unknown, Value: "'" + value}
		}
		token = Token{Type: String, Value: value}
	default:
		if isWordChar(lexer.ch) {
			word := lexer.readWord()
			if isNumber(word) {
				return Token{Type: Int, Value: word}
			}
			if tokenType, ok := keywords[toUpper(word)]; ok {
				return Token{Type: tokenType, Value: word}
			}
			return Token{Type: Identifier, Value: word}
		}
		token = Token{Type: Unknown, Value: string(lexer.ch)}
	}

	lexer.readChar()
	return token
}

func (lexer *Lexer) PeekToken() Token {
	// Save current state
	savedPosition := lexer.position
	savedReadPosition := lexer.readPosition
	savedCh := lexer.ch

	token := lexer.NextToken()

	// Restore state
	lexer.position = savedPosition
	lexer.readPosition = savedReadPosition
	lexer.ch = savedCh

	return token
}

func (lexer *Lexer) skipWhitespace() {
	for lexer.ch == ' ' || lexer.ch == '\t' || lexer.ch == '\n' || lexer.ch == '\r' {
		lexer.readChar()
	}
}

// readWord reads a bare word. Reference names and pointers may contain
// '/', '-', '.' and '@' without quoting.
func (lexer *Lexer) readWord() string {
	position := lexer.position
	for isWordChar(lexer.ch) {
		lexer.readChar()
	}
	return lexer.input[position:lexer.position]
}

// readString reads a single quoted string; a doubled quote stands for one
// quote character. It reports false when the closing quote is missing.
// On return the lexer sits on the closing quote.
func (lexer *Lexer) readString() (string, bool) {
	var out []byte
	for {
		lexer.readChar()
		switch lexer.ch {
		case 0:
			return string(out), false
		case '\'':
			if lexer.readPosition < len(lexer.input) && lexer.input[lexer.readPosition] == '\'' {
				lexer.readChar()
				out = append(out, '\'')
				continue
			}
			return string(out), true
		default:
			out = append(out, lexer.ch)
		}
	}
}

func isWordChar(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || isDigit(ch) ||
		ch == '_' || ch == '.' || ch == '-' || ch == '/' || ch == '@'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isNumber(word string) bool {
	for i := 0; i < len(word); i++ {
		if !isDigit(word[i]) {
			return false
		}
	}
	return word != ""
}

// toUpper converts a string to uppercase without allocating for ASCII strings
func toUpper(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			b := make([]byte, len(s))
			for j := 0; j < len(s); j++ {
				if s[j] >= 'a' && s[j] <= 'z' {
					b[j] = s[j] - 32
				} else {
					b[j] = s[j]
				}
			}
			return string(b)
		}
	}
	return s
}

func tokenize(input string) []Token {
	lexer := NewLexer(input)

	var tokens []Token

	for {
		token := lexer.NextToken()
		if token.Type == EOF {
			return append(tokens, token)
		}
		tokens = append(tokens, token)
	}
}
