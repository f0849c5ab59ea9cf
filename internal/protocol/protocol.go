// Package protocol defines the JSON responses shared by the TCP server and
// the C bindings: one Response object per executed statement.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/db"
	"github.com/nickyhof/CommitCatalog/sql"
)

// Request is a client statement. Clients may also send the statement as a
// plain text line.
type Request struct {
	Query string `json:"query"`
}

// Response is written for every executed statement.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Kind    string          `json:"kind,omitempty"` // error kind, e.g. "conflict"
	Type    string          `json:"type,omitempty"` // "query", "commit" or "auth"
	Result  json.RawMessage `json:"result,omitempty"`
}

// QueryResponse carries rows read at Commit.
type QueryResponse struct {
	Commit      string     `json:"commit,omitempty"`
	Columns     []string   `json:"columns"`
	Data        [][]string `json:"data"`
	RecordsRead int        `json:"records_read"`
	TimeMs      float64    `json:"time_ms"`
}

// CommitResponse describes a catalog change.
type CommitResponse struct {
	Action        string  `json:"action,omitempty"`
	Reference     string  `json:"reference,omitempty"`
	Commit        string  `json:"commit,omitempty"`
	Merge         string  `json:"merge,omitempty"`
	TablesSet     int     `json:"tables_set,omitempty"`
	TablesRemoved int     `json:"tables_removed,omitempty"`
	TimeMs        float64 `json:"time_ms"`
}

// AuthResponse answers a successful AUTH command.
type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity"`
	ExpiresIn     int    `json:"expires_in,omitempty"` // seconds
}

// Error kinds that do not come from the catalog itself.
const (
	KindSyntax          = "syntax"
	KindUnsupported     = "unsupported"
	KindUnauthenticated = "unauthenticated"
)

// EncodeResponse serializes a Response to JSON with a newline.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeRequest accepts either a JSON request object or a bare statement.
func DecodeRequest(data []byte) (Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Request{Query: string(data)}, nil
	}
	var req Request
	err := json.Unmarshal(data, &req)
	return req, err
}

// ErrorKind maps err to the kind reported to clients.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, sql.ErrSyntax):
		return KindSyntax
	case errors.Is(err, db.ErrNoWarehouse), errors.Is(err, db.ErrReadOnlyDestination):
		return KindUnsupported
	default:
		return core.KindOf(err)
	}
}

func Failure(err error) Response {
	return Response{Success: false, Kind: ErrorKind(err), Error: err.Error()}
}

// FromResult converts the outcome of db.Session.Execute.
func FromResult(result db.Result, err error) Response {
	if err != nil {
		return Failure(err)
	}

	switch r := result.(type) {
	case db.QueryResult:
		qr := QueryResponse{
			Columns:     r.Columns,
			Data:        r.Data,
			RecordsRead: r.RecordsRead,
			TimeMs:      r.ExecutionTimeSec * 1000,
		}
		if qr.Data == nil {
			qr.Data = [][]string{}
		}
		if !r.Commit.IsZero() {
			qr.Commit = r.Commit.String()
		}
		data, _ := json.Marshal(qr)
		return Response{Success: true, Type: "query", Result: data}

	case db.CommitResult:
		cr := CommitResponse{
			Action:        r.Action,
			Reference:     r.Reference,
			Merge:         r.Merge,
			TablesSet:     r.TablesSet,
			TablesRemoved: r.TablesRemoved,
			TimeMs:        r.ExecutionTimeSec * 1000,
		}
		if !r.Commit.IsZero() {
			cr.Commit = r.Commit.String()
		}
		data, _ := json.Marshal(cr)
		return Response{Success: true, Type: "commit", Result: data}

	default:
		return Response{Success: true, Type: "unknown"}
	}
}
