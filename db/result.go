package db

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/nickyhof/CommitCatalog/core"
)

type ResultType int

const (
	QueryResultType ResultType = iota
	CommitResultType
)

type Result interface {
	Type() ResultType
	Render(w io.Writer)
	Display()
}

// QueryResult is a read: reference listings, logs, table states and
// warehouse queries. Commit is the commit the rows were read from, when
// the read was pinned to one.
type QueryResult struct {
	Commit           core.Hash
	Columns          []string
	Data             [][]string
	RecordsRead      int
	ExecutionTimeSec float64
}

// CommitResult is a catalog change. Commit is the head the change left
// Reference at.
type CommitResult struct {
	Action           string
	Reference        string
	Commit           core.Hash
	Merge            string // merge kind, set by MERGE only
	TablesSet        int
	TablesRemoved    int
	ExecutionTimeSec float64
}

func (result QueryResult) Type() ResultType {
	return QueryResultType
}

func (result CommitResult) Type() ResultType {
	return CommitResultType
}

// formatDuration formats a duration in human-readable form
func formatDuration(secs float64) string {
	if secs < 0.001 {
		return "<1ms"
	} else if secs < 1 {
		return fmt.Sprintf("%dms", int(secs*1000))
	} else if secs < 60 {
		if secs < 10 {
			return fmt.Sprintf("%.1fs", secs)
		}
		return fmt.Sprintf("%ds", int(secs))
	}
	mins := int(secs / 60)
	remainSecs := int(secs) % 60
	if remainSecs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm%ds", mins, remainSecs)
}

func (result QueryResult) ExecutionTime() string {
	return formatDuration(result.ExecutionTimeSec)
}

func (result CommitResult) ExecutionTime() string {
	return formatDuration(result.ExecutionTimeSec)
}

func (result QueryResult) Render(w io.Writer) {
	if len(result.Data) > 0 {
		data := NewTable(w)
		data.Header(result.Columns)
		data.Bulk(result.Data)
		data.Render()
	}

	at := ""
	if !result.Commit.IsZero() {
		at = " at " + result.Commit.Short()
	}
	fmt.Fprintf(w, "%d rows%s (%s)\n", result.RecordsRead, at, result.ExecutionTime())
}

func (result QueryResult) Display() {
	result.Render(os.Stdout)
}

func (result CommitResult) Render(w io.Writer) {
	var parts []string

	if result.Action != "" {
		parts = append(parts, result.Action)
	}
	if result.Reference != "" {
		parts = append(parts, result.Reference)
	}
	if !result.Commit.IsZero() {
		parts = append(parts, "-> "+color.YellowString(result.Commit.Short()))
	}
	if result.Merge != "" {
		parts = append(parts, "["+result.Merge+"]")
	}
	if result.TablesSet > 0 {
		parts = append(parts, fmt.Sprintf("%d table(s) set", result.TablesSet))
	}
	if result.TablesRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d table(s) removed", result.TablesRemoved))
	}

	if len(parts) == 0 {
		fmt.Fprintf(w, "OK (%s)\n", result.ExecutionTime())
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", strings.Join(parts, " "), result.ExecutionTime())
}

func (result CommitResult) Display() {
	result.Render(os.Stdout)
}
