package db

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

var headerColor = color.New(color.Bold, color.FgCyan)

// SimpleTable renders rows as a boxed ASCII table. Header cells are bolded
// when the writer is a terminal that supports color.
type SimpleTable struct {
	writer  io.Writer
	headers []string
	rows    [][]string
}

// NewTable creates a new table writer
func NewTable(w io.Writer) *SimpleTable {
	return &SimpleTable{
		writer: w,
		rows:   make([][]string, 0),
	}
}

// Header sets the table headers
func (t *SimpleTable) Header(headers []string) {
	t.headers = headers
}

// Row adds a single row
func (t *SimpleTable) Row(row []string) {
	t.rows = append(t.rows, row)
}

// Bulk adds multiple rows
func (t *SimpleTable) Bulk(rows [][]string) {
	t.rows = append(t.rows, rows...)
}

// Render outputs the formatted table
func (t *SimpleTable) Render() {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return
	}

	colWidths := t.calculateWidths()
	separator := t.buildSeparator(colWidths)

	fmt.Fprintln(t.writer, separator)

	if len(t.headers) > 0 {
		fmt.Fprintln(t.writer, t.formatRow(t.headers, colWidths, headerColor.Sprint))
		fmt.Fprintln(t.writer, separator)
	}

	for _, row := range t.rows {
		fmt.Fprintln(t.writer, t.formatRow(row, colWidths, nil))
	}

	fmt.Fprintln(t.writer, separator)
}

// calculateWidths determines the width needed for each column, in runes
func (t *SimpleTable) calculateWidths() []int {
	numCols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > numCols {
			numCols = len(row)
		}
	}

	widths := make([]int, numCols)
	for i, h := range t.headers {
		widths[i] = max(widths[i], utf8.RuneCountInString(h))
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	for i := range widths {
		widths[i] = max(widths[i], 1)
	}
	return widths
}

func (t *SimpleTable) buildSeparator(widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w+2)
	}
	return "+" + strings.Join(parts, "+") + "+"
}

// formatRow pads each cell to its column width. paint, when set, wraps the
// cell text after padding is computed so color codes don't skew widths.
func (t *SimpleTable) formatRow(row []string, widths []int, paint func(...any) string) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell)+1)
		if paint != nil {
			cell = paint(cell)
		}
		parts[i] = " " + cell + pad
	}
	return "|" + strings.Join(parts, "|") + "|"
}
