package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// TableState maps fully qualified table names to the opaque snapshot
// identifiers owned by the table snapshot store.
type TableState map[string]string

// Tables returns the table names in lexicographic order.
func (state TableState) Tables() []string {
	return slices.Sorted(maps.Keys(state))
}

// Clone returns an independent copy that is never nil.
func (state TableState) Clone() TableState {
	clone := make(TableState, len(state))
	maps.Copy(clone, state)
	return clone
}

func (state TableState) Equal(other TableState) bool {
	return maps.Equal(state, other)
}

// Validate checks that every entry can be content addressed.
func (state TableState) Validate() error {
	for table, snapshot := range state {
		if err := ValidateTableName(table); err != nil {
			return err
		}
		if snapshot == "" {
			return fmt.Errorf("%w: empty snapshot id for table %q", ErrInvalidTableState, table)
		}
	}
	return nil
}

func ValidateTableName(table string) error {
	if table == "" || table == "." || table == ".." ||
		strings.ContainsAny(table, "/\x00") || strings.Contains(table, "@") {
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidTableState, table)
	}
	return nil
}

// TableChange describes how a single table differs between two states.
type TableChange struct {
	Table string `json:"table"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

func (change TableChange) Added() bool   { return change.From == "" && change.To != "" }
func (change TableChange) Removed() bool { return change.From != "" && change.To == "" }

// DiffStates lists the tables whose snapshot differs, ordered by table name.
func DiffStates(from, to TableState) []TableChange {
	names := make(map[string]struct{}, len(from)+len(to))
	for table := range from {
		names[table] = struct{}{}
	}
	for table := range to {
		names[table] = struct{}{}
	}

	var changes []TableChange
	for _, table := range slices.Sorted(maps.Keys(names)) {
		if from[table] != to[table] {
			changes = append(changes, TableChange{Table: table, From: from[table], To: to[table]})
		}
	}
	return changes
}
