package core

import (
	"fmt"
	"strings"
)

// Pointer is a parsed reference-or-commit expression:
//
//	main          current target of a reference
//	main@<hash>   a commit reachable from the reference (time travel)
//	<hash>        a commit by id
type Pointer struct {
	Name string
	Hash Hash
}

// ParsePointer parses the textual pointer forms. A bare 40-hex string is
// kept in Name as well, since a reference with that name takes precedence.
func ParsePointer(s string) (Pointer, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pointer{}, fmt.Errorf("%w: empty pointer", ErrInvalidPointer)
	}

	name, rest, found := strings.Cut(s, "@")
	if !found {
		hash, _ := ParseHash(s)
		return Pointer{Name: s, Hash: hash}, nil
	}
	if name == "" || rest == "" {
		return Pointer{}, fmt.Errorf("%w: %q", ErrInvalidPointer, s)
	}
	hash, ok := ParseHash(rest)
	if !ok {
		return Pointer{}, fmt.Errorf("%w: %q is not a commit hash", ErrInvalidPointer, rest)
	}
	return Pointer{Name: name, Hash: hash}, nil
}

// IsTimeTravel reports whether the pointer is of the name@hash form.
func (pointer Pointer) IsTimeTravel() bool {
	return pointer.Name != "" && !pointer.Hash.IsZero() && pointer.Name != string(pointer.Hash)
}

func (pointer Pointer) String() string {
	if pointer.IsTimeTravel() {
		return pointer.Name + "@" + string(pointer.Hash)
	}
	if pointer.Name != "" {
		return pointer.Name
	}
	return string(pointer.Hash)
}

// SplitTableRef splits "table@pointer" on the first '@'. A bare table name
// returns an empty pointer.
func SplitTableRef(s string) (table string, pointer string) {
	table, pointer, _ = strings.Cut(strings.TrimSpace(s), "@")
	return table, pointer
}
