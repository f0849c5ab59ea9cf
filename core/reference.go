package core

import (
	"fmt"
	"strings"
	"unicode"
)

// RefKind distinguishes mutable branches from write-once tags.
type RefKind int

const (
	Branch RefKind = iota
	Tag
)

func (kind RefKind) String() string {
	switch kind {
	case Branch:
		return "BRANCH"
	case Tag:
		return "TAG"
	default:
		return fmt.Sprintf("RefKind(%d)", int(kind))
	}
}

// MarshalText encodes the kind as its lower case name.
func (kind RefKind) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(kind.String())), nil
}

func (kind *RefKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "branch":
		*kind = Branch
	case "tag":
		*kind = Tag
	default:
		return fmt.Errorf("unknown reference kind %q", text)
	}
	return nil
}

// DefaultBranch is created together with the root commit.
const DefaultBranch = "main"

// Reference is a named pointer to a commit.
type Reference struct {
	Name   string  `json:"name"`
	Kind   RefKind `json:"kind"`
	Target Hash    `json:"target"`
}

func (ref Reference) IsBranch() bool {
	return ref.Kind == Branch
}

func (ref Reference) String() string {
	return fmt.Sprintf("%s %s -> %s", ref.Kind, ref.Name, ref.Target.Short())
}

// ValidateReferenceName rejects names that cannot be stored as git
// references or that collide with the name@hash pointer syntax.
func ValidateReferenceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, "/") ||
		strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") ||
		strings.HasSuffix(name, ".") || strings.Contains(name, "..") ||
		strings.Contains(name, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("@~^:?*[\\", r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
		}
	}
	return nil
}
