package core

import (
	"fmt"
	"time"
)

// CommitMeta is the caller supplied part of a commit.
type CommitMeta struct {
	Author  Identity `json:"author"`
	Message string   `json:"message"`
}

// Commit is an immutable record linking a parent commit to a table state.
// Parent is the zero hash only for a root commit.
type Commit struct {
	Hash      Hash       `json:"hash"`
	Parent    Hash       `json:"parent,omitempty"`
	Content   Hash       `json:"content"`
	Meta      CommitMeta `json:"meta"`
	Timestamp time.Time  `json:"timestamp"`
}

// IsRoot reports whether the commit has no parent.
func (commit Commit) IsRoot() bool {
	return commit.Parent.IsZero()
}

func (commit Commit) String() string {
	return fmt.Sprintf("Commit{Hash: %s, Parent: %s, Content: %s, Author: %s, When: %s}",
		commit.Hash.Short(), commit.Parent.Short(), commit.Content.Short(), commit.Meta.Author, commit.Timestamp)
}
