package ps

import (
	"errors"
	"strings"
	"testing"

	"github.com/nickyhof/CommitCatalog/core"
)

func TestPutContentIdempotent(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		state := core.TableState{"movies": "snap1", "ratings": "snap7"}

		first, err := p.PutContent(state)
		if err != nil {
			t.Fatalf("PutContent failed: %v", err)
		}
		second, err := p.PutContent(state.Clone())
		if err != nil {
			t.Fatalf("PutContent failed: %v", err)
		}
		if first != second {
			t.Errorf("Expected equal states to hash equally: %s vs %s", first, second)
		}

		other, err := p.PutContent(core.TableState{"movies": "snap2", "ratings": "snap7"})
		if err != nil {
			t.Fatalf("PutContent failed: %v", err)
		}
		if other == first {
			t.Error("Expected different states to hash differently")
		}

		got, err := p.GetContent(first)
		if err != nil {
			t.Fatalf("GetContent failed: %v", err)
		}
		if !got.Equal(state) {
			t.Errorf("Expected %v, got %v", state, got)
		}
	})
}

func TestPutContentEmptyState(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		hash, err := p.PutContent(nil)
		if err != nil {
			t.Fatalf("PutContent failed: %v", err)
		}
		again, err := p.PutContent(core.TableState{})
		if err != nil {
			t.Fatalf("PutContent failed: %v", err)
		}
		if hash != again {
			t.Errorf("Expected nil and empty states to hash equally")
		}
	})
}

func TestPutContentInvalid(t *testing.T) {
	p, err := NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}

	for _, state := range []core.TableState{
		{"": "snap"},
		{"a/b": "snap"},
		{"movies@main": "snap"},
		{"movies": ""},
	} {
		if _, err := p.PutContent(state); !errors.Is(err, core.ErrInvalidTableState) {
			t.Errorf("Expected ErrInvalidTableState for %v, got %v", state, err)
		}
	}
}

func TestGetContentNotFound(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, p *Persistence) {
		if _, err := p.GetContent(core.Hash(strings.Repeat("a", 40))); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, err := p.GetContent("nothex"); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for malformed hash, got %v", err)
		}
	})
}

func TestGetContentOfCommitHash(t *testing.T) {
	p, err := NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	root := bootstrapped(t, p)

	if _, err := p.GetContent(root.Hash); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected a commit hash not to resolve as content, got %v", err)
	}
}
