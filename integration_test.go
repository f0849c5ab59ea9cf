package CommitCatalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/db"
	"github.com/nickyhof/CommitCatalog/ps"
	"golang.org/x/sync/errgroup"
)

var testIdentity = core.Identity{Name: "test", Email: "test@test.com"}

// TestFunc is the signature for test functions that work with any persistence
type TestFunc func(t *testing.T, instance *Instance)

// runWithBothPersistence runs a test function with both memory and file persistence
func runWithBothPersistence(t *testing.T, testFunc TestFunc) {
	t.Run("Memory", func(t *testing.T) {
		persistence, err := ps.NewMemoryPersistence()
		if err != nil {
			t.Fatalf("Failed to initialize memory persistence: %v", err)
		}
		instance, err := Open(persistence)
		if err != nil {
			t.Fatalf("Failed to open catalog: %v", err)
		}
		testFunc(t, instance)
	})

	t.Run("File", func(t *testing.T) {
		persistence, err := ps.NewFilePersistence(t.TempDir())
		if err != nil {
			t.Fatalf("Failed to initialize file persistence: %v", err)
		}
		instance, err := Open(persistence)
		if err != nil {
			t.Fatalf("Failed to open catalog: %v", err)
		}
		testFunc(t, instance)
	})
}

func execute(t *testing.T, session *db.Session, statement string) db.Result {
	t.Helper()
	result, err := session.Execute(context.Background(), statement)
	if err != nil {
		t.Fatalf("%s: %v", statement, err)
	}
	return result
}

// TestIntegrationWorkflow walks the notebook flow: stage data on a branch,
// promote it to main and pin the result with a tag.
func TestIntegrationWorkflow(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, instance *Instance) {
		if !instance.Bootstrapped {
			t.Fatal("Expected a fresh store to be bootstrapped")
		}
		session := instance.Session(testIdentity)

		execute(t, session, "CREATE BRANCH raw FROM main")
		execute(t, session, "COMMIT ON raw SET movies = 'snap1'")
		execute(t, session, "CREATE BRANCH dev FROM raw")
		execute(t, session, "COMMIT ON dev SET movies = 'snap2'")
		execute(t, session, "MERGE BRANCH dev INTO main")
		execute(t, session, "CREATE TAG report FROM main")

		resolver := db.NewResolver(instance.Catalog(testIdentity))
		snapshot, err := resolver.SnapshotFor("movies@report")
		if err != nil {
			t.Fatalf("Failed to resolve movies@report: %v", err)
		}
		if snapshot.SnapshotID != "snap2" {
			t.Errorf("Expected snap2, got %s", snapshot.SnapshotID)
		}

		// main moves on, the tag does not
		execute(t, session, "COMMIT SET movies = 'snap3'")
		id, err := resolver.TableSnapshotFor("movies", "report")
		if err != nil {
			t.Fatalf("Failed to resolve movies at report: %v", err)
		}
		if id != "snap2" {
			t.Errorf("Expected tag to still see snap2, got %s", id)
		}
		id, err = resolver.TableSnapshotFor("movies", "raw")
		if err != nil {
			t.Fatalf("Failed to resolve movies at raw: %v", err)
		}
		if id != "snap1" {
			t.Errorf("Expected raw to keep snap1, got %s", id)
		}
	})
}

func TestIntegrationTimeTravel(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, instance *Instance) {
		session := instance.Session(testIdentity)

		var commits []core.Hash
		for i := 1; i <= 3; i++ {
			result := execute(t, session, fmt.Sprintf("COMMIT SET orders = 'v%d'", i))
			commits = append(commits, result.(db.CommitResult).Commit)
		}

		resolver := db.NewResolver(instance.Catalog(testIdentity))
		for i, hash := range commits {
			id, err := resolver.TableSnapshotFor("orders", "main@"+hash.String())
			if err != nil {
				t.Fatalf("Failed to time travel to %s: %v", hash.Short(), err)
			}
			if want := fmt.Sprintf("v%d", i+1); id != want {
				t.Errorf("At %s expected %s, got %s", hash.Short(), want, id)
			}
		}

		// a commit on another branch is not reachable through main
		execute(t, session, "CREATE BRANCH side")
		side := execute(t, session, "COMMIT ON side SET orders = 'side'").(db.CommitResult)
		_, err := resolver.TableSnapshotFor("orders", "main@"+side.Commit.String())
		if !errors.Is(err, core.ErrUnreachableCommit) {
			t.Errorf("Expected ErrUnreachableCommit, got %v", err)
		}
	})
}

func TestIntegrationConcurrentSessions(t *testing.T) {
	runWithBothPersistence(t, func(t *testing.T, instance *Instance) {
		const writers = 5

		var g errgroup.Group
		for i := range writers {
			g.Go(func() error {
				session := instance.Session(core.Identity{Name: fmt.Sprintf("writer%d", i), Email: "w@test.com"})
				_, err := session.Execute(context.Background(), fmt.Sprintf("COMMIT SET t%d = 's%d'", i, i))
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("Concurrent commit failed: %v", err)
		}

		_, state, err := instance.Catalog(testIdentity).State("main")
		if err != nil {
			t.Fatalf("Failed to read main: %v", err)
		}
		if len(state) != writers {
			t.Errorf("Expected %d tables, got %d: %v", writers, len(state), state)
		}
	})
}

func TestReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()

	persistence, err := ps.NewFilePersistence(dir)
	if err != nil {
		t.Fatalf("Failed to initialize file persistence: %v", err)
	}
	instance, err := Open(persistence)
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	session := instance.Session(testIdentity)
	execute(t, session, "COMMIT SET movies = 'snap1'")
	execute(t, session, "CREATE TAG v1")

	reopened, err := ps.NewFilePersistence(dir)
	if err != nil {
		t.Fatalf("Failed to reopen file persistence: %v", err)
	}
	instance, err = Open(reopened)
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	if instance.Bootstrapped {
		t.Error("Reopening must not bootstrap again")
	}

	id, err := db.NewResolver(instance.Catalog(testIdentity)).TableSnapshotFor("movies", "v1")
	if err != nil {
		t.Fatalf("Failed to resolve after reopen: %v", err)
	}
	if id != "snap1" {
		t.Errorf("Expected snap1, got %s", id)
	}
}
