package duck

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func openWarehouse(t *testing.T) *Warehouse {
	t.Helper()
	w, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestIngestAndQuery(t *testing.T) {
	w := openWarehouse(t)
	ctx := context.Background()

	snap, err := w.Ingest(ctx, writeCSV(t, "movies.csv", "id,title\n1,Alien\n2,Heat\n"), "movies")
	require.NoError(t, err)
	assert.FileExists(t, snap)

	columns, rows, err := w.Query(ctx, core.TableState{"movies": snap}, "SELECT title FROM movies ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, columns)
	assert.Equal(t, [][]string{{"Alien"}, {"Heat"}}, rows)
}

func TestSnapshotsAreImmutable(t *testing.T) {
	w := openWarehouse(t)
	ctx := context.Background()

	first, err := w.Ingest(ctx, writeCSV(t, "v1.csv", "id\n1\n"), "ratings")
	require.NoError(t, err)
	second, err := w.Ingest(ctx, writeCSV(t, "v2.csv", "id\n1\n2\n3\n"), "ratings")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, rows, err := w.Query(ctx, core.TableState{"ratings": first}, "SELECT count(*) FROM ratings")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1"}}, rows)

	_, rows, err = w.Query(ctx, core.TableState{"ratings": second}, "SELECT count(*) FROM ratings")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"3"}}, rows)
}

func TestQueryJoinsQualifiedTables(t *testing.T) {
	w := openWarehouse(t)
	ctx := context.Background()

	movies, err := w.Ingest(ctx, writeCSV(t, "m.csv", "id,title\n1,Alien\n"), "films.movies")
	require.NoError(t, err)
	ratings, err := w.Ingest(ctx, writeCSV(t, "r.csv", "movie_id,stars\n1,5\n"), "films.ratings")
	require.NoError(t, err)

	tables := core.TableState{"films.movies": movies, "films.ratings": ratings}
	_, rows, err := w.Query(ctx, tables,
		`SELECT m.title, r.stars FROM "films.movies" m JOIN "films.ratings" r ON m.id = r.movie_id`)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Alien", "5"}}, rows)
}

func TestIngestErrors(t *testing.T) {
	w := openWarehouse(t)
	ctx := context.Background()

	_, err := w.Ingest(ctx, filepath.Join(t.TempDir(), "missing.csv"), "movies")
	assert.Error(t, err)

	_, err = w.Ingest(ctx, writeCSV(t, "x.csv", "a\n1\n"), "bad/name")
	assert.ErrorIs(t, err, core.ErrInvalidTableState)
}

func TestQueryUnknownTable(t *testing.T) {
	w := openWarehouse(t)

	_, _, err := w.Query(context.Background(), core.TableState{}, "SELECT * FROM nope")
	assert.Error(t, err)
}
