package duck

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nickyhof/CommitCatalog/core"
)

// benchmarkCSV writes a 1000 row users file.
func benchmarkCSV(b *testing.B) string {
	b.Helper()
	var sb strings.Builder
	sb.WriteString("id,name,age,city\n")
	for i := 1; i <= 1000; i++ {
		sb.WriteString(strconv.Itoa(i) + ",User" + strconv.Itoa(i) + "," + strconv.Itoa(20+i%50) + ",City" + strconv.Itoa(i%10) + "\n")
	}
	path := filepath.Join(b.TempDir(), "users.csv")
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		b.Fatalf("Failed to write csv: %v", err)
	}
	return path
}

func openBenchmarkWarehouse(b *testing.B) *Warehouse {
	b.Helper()
	w, err := Open(b.TempDir(), nil)
	if err != nil {
		b.Fatalf("Failed to open warehouse: %v", err)
	}
	b.Cleanup(func() { _ = w.Close() })
	return w
}

func BenchmarkIngest(b *testing.B) {
	w := openBenchmarkWarehouse(b)
	csv := benchmarkCSV(b)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := w.Ingest(ctx, csv, "users"); err != nil {
			b.Fatalf("Ingest error: %v", err)
		}
	}
}

func BenchmarkQuery(b *testing.B) {
	w := openBenchmarkWarehouse(b)
	ctx := context.Background()
	snap, err := w.Ingest(ctx, benchmarkCSV(b), "users")
	if err != nil {
		b.Fatalf("Ingest error: %v", err)
	}
	tables := core.TableState{"users": snap}

	queries := []struct {
		name  string
		query string
	}{
		{"SelectAll", "SELECT * FROM users"},
		{"SelectWhere", "SELECT * FROM users WHERE age > 30"},
		{"GroupBy", "SELECT city, count(*), avg(age) FROM users GROUP BY city"},
		{"Limit", "SELECT * FROM users ORDER BY age DESC LIMIT 10"},
	}
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, _, err := w.Query(ctx, tables, q.query); err != nil {
					b.Fatalf("Query error: %v", err)
				}
			}
		})
	}
}
