// Package duck is a DuckDB backed table snapshot store. Each ingest writes
// an immutable parquet file and the file's path is the snapshot id the
// catalog records; queries bind table names to those files.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/metrics"
	"go.uber.org/zap"
)

// Warehouse owns the parquet snapshots under a single directory.
type Warehouse struct {
	db     *sql.DB
	dir    string
	logger *zap.Logger
}

// Open starts an in-process DuckDB engine writing snapshots below dir.
func Open(dir string, logger *zap.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	logger.Info("warehouse opened", zap.String("dir", abs))
	return &Warehouse{db: db, dir: abs, logger: logger.With(zap.String("component", "warehouse"))}, nil
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

// Ingest converts a CSV file into a new parquet snapshot of table. Existing
// snapshots are never touched.
func (w *Warehouse) Ingest(ctx context.Context, file, table string) (string, error) {
	start := time.Now()
	defer func() { metrics.WarehouseDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds()) }()

	if err := core.ValidateTableName(table); err != nil {
		return "", err
	}
	tableDir := filepath.Join(w.dir, table)
	if err := os.MkdirAll(tableDir, 0755); err != nil {
		return "", err
	}
	snapshot := filepath.Join(tableDir, uuid.NewString()+".parquet")

	query := fmt.Sprintf("COPY (SELECT * FROM read_csv_auto(%s)) TO %s (FORMAT PARQUET)",
		quoteLiteral(file), quoteLiteral(snapshot))
	if _, err := w.db.ExecContext(ctx, query); err != nil {
		metrics.WarehouseOps.WithLabelValues("ingest", "error").Inc()
		return "", fmt.Errorf("copy %s: %w", file, err)
	}

	metrics.WarehouseOps.WithLabelValues("ingest", "success").Inc()
	w.logger.Info("snapshot written",
		zap.String("table", table),
		zap.String("source", file),
		zap.String("snapshot", snapshot))
	return snapshot, nil
}

// Query runs query on a dedicated connection where every table in tables is
// a view over its snapshot file. Values are rendered as strings, NULL as
// "NULL".
func (w *Warehouse) Query(ctx context.Context, tables core.TableState, query string) ([]string, [][]string, error) {
	start := time.Now()
	defer func() { metrics.WarehouseDuration.WithLabelValues("query").Observe(time.Since(start).Seconds()) }()

	columns, rows, err := w.query(ctx, tables, query)
	if err != nil {
		metrics.WarehouseOps.WithLabelValues("query", "error").Inc()
		return nil, nil, err
	}
	metrics.WarehouseOps.WithLabelValues("query", "success").Inc()
	return columns, rows, nil
}

func (w *Warehouse) query(ctx context.Context, tables core.TableState, query string) ([]string, [][]string, error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = conn.Close() }()

	names := tables.Tables()
	// views are connection scoped; drop them before the connection is reused
	defer func() {
		for _, table := range names {
			_, _ = conn.ExecContext(context.Background(), "DROP VIEW IF EXISTS "+quoteIdent(table))
		}
	}()
	for _, table := range names {
		view := fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM read_parquet(%s)",
			quoteIdent(table), quoteLiteral(tables[table]))
		if _, err := conn.ExecContext(ctx, view); err != nil {
			return nil, nil, fmt.Errorf("bind %s: %w", table, err)
		}
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query error: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var data [][]string
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan error: %w", err)
		}
		row := make([]string, len(columns))
		for i, value := range values {
			row[i] = format(value)
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, data, nil
}

func format(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
