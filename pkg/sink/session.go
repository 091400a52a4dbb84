package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/metrics"
	"github.com/humangenomedb/hgd/pkg/models"
	"github.com/humangenomedb/hgd/pkg/observability"
)

// Session is a single checked-out connection. It is not safe for concurrent
// use; Close may be called any number of times.
type Session struct {
	conn      *sql.Conn
	dialect   Dialect
	batchSize int
	logger    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Recreate drops t's table if it exists and creates it with one TEXT column
// per table column.
func (s *Session) Recreate(ctx context.Context, t *models.Table) error {
	if len(t.Columns) == 0 {
		return hgderrors.New(hgderrors.ErrorTypeLoad, "table has no columns").WithDetail("table", t.Name)
	}

	drop := "DROP TABLE IF EXISTS " + s.dialect.Quote(t.Name)
	if _, err := s.conn.ExecContext(ctx, drop); err != nil {
		return loadError(err, "failed to drop table", t.Name)
	}
	if _, err := s.conn.ExecContext(ctx, createStatement(s.dialect, t.Name, t.Columns)); err != nil {
		return loadError(err, "failed to create table", t.Name)
	}

	s.logger.Debug("recreated table", zap.String("table", t.Name), zap.Int("columns", len(t.Columns)))
	return nil
}

// Append inserts every row of t using batched multi-row INSERT statements
// inside one transaction. It returns the number of rows written.
func (s *Session) Append(ctx context.Context, t *models.Table) (n int, err error) {
	ctx, span := observability.StartSpan(ctx, "sink.append",
		attribute.String("table", t.Name),
		attribute.Int("rows", t.Len()))
	defer func() { observability.EndSpan(span, err) }()

	if t.Len() == 0 {
		return 0, nil
	}
	if len(t.Columns) == 0 {
		return 0, hgderrors.New(hgderrors.ErrorTypeLoad, "table has no columns").WithDetail("table", t.Name)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, loadError(err, "failed to begin transaction", t.Name)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	batch := s.batchSize
	if limit := maxParams / len(t.Columns); batch > limit {
		batch = limit
	}
	if batch < 1 {
		batch = 1
	}

	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", s.dialect.Quote(t.Name), columnList(s.dialect, t.Columns))
	for start := 0; start < len(t.Rows); start += batch {
		end := start + batch
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		query, args := s.insertBatch(prefix, t.Columns, t.Rows[start:end])
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return 0, loadError(err, "failed to insert rows", t.Name).WithDetail("offset", start)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, loadError(err, "failed to commit rows", t.Name)
	}

	metrics.RowsWritten.WithLabelValues("sink", t.Name).Add(float64(len(t.Rows)))
	s.logger.Info("appended rows", zap.String("table", t.Name), zap.Int("rows", len(t.Rows)))
	return len(t.Rows), nil
}

func (s *Session) insertBatch(prefix string, cols []string, rows []models.Row) (string, []any) {
	var b strings.Builder
	b.WriteString(prefix)
	args := make([]any, 0, len(rows)*len(cols))
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders(s.dialect, len(args)+1, len(cols)))
		for _, c := range cols {
			v := r[c]
			if models.IsNull(v) {
				args = append(args, nil)
			} else {
				args = append(args, models.Text(v))
			}
		}
	}
	return b.String(), args
}

// Count returns the number of rows in table.
func (s *Session) Count(ctx context.Context, table string) (int, error) {
	var n int
	row := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.dialect.Quote(table))
	if err := row.Scan(&n); err != nil {
		return 0, loadError(err, "failed to count rows", table)
	}
	return n, nil
}

// Exec runs a script of semicolon-separated statements. Lines starting with
// "--" are ignored.
func (s *Session) Exec(ctx context.Context, script string) error {
	for i, stmt := range SplitStatements(script) {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return hgderrors.Wrap(err, hgderrors.ErrorTypeLoad, "failed to execute statement").
				WithDetail("statement", i+1)
		}
	}
	return nil
}

// ExecFile runs the SQL script at path.
func (s *Session) ExecFile(ctx context.Context, path string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeFile, "failed to read SQL file").WithDetail("path", path)
	}
	if err := s.Exec(ctx, string(script)); err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeLoad, "failed to execute SQL file").WithDetail("path", path)
	}
	s.logger.Info("executed SQL file", zap.String("path", path))
	return nil
}

// SplitStatements splits a script on ";" after removing comment lines.
// Empty statements are skipped.
func SplitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Ensure creates t's table when it does not exist yet.
func (s *Session) Ensure(ctx context.Context, t *models.Table) error {
	if len(t.Columns) == 0 {
		return hgderrors.New(hgderrors.ErrorTypeLoad, "table has no columns").WithDetail("table", t.Name)
	}
	stmt := strings.Replace(createStatement(s.dialect, t.Name, t.Columns), "CREATE TABLE", "CREATE TABLE IF NOT EXISTS", 1)
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return loadError(err, "failed to create table", t.Name)
	}
	return nil
}
