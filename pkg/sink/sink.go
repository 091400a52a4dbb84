// Package sink loads processed tables into the relational database.
//
// A DB wraps a database/sql pool for one of the supported dialects (MySQL,
// PostgreSQL or SQLite). Each load operation checks out a single connection
// through a Session, so concurrent table loads never share a connection:
//
//	db, err := sink.Open(ctx, cfg.Database, logger)
//	session, err := db.Session(ctx)
//	defer session.Close()
//	err = session.Recreate(ctx, table)
//	n, err := session.Append(ctx, table)
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// maxParams bounds the placeholders of one INSERT statement. SQLite allows
// 32766, MySQL and PostgreSQL 65535.
const maxParams = 30000

// Dialect describes the SQL differences between the supported databases.
type Dialect struct {
	Name string
	// quote wraps an identifier
	quote func(string) string
	// placeholder renders the n-th (1-based) bind parameter
	placeholder func(n int) string
}

var (
	dialectMySQL = Dialect{
		Name:        "mysql",
		quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
		placeholder: func(int) string { return "?" },
	}
	dialectPostgres = Dialect{
		Name:        "postgres",
		quote:       doubleQuote,
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
	dialectSQLite = Dialect{
		Name:        "sqlite",
		quote:       doubleQuote,
		placeholder: func(int) string { return "?" },
	}
)

func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// DialectFor returns the dialect of a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return dialectMySQL, nil
	case "postgres":
		return dialectPostgres, nil
	case "sqlite":
		return dialectSQLite, nil
	default:
		return Dialect{}, hgderrors.Newf(hgderrors.ErrorTypeConfig, "unsupported database driver: %q", driver)
	}
}

// Quote wraps an identifier for the dialect.
func (d Dialect) Quote(ident string) string { return d.quote(ident) }

// DB is a pool of connections to the sink database.
type DB struct {
	db        *sql.DB
	dialect   Dialect
	batchSize int
	logger    *zap.Logger
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := openPool(cfg)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "invalid database configuration").
			WithDetail("driver", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "database unreachable").
			WithDetail("driver", cfg.Driver).
			WithDetail("host", cfg.Host)
	}

	batch := cfg.InsertBatchSize
	if batch <= 0 {
		batch = 1000
	}

	logger = logger.With(zap.String("component", "sink"), zap.String("driver", dialect.Name))
	logger.Info("connected to database", zap.String("database", cfg.Name))

	return &DB{db: db, dialect: dialect, batchSize: batch, logger: logger}, nil
}

func openPool(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "mysql":
		mc, err := mysqlConfig(cfg)
		if err != nil {
			return nil, err
		}
		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, err
		}
		db := sql.OpenDB(connector)
		db.SetConnMaxLifetime(5 * time.Minute)
		return db, nil
	case "postgres":
		pc, err := pgx.ParseConfig(cfg.ConnectionString())
		if err != nil {
			return nil, err
		}
		return stdlib.OpenDB(*pc), nil
	default:
		db, err := sql.Open("sqlite", cfg.ConnectionString())
		if err != nil {
			return nil, err
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		return db, nil
	}
}

func mysqlConfig(cfg config.DatabaseConfig) (*mysql.Config, error) {
	if cfg.DSN != "" {
		return mysql.ParseDSN(cfg.DSN)
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.MultiStatements = true
	return mc, nil
}

// Dialect returns the dialect of the pool.
func (d *DB) Dialect() Dialect { return d.dialect }

// Session checks out one connection for a load operation.
func (d *DB) Session(ctx context.Context) (*Session, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "failed to acquire database connection")
	}
	return &Session{
		conn:      conn,
		dialect:   d.dialect,
		batchSize: d.batchSize,
		logger:    d.logger,
	}, nil
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

func loadError(err error, msg, table string) *hgderrors.Error {
	return hgderrors.Wrap(err, hgderrors.ErrorTypeLoad, msg).WithDetail("table", table)
}

func placeholders(d Dialect, start, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(d.placeholder(start + i))
	}
	b.WriteByte(')')
	return b.String()
}

func columnList(d Dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

func createStatement(d Dialect, table string, cols []string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = d.Quote(c) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(table), strings.Join(defs, ", "))
}
