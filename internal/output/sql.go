package output

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/sijms/go-ora/v2"

	"zscan/internal/core/probe"
)

// SQLSink writes every record into one wide table: a handful of
// commonly-queried columns plus the full record as JSON, so any
// probe module's schema can land in the same table without a
// per-module migration. The driver is chosen from the DSN's scheme,
// one dispatch point covering every SQL backend in the stack rather
// than a build flag per database.
type SQLSink struct {
	db    *sql.DB
	table string
	stmt  *sql.Stmt
}

// driverFor maps a DSN scheme prefix to the registered database/sql
// driver name.
func driverFor(dsn string) (driver string, trimmedDSN string, err error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "", "", fmt.Errorf("sql sink: DSN %q has no scheme", dsn)
	}
	switch scheme {
	case "clickhouse":
		return "clickhouse", dsn, nil
	case "mysql":
		return "mysql", rest, nil
	case "postgres", "postgresql":
		return "postgres", dsn, nil
	case "sqlserver":
		return "sqlserver", dsn, nil
	case "oracle":
		return "oracle", dsn, nil
	default:
		return "", "", fmt.Errorf("sql sink: unsupported DSN scheme %q", scheme)
	}
}

// placeholders builds the n-argument placeholder list in whichever
// style the target driver expects.
func placeholders(driver string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		switch driver {
		case "postgres":
			parts[i] = fmt.Sprintf("$%d", i+1)
		case "sqlserver":
			parts[i] = fmt.Sprintf("@p%d", i+1)
		default:
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

func NewSQLSink(dsn, table string) (*SQLSink, error) {
	if table == "" {
		table = "scan_results"
	}
	driver, trimmedDSN, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, trimmedDSN)
	if err != nil {
		return nil, fmt.Errorf("sql sink: opening %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sql sink: connecting via %s: %w", driver, err)
	}

	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (saddr, sport, classification, success, record) VALUES (%s)`,
		table, placeholders(driver, 5))
	stmt, err := db.Prepare(insertSQL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sql sink: preparing insert: %w", err)
	}

	return &SQLSink{db: db, table: table, stmt: stmt}, nil
}

func (s *SQLSink) Write(rec probe.Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.stmt.Exec(rec["saddr"], rec["sport"], rec["classification"], rec["success"], string(blob))
	return err
}

func (s *SQLSink) Close() error {
	s.stmt.Close()
	return s.db.Close()
}
