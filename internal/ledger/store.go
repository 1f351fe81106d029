package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaDescription is handed to the query synthesizer so the model knows the
// table layout. It must stay in sync with the migrations.
const SchemaDescription = `CREATE TABLE consumption_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  item TEXT,
  cost REAL,
  time TEXT,
  type TEXT,
  subtype TEXT,
  original_message TEXT
);

Column notes:
1. id: primary key
2. item: name of the purchased item
3. cost: amount of the expense or income; expenses are negative, income is positive
4. time: when the expense or income happened, formatted "YYYY-MM-DD"
5. type: one of the eight consumption categories: 食品烟酒, 衣着, 居住, 生活用品及服务, 交通通信, 教育文化娱乐, 医疗保健, 其它用品及服务
6. subtype: free-text subcategory under type
7. original_message: the user's original message for this record`

// Store wraps the SQLite database holding the consumption ledger. The same
// database file also carries the memories table, accessed through DB() by the
// memory store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "celesledger.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	// This also makes the query_only toggle in Query reliable: the pragma
	// applies to the one connection every statement runs on.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the memory store, which shares the
// database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any not yet run.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// InsertRecord persists one record inside a transaction. Nil fields are
// stored as SQL NULL.
func (s *Store) InsertRecord(ctx context.Context, r Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consumption_records (item, cost, time, type, subtype, original_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullStr(r.Item), nullFloat(r.Cost), nullStr(r.Time),
		nullStr(r.Type), nullStr(r.Subtype), nullStr(r.OriginalMessage),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("inserting record: %w", err)
	}

	return tx.Commit()
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// Query executes an arbitrary synthesized query in read-only mode. The
// connection is switched to query_only for the duration of the call, so a
// query that attempts mutation is refused by SQLite itself regardless of what
// the synthesizer produced.
func (s *Store) Query(ctx context.Context, query string) (ResultSet, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return ResultSet{}, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return ResultSet{}, fmt.Errorf("enabling query_only: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF")

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return ResultSet{}, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("reading columns: %w", err)
	}

	rs := ResultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			values[i] = new(any)
		}
		if err := rows.Scan(values...); err != nil {
			return ResultSet{}, fmt.Errorf("scanning row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = renderValue(*(v.(*any)))
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, fmt.Errorf("iterating rows: %w", err)
	}
	return rs, nil
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case []byte:
		return string(t)
	case float64:
		return fmt.Sprintf("%.2f", t)
	default:
		return fmt.Sprint(t)
	}
}

// RecentRecords returns up to limit records, newest id first.
func (s *Store) RecentRecords(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item, cost, time, type, subtype, original_message
		FROM consumption_records ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var r Record
		var item, tm, typ, subtype, orig sql.NullString
		var cost sql.NullFloat64
		if err := rows.Scan(&r.ID, &item, &cost, &tm, &typ, &subtype, &orig); err != nil {
			return nil, err
		}
		r.Item = ptrStr(item)
		r.Cost = ptrFloat(cost)
		r.Time = ptrStr(tm)
		r.Type = ptrStr(typ)
		r.Subtype = ptrStr(subtype)
		r.OriginalMessage = ptrStr(orig)
		results = append(results, r)
	}
	return results, rows.Err()
}

func ptrStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func ptrFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// CountRecords returns the number of ledger rows.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM consumption_records").Scan(&count)
	return count, err
}

// ClearAll removes every ledger row in one transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning clear transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM consumption_records"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing records: %w", err)
	}
	return tx.Commit()
}
