package schema

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/DoqueDB/sydney/internal/errs"
)

// Catalog stores a database's system tables through database/sql. The
// backend is chosen by connection string scheme: sqlite for the embedded
// default, dolt for a versioned catalog, mysql for a remote one.
type Catalog struct {
	db      *sql.DB
	created []string // table creation order, for the undo chain
}

// systemTables is the catalog schema in creation order.
var systemTables = []struct {
	name string
	ddl  string
}{
	{"sydney_area", `CREATE TABLE IF NOT EXISTS sydney_area (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE, paths TEXT NOT NULL)`},
	{"sydney_area_content", `CREATE TABLE IF NOT EXISTS sydney_area_content (area_id INTEGER NOT NULL, object_id INTEGER NOT NULL, PRIMARY KEY (area_id, object_id))`},
	{"sydney_table", `CREATE TABLE IF NOT EXISTS sydney_table (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE, area_id INTEGER, status INTEGER NOT NULL DEFAULT 0)`},
	{"sydney_column", `CREATE TABLE IF NOT EXISTS sydney_column (id INTEGER PRIMARY KEY, table_id INTEGER NOT NULL, name TEXT NOT NULL, position INTEGER NOT NULL, type TEXT NOT NULL, nullable INTEGER NOT NULL DEFAULT 1)`},
	{"sydney_constraint", `CREATE TABLE IF NOT EXISTS sydney_constraint (id INTEGER PRIMARY KEY, table_id INTEGER NOT NULL, name TEXT NOT NULL, kind TEXT NOT NULL, columns TEXT NOT NULL)`},
	{"sydney_index", `CREATE TABLE IF NOT EXISTS sydney_index (id INTEGER PRIMARY KEY, table_id INTEGER NOT NULL, name TEXT NOT NULL, kind TEXT NOT NULL, hint TEXT)`},
	{"sydney_key", `CREATE TABLE IF NOT EXISTS sydney_key (id INTEGER PRIMARY KEY, index_id INTEGER NOT NULL, column_id INTEGER NOT NULL, position INTEGER NOT NULL)`},
	{"sydney_file", `CREATE TABLE IF NOT EXISTS sydney_file (id INTEGER PRIMARY KEY, table_id INTEGER, index_id INTEGER, name TEXT NOT NULL, kind TEXT NOT NULL, path TEXT NOT NULL)`},
	{"sydney_field", `CREATE TABLE IF NOT EXISTS sydney_field (id INTEGER PRIMARY KEY, file_id INTEGER NOT NULL, position INTEGER NOT NULL, type TEXT NOT NULL, source_column_id INTEGER)`},
	{"sydney_function", `CREATE TABLE IF NOT EXISTS sydney_function (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE, routine TEXT NOT NULL)`},
	{"sydney_privilege", `CREATE TABLE IF NOT EXISTS sydney_privilege (id INTEGER PRIMARY KEY, role TEXT NOT NULL, object_kind TEXT NOT NULL, object_id INTEGER NOT NULL, flags INTEGER NOT NULL)`},
	{"sydney_cascade", `CREATE TABLE IF NOT EXISTS sydney_cascade (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE, target TEXT NOT NULL)`},
	{"sydney_partition", `CREATE TABLE IF NOT EXISTS sydney_partition (id INTEGER PRIMARY KEY, table_id INTEGER NOT NULL, name TEXT NOT NULL, category TEXT NOT NULL, hint TEXT)`},
	{"sydney_sequence", `CREATE TABLE IF NOT EXISTS sydney_sequence (name TEXT PRIMARY KEY, value INTEGER NOT NULL)`},
}

// OpenCatalog connects the catalog backend named by connString:
//
//	sqlite:/path/to/catalog.db   (default, embedded)
//	dolt://path?commitname=...   (versioned catalog)
//	user:pass@tcp(host)/db       (mysql, remote catalog)
func OpenCatalog(connString string) (*Catalog, error) {
	driver, dsn := resolveDriver(connString)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("schema: open catalog (%s): %w", driver, err)
	}
	if driver == "sqlite3" {
		// One writer connection keeps the embedded backend serialized.
		db.SetMaxOpenConns(1)
	}
	return &Catalog{db: db}, nil
}

func resolveDriver(connString string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(connString, "sqlite:"):
		return "sqlite3", strings.TrimPrefix(connString, "sqlite:")
	case strings.HasPrefix(connString, "dolt://"):
		return "dolt", connString
	default:
		return "mysql", connString
	}
}

// CreateSystemTables builds the system tables in order. If table k fails,
// tables k-1..1 are dropped in reverse; the first rollback failure aborts
// the chain and surfaces so the caller can clear availability.
func (c *Catalog) CreateSystemTables() error {
	for _, st := range systemTables {
		if _, err := c.db.Exec(st.ddl); err != nil {
			createErr := fmt.Errorf("schema: create %s: %w", st.name, err)
			if undoErr := c.dropCreated(); undoErr != nil {
				return errs.New(errs.Unexpected, "schema.catalog.create", undoErr)
			}
			return createErr
		}
		c.created = append(c.created, st.name)
	}
	return nil
}

// dropCreated undoes CreateSystemTables in reverse order.
func (c *Catalog) dropCreated() error {
	for i := len(c.created) - 1; i >= 0; i-- {
		if _, err := c.db.Exec("DROP TABLE IF EXISTS " + c.created[i]); err != nil {
			return fmt.Errorf("schema: rollback %s: %w", c.created[i], err)
		}
	}
	c.created = nil
	return nil
}

// Exec runs a statement against the catalog.
func (c *Catalog) Exec(query string, args ...any) (sql.Result, error) {
	return c.db.Exec(query, args...)
}

// Query runs a query against the catalog.
func (c *Catalog) Query(query string, args ...any) (*sql.Rows, error) {
	return c.db.Query(query, args...)
}

// QueryRow runs a single-row query.
func (c *Catalog) QueryRow(query string, args ...any) *sql.Row {
	return c.db.QueryRow(query, args...)
}

// Close releases the backend connection.
func (c *Catalog) Close() error { return c.db.Close() }
