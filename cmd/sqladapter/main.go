// Command sqladapter is the thin collaborator spec.md §1 describes as "a
// SQL adapter layered on an external SQL front-end": it does not parse SQL
// itself (that translation layer is explicitly out of scope) — it exposes
// the tree's library surface as a database/sql-style driver.Conn so an
// actual SQL front-end can be layered on top of it elsewhere.
package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/bptreekv/bptreekv"
)

func init() {
	sql.Register("bptreekv", &sqlDriver{})
}

// sqlDriver opens a *kvConn for a DSN that is simply the database file
// path, optionally suffixed with "?create=1".
type sqlDriver struct{}

func (d *sqlDriver) Open(dsn string) (driver.Conn, error) {
	path, create := parseDSN(dsn)
	tree, err := bptreekv.Open[string, string](
		bptreekv.Config{DBPath: path, Create: create},
		bptreekv.StringCodec{}, bptreekv.StringCodec{})
	if err != nil {
		return nil, err
	}
	return &kvConn{tree: tree}, nil
}

func parseDSN(dsn string) (path string, create bool) {
	path = dsn
	if i := indexByte(dsn, '?'); i >= 0 {
		path = dsn[:i]
		create = dsn[i+1:] == "create=1"
	}
	return path, create
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// kvConn adapts a bptreekv.Tree to database/sql/driver.Conn. A query's text
// is not parsed: Query dispatches on its argument count alone (one argument
// is a get, two are a put) and rejects any other count — translating real
// SQL onto a single ordered index is the external front-end's job, not this
// adapter's.
type kvConn struct {
	tree *bptreekv.Tree[string, string]
}

func (c *kvConn) Prepare(query string) (driver.Stmt, error) {
	return &kvStmt{conn: c, query: query}, nil
}

func (c *kvConn) Close() error { return c.tree.Close() }

func (c *kvConn) Begin() (driver.Tx, error) {
	return nil, errors.New("bptreekv: transactions are not exposed through the SQL adapter")
}

type kvStmt struct {
	conn  *kvConn
	query string
}

func (s *kvStmt) Close() error  { return nil }
func (s *kvStmt) NumInput() int { return -1 }

func (s *kvStmt) Exec(args []driver.Value) (driver.Result, error) {
	return nil, errors.New("bptreekv: use Query for both get and put")
}

func (s *kvStmt) Query(args []driver.Value) (driver.Rows, error) {
	var fields []string
	for _, a := range args {
		fields = append(fields, fmt.Sprintf("%v", a))
	}

	switch {
	case len(fields) == 1:
		v, found, err := s.conn.tree.Get(fields[0])
		if err != nil {
			return nil, err
		}
		if !found {
			return &kvRows{}, nil
		}
		return &kvRows{rows: [][2]string{{fields[0], v}}}, nil

	case len(fields) == 2:
		if _, _, err := s.conn.tree.Insert(fields[0], fields[1]); err != nil {
			return nil, err
		}
		return &kvRows{}, nil

	default:
		return nil, fmt.Errorf("bptreekv: expected 1 arg (get) or 2 args (put), got %d", len(fields))
	}
}

type kvRows struct {
	rows []([2]string)
	pos  int
}

func (r *kvRows) Columns() []string { return []string{"key", "value"} }
func (r *kvRows) Close() error      { return nil }

func (r *kvRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	dest[0] = r.rows[r.pos][0]
	dest[1] = r.rows[r.pos][1]
	r.pos++
	return nil
}

var (
	flagDSN = flag.String("dsn", "", "database file path, optionally suffixed with ?create=1")
	flagGet = flag.String("get", "", "look up a single key and print its value")
)

func main() {
	flag.Parse()
	if *flagDSN == "" || *flagGet == "" {
		fmt.Fprintln(os.Stderr, "usage: sqladapter -dsn PATH[?create=1] -get KEY")
		os.Exit(2)
	}

	db, err := sql.Open("bptreekv", *flagDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sqladapter:", err)
		os.Exit(1)
	}
	defer db.Close()

	row := db.QueryRowContext(context.Background(), "?", *flagGet)
	var key, value string
	if err := row.Scan(&key, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fmt.Println("(none)")
			return
		}
		fmt.Fprintln(os.Stderr, "sqladapter:", err)
		os.Exit(1)
	}
	fmt.Println(value)
}
