package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"arena/internal/common/db"
)

// fakeDB scripts query results by SQL fragment and records every Exec.
type fakeDB struct {
	mu      sync.Mutex
	dialect db.Dialect
	execs   []string
	args    [][]interface{}
	execErr map[string]error
	rows    map[string][][]interface{}
}

func newFakeDB(dialect db.Dialect) *fakeDB {
	return &fakeDB{dialect: dialect, execErr: map[string]error{}, rows: map[string][][]interface{}{}}
}

func (f *fakeDB) match(query string) [][]interface{} {
	for frag, rows := range f.rows {
		if strings.Contains(query, frag) {
			return rows
		}
	}
	return nil
}

func (f *fakeDB) Query(_ context.Context, query string, _ ...interface{}) (db.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fakeRows{rows: f.match(query), idx: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, query string, _ ...interface{}) db.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.match(query)
	if len(rows) == 0 {
		return fakeRow{err: sql.ErrNoRows}
	}
	return fakeRow{values: rows[0]}
}

func (f *fakeDB) Exec(_ context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, strings.Join(strings.Fields(query), " "))
	f.args = append(f.args, args)
	for frag, err := range f.execErr {
		if strings.Contains(query, frag) {
			return nil, err
		}
	}
	return fakeResult(1), nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(f)
}

func (f *fakeDB) Dialect() db.Dialect { return f.dialect }

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) execCount(fragment string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.execs {
		if strings.Contains(q, fragment) {
			n++
		}
	}
	return n
}

// lastArgs returns the arguments of the latest Exec matching fragment.
func (f *fakeDB) lastArgs(fragment string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.execs) - 1; i >= 0; i-- {
		if strings.Contains(f.execs[i], fragment) {
			return f.args[i]
		}
	}
	return nil
}

type fakeResult int64

func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	rows [][]interface{}
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error { return assign(r.rows[r.idx], dest) }

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Err() error { return nil }

// assign copies values into scan destinations, allocating for pointer-to-pointer
// targets the way database/sql does for nullable columns.
func assign(values []interface{}, dest []interface{}) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		val := reflect.ValueOf(v)
		if target.Kind() == reflect.Ptr && val.Type() == target.Type().Elem() {
			p := reflect.New(val.Type())
			p.Elem().Set(val)
			target.Set(p)
			continue
		}
		if !val.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan: column %d: %s not assignable to %s", i, val.Type(), target.Type())
		}
		target.Set(val)
	}
	return nil
}
