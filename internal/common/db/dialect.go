package db

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Dialect captures the driver differences the repositories care about.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string
	// Rebind rewrites '?' placeholders into the driver's native form.
	Rebind(query string) string
	// UniqueViolation reports a duplicate-key error and the offending key name.
	UniqueViolation(err error) (string, bool)
}

// DialectFor returns the dialect registered under driver.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "mysql":
		return MySQLDialect{}, nil
	case "postgres", "postgresql":
		return PostgresDialect{}, nil
	}
	return nil, errors.New("unsupported database driver: " + driver)
}

// MySQLDialect targets github.com/go-sql-driver/mysql.
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) Rebind(query string) string { return query }

func (MySQLDialect) UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return ExtractDuplicateKeyName(myErr.Message), true
	}
	return "", false
}

// PostgresDialect targets github.com/lib/pq.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

// Rebind turns '?' into $1..$n, leaving quoted literals alone.
func (PostgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func (PostgresDialect) UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}
