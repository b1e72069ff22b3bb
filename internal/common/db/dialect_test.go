package db_test

import (
	"errors"
	"fmt"
	"testing"

	"arena/internal/common/db"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestPostgresRebind(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"UPDATE t SET v = '?' WHERE id = ?", "UPDATE t SET v = '?' WHERE id = $1"},
		{"SELECT 1", "SELECT 1"},
	}
	for _, tc := range cases {
		if got := (db.PostgresDialect{}).Rebind(tc.in); got != tc.want {
			t.Errorf("Rebind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := (db.MySQLDialect{}).Rebind(cases[0].in); got != cases[0].in {
		t.Errorf("mysql rebind must be identity, got %q", got)
	}
}

func TestUniqueViolation(t *testing.T) {
	myErr := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'contest_accepted.uk_contest_accepted_triple'"})
	if key, ok := (db.MySQLDialect{}).UniqueViolation(myErr); !ok || key != "contest_accepted.uk_contest_accepted_triple" {
		t.Fatalf("mysql violation = %q %v", key, ok)
	}
	pqErr := &pq.Error{Code: "23505", Constraint: "contest_accepted_triple_key"}
	if key, ok := (db.PostgresDialect{}).UniqueViolation(pqErr); !ok || key != "contest_accepted_triple_key" {
		t.Fatalf("postgres violation = %q %v", key, ok)
	}
	if _, ok := (db.MySQLDialect{}).UniqueViolation(errors.New("other")); ok {
		t.Fatal("plain errors are not unique violations")
	}
}

func TestDialectFor(t *testing.T) {
	for driver, want := range map[string]string{"": "mysql", "mysql": "mysql", "postgres": "postgres", "PostgreSQL": "postgres"} {
		d, err := db.DialectFor(driver)
		if err != nil || d.Name() != want {
			t.Fatalf("DialectFor(%q) = %v, %v", driver, d, err)
		}
	}
	if _, err := db.DialectFor("oracle"); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestExtractDuplicateKeyName(t *testing.T) {
	if got := db.ExtractDuplicateKeyName("Duplicate entry '1' for key `uk_room`"); got != "uk_room" {
		t.Fatalf("got %q", got)
	}
	if got := db.ExtractDuplicateKeyName("no marker"); got != "" {
		t.Fatalf("got %q", got)
	}
}
