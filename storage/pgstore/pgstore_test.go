package pgstore

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// TestIsSerializationFailure exercises the pure error-classification
// logic without a live Postgres connection; Store itself is only
// exercised against a real database, outside this unit test's reach.
func TestIsSerializationFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"unrelated pg error", &pgconn.PgError{Code: "42601"}, false},
		{"non-pg error", errors.New("boom"), false},
	}
	for _, c := range cases {
		if got := isSerializationFailure(c.err); got != c.want {
			t.Errorf("%s: isSerializationFailure = %v, want %v", c.name, got, c.want)
		}
	}
}
