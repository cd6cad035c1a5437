package database

import (
	"strings"
	"testing"
)

func TestDSNFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASS", "pw")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_PORT", "6543")

	dsn := DSNFromEnv()
	for _, want := range []string{"host=localhost", "user=app", "password=pw", "dbname=fellowship", "port=6543"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q is missing %q", dsn, want)
		}
	}
}
