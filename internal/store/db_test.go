package store

import (
	"regexp"
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	data, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func TestMigrations_upDownPairs(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	for name := range names {
		if strings.HasSuffix(name, ".up.sql") {
			down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
			if !names[down] {
				t.Errorf("%s has no matching down migration", name)
			}
		}
	}
}

// The ledger store writes NULL for an application whose current-status
// pointer is still empty and scans the column through *string. The schema
// must keep the column nullable or every application insert fails.
func TestMigrations_currentStatusPointerNullable(t *testing.T) {
	sql := readMigration(t, "000002_applications.up.sql")

	col := regexp.MustCompile(`(?m)^\s*current_status_id\s+TEXT([^,\n]*)`)
	m := col.FindStringSubmatch(sql)
	if m == nil {
		t.Fatal("applications migration does not declare current_status_id")
	}
	if strings.Contains(strings.ToUpper(m[1]), "NOT NULL") {
		t.Errorf("current_status_id must be nullable, got constraint %q", strings.TrimSpace(m[1]))
	}
}
