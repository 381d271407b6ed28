package store

import "testing"

func TestRebind(t *testing.T) {
	query := "SELECT a FROM t WHERE b = ? AND c IN (?, ?) LIMIT ?"

	if got := sqliteDialect.rebind(query); got != query {
		t.Errorf("sqlite rebind changed the query: %q", got)
	}
	if got := mysqlDialect.rebind(query); got != query {
		t.Errorf("mysql rebind changed the query: %q", got)
	}
	want := "SELECT a FROM t WHERE b = $1 AND c IN ($2, $3) LIMIT $4"
	if got := postgresDialect.rebind(query); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestInsertIgnore(t *testing.T) {
	insert := "INSERT INTO org_workflows (id) VALUES (?)\n\t"

	if got := mysqlDialect.insertIgnore(insert); got != "INSERT IGNORE INTO org_workflows (id) VALUES (?)\n\t" {
		t.Errorf("mysql insertIgnore = %q", got)
	}
	want := "INSERT INTO org_workflows (id) VALUES (?) ON CONFLICT DO NOTHING"
	if got := sqliteDialect.insertIgnore(insert); got != want {
		t.Errorf("sqlite insertIgnore = %q, want %q", got, want)
	}
	if got := postgresDialect.insertIgnore(insert); got != want {
		t.Errorf("postgres insertIgnore = %q, want %q", got, want)
	}
}

func TestPlaceholders(t *testing.T) {
	tests := map[int]string{0: "", 1: "?", 3: "?, ?, ?"}
	for n, want := range tests {
		if got := placeholders(n); got != want {
			t.Errorf("placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestTimeLayoutSortsAsText(t *testing.T) {
	a, _ := parseTime("2026-03-01T09:00:05.100000000Z")
	b, _ := parseTime("2026-03-01T09:00:05.120000000Z")
	if !(formatTime(a) < formatTime(b)) {
		t.Errorf("formatted times do not sort: %s >= %s", formatTime(a), formatTime(b))
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Error("parseTime accepted garbage")
	}
}
