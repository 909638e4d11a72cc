package destination

import "testing"

func TestTranslateDDLAppendsEngineWhenMissing(t *testing.T) {
	got := translateDDL("CREATE TABLE users (id bigint, name string)")
	want := "CREATE TABLE users (id bigint, name string) ENGINE = MergeTree() ORDER BY tuple()"
	if got != want {
		t.Fatalf("translateDDL mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestTranslateDDLLeavesExplicitEngineAlone(t *testing.T) {
	query := "CREATE TABLE users (id bigint) ENGINE = ReplacingMergeTree()"
	if got := translateDDL(query); got != query {
		t.Fatalf("expected query with explicit ENGINE untouched, got %q", got)
	}
}

func TestTranslateDDLIgnoresNonCreateStatements(t *testing.T) {
	query := "DROP TABLE users"
	if got := translateDDL(query); got != query {
		t.Fatalf("expected non-CREATE statement untouched, got %q", got)
	}
}
