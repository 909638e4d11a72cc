package stages

import (
	"testing"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

func TestBuildDatatype(t *testing.T) {
	if got := buildDatatype(pipeline.Column{Type: "string", Size: 32}); got != "string(32)" {
		t.Fatalf("expected sized string datatype, got %q", got)
	}
	if got := buildDatatype(pipeline.Column{Type: "long"}); got != "long" {
		t.Fatalf("expected non-string type passed through, got %q", got)
	}
}

func TestColumnList(t *testing.T) {
	columns := []pipeline.Column{
		{Name: "id", Type: "long"},
		{Name: "name", Type: "string", Size: 16},
	}
	got := columnList(columns)
	want := "id long, name string(16)"
	if got != want {
		t.Fatalf("columnList mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestReadAllRowsStopsAtEOF(t *testing.T) {
	stream := &stubRowStream{rows: [][]any{{1}, {2}}}
	rows, err := readAllRows(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestRowsEqual(t *testing.T) {
	a := [][]any{{1, "x"}, {2, "y"}}
	b := [][]any{{1, "x"}, {2, "y"}}
	if !rowsEqual(a, b) {
		t.Fatalf("expected equal row sets to compare equal")
	}

	c := [][]any{{1, "x"}, {2, "z"}}
	if rowsEqual(a, c) {
		t.Fatalf("expected differing row sets to compare unequal")
	}

	if rowsEqual(a, [][]any{{1, "x"}}) {
		t.Fatalf("expected differing row counts to compare unequal")
	}
}
