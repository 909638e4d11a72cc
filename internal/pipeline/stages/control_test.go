package stages

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

type stubRowStream struct {
	rows [][]any
	idx  int
}

func (s *stubRowStream) Next() ([]any, error) {
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.idx]
	s.idx++
	return row, nil
}

func (s *stubRowStream) Close() error { return nil }

type stubSource struct {
	columns []pipeline.Column
	rows    [][]any
}

func (s *stubSource) GetIdentifier(table string) string { return table }
func (s *stubSource) GetTables(ctx context.Context) ([]string, error) { return nil, nil }
func (s *stubSource) GetColumns(ctx context.Context, table string) ([]pipeline.Column, error) {
	return s.columns, nil
}
func (s *stubSource) Query(ctx context.Context, query string) (pipeline.RowStream, error) {
	return nil, nil
}
func (s *stubSource) Retrieve(ctx context.Context, table string) (pipeline.RowStream, error) {
	return &stubRowStream{rows: s.rows}, nil
}
func (s *stubSource) Execute(ctx context.Context, query string) error { return nil }
func (s *stubSource) Close() error                                   { return nil }

func TestMatchAny(t *testing.T) {
	if !matchAny("orders_2024", []string{"orders_*"}) {
		t.Fatalf("expected glob to match")
	}
	if matchAny("users", []string{"orders_*"}) {
		t.Fatalf("expected no match")
	}
}

func TestSkipTableStageFiltersExcluded(t *testing.T) {
	s := &SkipTableStage{Excluded: []string{"tmp_*"}}
	if !s.filtered("tmp_scratch") {
		t.Fatalf("expected excluded table to be filtered")
	}
	if s.filtered("orders") {
		t.Fatalf("expected non-excluded table to pass through")
	}
}

func TestSkipTableStageIncludedRequiresMatch(t *testing.T) {
	s := &SkipTableStage{Included: []string{"orders_*"}}
	if s.filtered("orders_2024") {
		t.Fatalf("expected included table to pass through")
	}
	if !s.filtered("users") {
		t.Fatalf("expected non-matching table to be filtered when Included is set")
	}
}

func TestLimitedRowStreamStopsAtCount(t *testing.T) {
	src := &stubSource{rows: [][]any{{1}, {2}, {3}}}
	limited := &limitedSource{Source: src, count: 2}

	stream, err := limited.Retrieve(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}

	var got [][]any
	for {
		row, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, row)
	}

	if len(got) != 2 {
		t.Fatalf("expected limited stream to stop at 2 rows, got %d", len(got))
	}
}

func TestFilteredSourceDropsIgnoredColumns(t *testing.T) {
	src := &stubSource{
		columns: []pipeline.Column{{Name: "id"}, {Name: "secret"}, {Name: "name"}},
		rows:    [][]any{{1, "shh", "alice"}},
	}
	filtered := &filteredSource{Source: src, ignored: toSet([]string{"secret"})}

	columns, err := filtered.GetColumns(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	if len(columns) != 2 || columns[0].Name != "id" || columns[1].Name != "name" {
		t.Fatalf("expected secret column dropped, got %v", columns)
	}

	stream, err := filtered.Retrieve(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	row, err := stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(row) != 2 || row[0] != 1 || row[1] != "alice" {
		t.Fatalf("expected filtered row [1 alice], got %v", row)
	}
}

func TestJumbledRowStreamPreservesShapeNotValues(t *testing.T) {
	columns := []pipeline.Column{{Name: "id", Type: "long"}, {Name: "name", Type: "string", Size: 8}}
	src := &stubSource{columns: columns, rows: [][]any{{1, "alice"}}}
	jumbled := &jumbledSource{Source: src}

	stream, err := jumbled.Retrieve(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	row, err := stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(row) != 2 {
		t.Fatalf("expected jumbled row to preserve column count, got %v", row)
	}
	if _, ok := row[0].(int64); !ok {
		t.Fatalf("expected jumbled long column to be int64, got %T", row[0])
	}
	if name, ok := row[1].(string); !ok || len(name) != 8 {
		t.Fatalf("expected jumbled string column sized per column.Size, got %v", row[1])
	}
}

func TestRandomStringUsesConfiguredLength(t *testing.T) {
	if got := randomString(5); len(got) != 5 {
		t.Fatalf("expected random string of length 5, got %q", got)
	}
}
