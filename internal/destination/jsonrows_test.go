package destination

import (
	"errors"
	"io"
	"testing"
)

func TestJSONRowStreamIteratesRows(t *testing.T) {
	body := `{"status": "ok", "rows": [[1, "a"], [2, "b"]]}`
	stream, err := newJSONRowStream(body)
	if err != nil {
		t.Fatal(err)
	}

	row, err := stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(row) != 2 || row[1] != "a" {
		t.Fatalf("unexpected first row: %v", row)
	}

	row, err = stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(row) != 2 || row[1] != "b" {
		t.Fatalf("unexpected second row: %v", row)
	}

	if _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF once rows are exhausted, got %v", err)
	}
}

func TestJSONRowStreamFailStatus(t *testing.T) {
	if _, err := newJSONRowStream(`{"status": "fail", "rows": []}`); err == nil {
		t.Fatalf("expected error for fail status")
	}
}

func TestJSONRowStreamInvalidBody(t *testing.T) {
	if _, err := newJSONRowStream("not json"); err == nil {
		t.Fatalf("expected error for invalid JSON body")
	}
}
