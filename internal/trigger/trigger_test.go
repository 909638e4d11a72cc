package trigger

import (
	"context"
	"errors"
	"testing"
)

func drainAll(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var got []string
	for table := range ch {
		got = append(got, table)
	}
	return got
}

func TestTableListTriggerUsesStaticList(t *testing.T) {
	trig := NewTableListTrigger([]string{"orders", "users"}, func(ctx context.Context) ([]string, error) {
		t.Fatal("GetAllTables should not be called when a static list is configured")
		return nil, nil
	})

	ch, err := trig.Tables(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := drainAll(t, ch)
	if len(got) != 2 || got[0] != "orders" || got[1] != "users" {
		t.Fatalf("unexpected tables: %v", got)
	}
}

func TestTableListTriggerFallsBackToGetAllTables(t *testing.T) {
	trig := NewTableListTrigger(nil, func(ctx context.Context) ([]string, error) {
		return []string{"a", "b", "c"}, nil
	})

	ch, err := trig.Tables(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := drainAll(t, ch)
	if len(got) != 3 {
		t.Fatalf("expected 3 tables, got %v", got)
	}
}

func TestTableListTriggerPropagatesGetAllTablesError(t *testing.T) {
	wantErr := errors.New("boom")
	trig := NewTableListTrigger(nil, func(ctx context.Context) ([]string, error) {
		return nil, wantErr
	})

	if _, err := trig.Tables(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
}
