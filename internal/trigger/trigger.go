// Package trigger decides which tables a migration run should process,
// and how often a run happens: a fixed table list, a Redis-backed queue of
// on-demand requests, or a cron schedule re-running the whole migration.
package trigger

import "context"

// Trigger produces the sequence of tables a single migration run should
// process. Implementations may block (the queue trigger waits on Redis)
// but must respect ctx cancellation.
type Trigger interface {
	Tables(ctx context.Context) (<-chan string, error)
}

// TableListTrigger yields a fixed, pre-configured list of tables, or (if
// none were configured) defers to GetTables on the given source — mirrors
// the original's migrate(tables=None) defaulting behavior.
type TableListTrigger struct {
	Static       []string
	GetAllTables func(ctx context.Context) ([]string, error)
}

func NewTableListTrigger(tables []string, getAllTables func(ctx context.Context) ([]string, error)) *TableListTrigger {
	return &TableListTrigger{Static: tables, GetAllTables: getAllTables}
}

func (t *TableListTrigger) Tables(ctx context.Context) (<-chan string, error) {
	tables := t.Static
	if len(tables) == 0 {
		var err error
		tables, err = t.GetAllTables(ctx)
		if err != nil {
			return nil, err
		}
	}

	ch := make(chan string, len(tables))
	for _, table := range tables {
		ch <- table
	}
	close(ch)
	return ch, nil
}
