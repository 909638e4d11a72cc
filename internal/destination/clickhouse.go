package destination

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

// ClickHouseDestination adapts the pipeline.Destination contract to
// clickhouse-go's synchronous native connection. ClickHouse has no
// query-token handshake, so Register executes its statement immediately
// and returns a constant token, while Query runs a SELECT and stashes its
// row set under a token that GetResults hands back synchronously.
type ClickHouseDestination struct {
	conn     driver.Conn
	log      *zap.Logger
	Database string

	mu      sync.Mutex
	pending map[string]driver.Rows
	counter int
}

func NewClickHouseDestination(log *zap.Logger, addr, database, user, password string) (*ClickHouseDestination, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	})
	if err != nil {
		return nil, err
	}
	return &ClickHouseDestination{
		conn:     conn,
		log:      log,
		Database: database,
		pending:  make(map[string]driver.Rows),
	}, nil
}

func (d *ClickHouseDestination) GetIdentifier(table string) string {
	return fmt.Sprintf("%s.%s", d.Database, table)
}

func (d *ClickHouseDestination) GetColumns(ctx context.Context, table string) ([]pipeline.Column, error) {
	rows, err := d.conn.Query(ctx,
		"SELECT name, type FROM system.columns WHERE database = ? AND table = ? ORDER BY position", d.Database, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []pipeline.Column
	for rows.Next() {
		var name, datatype string
		if err := rows.Scan(&name, &datatype); err != nil {
			return nil, err
		}
		columns = append(columns, pipeline.Column{Name: name, Type: datatype})
	}
	return columns, rows.Err()
}

// Register runs a DDL or non-result-producing statement immediately and
// returns a constant token; there is no deferred result set to retrieve.
func (d *ClickHouseDestination) Register(ctx context.Context, query string) (string, error) {
	if err := d.conn.Exec(ctx, translateDDL(query)); err != nil {
		return "", &pipeline.ErrQueryException{Query: query, Response: err.Error()}
	}
	return "ok", nil
}

// translateDDL rewrites the migration's generic CREATE TABLE grammar into
// ClickHouse's MergeTree-backed DDL; statements it doesn't recognize pass
// through unchanged.
func translateDDL(query string) string {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "CREATE TABLE") {
		return query
	}
	if strings.Contains(upper, "ENGINE") {
		return query
	}
	return query + " ENGINE = MergeTree() ORDER BY tuple()"
}

// Query executes a SELECT and stashes the resulting rows under a token
// GetResults can retrieve synchronously.
func (d *ClickHouseDestination) Query(ctx context.Context, query string) (string, error) {
	rows, err := d.conn.Query(ctx, query)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.counter++
	token := fmt.Sprintf("ch-%d", d.counter)
	d.pending[token] = rows
	d.mu.Unlock()

	return token, nil
}

func (d *ClickHouseDestination) GetResults(ctx context.Context, token string) (pipeline.RowStream, error) {
	d.mu.Lock()
	rows, ok := d.pending[token]
	delete(d.pending, token)
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("destination: unknown result token %s", token)
	}
	return &clickhouseRowStream{rows: rows}, nil
}

func (d *ClickHouseDestination) Execute(ctx context.Context, query string) error {
	return d.conn.Exec(ctx, query)
}

func (d *ClickHouseDestination) Close() error {
	return d.conn.Close()
}

type clickhouseRowStream struct {
	rows driver.Rows
}

func (s *clickhouseRowStream) Next() ([]any, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	types := s.rows.ColumnTypes()
	values := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *clickhouseRowStream) Close() error { return s.rows.Close() }
