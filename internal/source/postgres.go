// Package source implements the concrete pipeline.Source adapters: a
// Postgres source read via database/sql and lib/pq, decorated with
// optional S3-unload bulk retrieval.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

const DefaultFetchCount = 50000

var datatypeMap = map[string]string{
	"bit": "long", "boolean": "long", "smallint": "long",
	"integer": "long", "bigint": "long",

	"double precision": "double", "money": "double",
	"numeric": "double", "real": "double",

	"character": "string", "character varying": "string", "text": "string",

	"date": "date",
	"time with time zone": "date", "time without time zone": "date",
	"timestamp with time zone": "date", "timestamp without time zone": "date",
}

func convertDatatype(datatype string) string {
	if mapped, ok := datatypeMap[datatype]; ok {
		return mapped
	}
	return datatype
}

// PostgresSource reads rows out of a Postgres schema via database/sql,
// paging results with a server-side cursor sized by FetchCount.
type PostgresSource struct {
	db         *sql.DB
	log        *zap.Logger
	Schema     string
	FetchCount int
}

// NewPostgresSource opens a connection pool against dsn using lib/pq.
func NewPostgresSource(log *zap.Logger, dsn, schema string, fetchCount int) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if fetchCount <= 0 {
		fetchCount = DefaultFetchCount
	}
	return &PostgresSource{db: db, log: log, Schema: schema, FetchCount: fetchCount}, nil
}

func (s *PostgresSource) GetIdentifier(table string) string {
	return fmt.Sprintf("%s.%s", s.Schema, table)
}

func (s *PostgresSource) GetTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE'`,
		s.Schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	s.log.Debug("retrieved tables from postgres", zap.Int("count", len(tables)))
	return tables, rows.Err()
}

func (s *PostgresSource) GetColumns(ctx context.Context, table string) ([]pipeline.Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name, data_type, character_maximum_length FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		s.Schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []pipeline.Column
	for rows.Next() {
		var name, datatype string
		var size sql.NullInt64
		if err := rows.Scan(&name, &datatype, &size); err != nil {
			return nil, err
		}
		columns = append(columns, pipeline.Column{Name: name, Type: convertDatatype(datatype), Size: int(size.Int64)})
	}
	s.log.Debug("retrieved columns for table from postgres", zap.String("table", table), zap.Int("count", len(columns)))
	return columns, rows.Err()
}

func (s *PostgresSource) Query(ctx context.Context, query string) (pipeline.RowStream, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlRowStream{rows: rows}, nil
}

// Retrieve pages a table's rows through a server-side cursor, fetching
// FetchCount rows per round-trip rather than materializing the whole
// result set client-side.
func (s *PostgresSource) Retrieve(ctx context.Context, table string) (pipeline.RowStream, error) {
	columns, err := s.GetColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}

	cursorName := fmt.Sprintf("blazemigrate_%s", table)
	query := fmt.Sprintf("DECLARE %s CURSOR FOR SELECT %s FROM %s", cursorName, strings.Join(names, ","), s.GetIdentifier(table))
	if _, err := tx.ExecContext(ctx, query); err != nil {
		tx.Rollback()
		return nil, err
	}

	return &cursorRowStream{ctx: ctx, tx: tx, cursorName: cursorName, fetchCount: s.FetchCount}, nil
}

func (s *PostgresSource) Execute(ctx context.Context, query string) error {
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresSource) Close() error {
	return s.db.Close()
}

// sqlRowStream adapts database/sql's *sql.Rows to pipeline.RowStream.
type sqlRowStream struct {
	rows *sql.Rows
	cols int
}

func (s *sqlRowStream) Next() ([]any, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	if s.cols == 0 {
		types, err := s.rows.ColumnTypes()
		if err != nil {
			return nil, err
		}
		s.cols = len(types)
	}

	values := make([]any, s.cols)
	ptrs := make([]any, s.cols)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *sqlRowStream) Close() error { return s.rows.Close() }

// cursorRowStream pages rows out of a server-side cursor opened within a
// read-only transaction, re-issuing FETCH FORWARD each time its buffered
// page is exhausted. The cursor is done once a FETCH returns zero rows.
type cursorRowStream struct {
	ctx        context.Context
	tx         *sql.Tx
	cursorName string
	fetchCount int

	page        *sql.Rows
	cols        int
	pageHadRows bool
	exhausted   bool
}

func (s *cursorRowStream) fetchPage() error {
	if s.page != nil {
		s.page.Close()
	}
	page, err := s.tx.QueryContext(s.ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", s.fetchCount, s.cursorName))
	if err != nil {
		return err
	}
	s.page = page
	s.pageHadRows = false
	return nil
}

func (s *cursorRowStream) scanCurrent() ([]any, error) {
	if s.cols == 0 {
		types, err := s.page.ColumnTypes()
		if err != nil {
			return nil, err
		}
		s.cols = len(types)
	}
	values := make([]any, s.cols)
	ptrs := make([]any, s.cols)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.page.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *cursorRowStream) Next() ([]any, error) {
	if s.exhausted {
		return nil, io.EOF
	}

	for {
		if s.page == nil {
			if err := s.fetchPage(); err != nil {
				return nil, err
			}
		}

		if s.page.Next() {
			s.pageHadRows = true
			return s.scanCurrent()
		}
		if err := s.page.Err(); err != nil {
			return nil, err
		}

		if !s.pageHadRows {
			s.exhausted = true
			return nil, io.EOF
		}
		s.page = nil
	}
}

func (s *cursorRowStream) Close() error {
	if s.page != nil {
		s.page.Close()
	}
	_, err := s.tx.ExecContext(s.ctx, fmt.Sprintf("CLOSE %s", s.cursorName))
	if err != nil {
		s.tx.Rollback()
		return err
	}
	return s.tx.Rollback()
}
