package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
	"go.uber.org/zap"
)

// buildDatatype renders a Column's type as destination DDL. Only "string"
// carries a size parameter; every other type name passes through as-is.
func buildDatatype(col pipeline.Column) string {
	if col.Type == "string" {
		return fmt.Sprintf("string(%d)", col.Size)
	}
	return col.Type
}

func columnList(columns []pipeline.Column) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s %s", c.Name, buildDatatype(c))
	}
	return strings.Join(parts, ", ")
}

// CreateTableStage issues a CREATE TABLE against the destination before
// data is imported. With Quiet set, an ErrQueryException (most likely
// meaning the table already exists) is logged and swallowed rather than
// propagated; other errors are always returned.
type CreateTableStage struct {
	pipeline.BaseStage
	log   *zap.Logger
	Quiet bool
}

func NewCreateTableStage(log *zap.Logger, quiet bool) *CreateTableStage {
	s := &CreateTableStage{log: log, Quiet: quiet}
	s.BaseStage.Before = s
	return s
}

func (s *CreateTableStage) Before(ctx context.Context, m *pipeline.Message) error {
	destPkt, err := pipeline.MustGetPacket[pipeline.DestinationPacket](m)
	if err != nil {
		return err
	}
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	colsPkt, err := pipeline.MustGetPacket[pipeline.DataColumnsPacket](m)
	if err != nil {
		return err
	}

	identifier := destPkt.Destination.GetIdentifier(importPkt.Table)
	query := fmt.Sprintf("CREATE TABLE %s (%s)", identifier, columnList(colsPkt.Columns))

	s.log.Info("creating destination table", zap.String("table", importPkt.Table), zap.Int("columns", len(colsPkt.Columns)))

	if _, err := destPkt.Destination.Register(ctx, query); err != nil {
		var qe *pipeline.ErrQueryException
		if !(s.Quiet && errors.As(err, &qe)) {
			return err
		}
		s.log.Debug("ignoring CREATE TABLE failure, table likely already exists", zap.String("table", importPkt.Table), zap.Error(err))
	}
	return nil
}

// DropTableStage drops the destination table before importing data.
type DropTableStage struct {
	pipeline.BaseStage
	log   *zap.Logger
	Quiet bool
}

func NewDropTableStage(log *zap.Logger, quiet bool) *DropTableStage {
	s := &DropTableStage{log: log, Quiet: quiet}
	s.BaseStage.Before = s
	return s
}

func (s *DropTableStage) Before(ctx context.Context, m *pipeline.Message) error {
	destPkt, err := pipeline.MustGetPacket[pipeline.DestinationPacket](m)
	if err != nil {
		return err
	}
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}

	identifier := destPkt.Destination.GetIdentifier(importPkt.Table)
	s.log.Info("dropping destination table", zap.String("table", importPkt.Table))

	if _, err := destPkt.Destination.Register(ctx, "DROP TABLE "+identifier); err != nil {
		var qe *pipeline.ErrQueryException
		if !(s.Quiet && errors.As(err, &qe)) {
			return err
		}
		s.log.Debug("ignoring DROP TABLE failure, table likely doesn't exist", zap.String("table", importPkt.Table), zap.Error(err))
	}
	return nil
}

// TruncateTableStage deletes all rows in the destination table before
// importing data.
type TruncateTableStage struct {
	pipeline.BaseStage
	log   *zap.Logger
	Quiet bool
}

func NewTruncateTableStage(log *zap.Logger, quiet bool) *TruncateTableStage {
	s := &TruncateTableStage{log: log, Quiet: quiet}
	s.BaseStage.Before = s
	return s
}

func (s *TruncateTableStage) Before(ctx context.Context, m *pipeline.Message) error {
	destPkt, err := pipeline.MustGetPacket[pipeline.DestinationPacket](m)
	if err != nil {
		return err
	}
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}

	identifier := destPkt.Destination.GetIdentifier(importPkt.Table)
	s.log.Info("truncating destination table", zap.String("table", importPkt.Table))

	if _, err := destPkt.Destination.Register(ctx, "DELETE FROM "+identifier); err != nil {
		var qe *pipeline.ErrQueryException
		if !(s.Quiet && errors.As(err, &qe)) {
			return err
		}
		s.log.Debug("ignoring TRUNCATE failure, table likely already empty", zap.String("table", importPkt.Table), zap.Error(err))
	}
	return nil
}

// PostImportHackStage runs a pair of stabilization queries after data has
// been imported, working around the destination's post-bulk-load state.
type PostImportHackStage struct {
	pipeline.BaseStage
	log              *zap.Logger
	PerformOnFailure bool
}

func NewPostImportHackStage(log *zap.Logger, performOnFailure bool) *PostImportHackStage {
	s := &PostImportHackStage{log: log, PerformOnFailure: performOnFailure}
	s.BaseStage.After = s
	return s
}

func (s *PostImportHackStage) After(ctx context.Context, m *pipeline.Message, skipped, success bool) error {
	if !success && !skipped && !s.PerformOnFailure {
		return nil
	}

	destPkt, err := pipeline.MustGetPacket[pipeline.DestinationPacket](m)
	if err != nil {
		return err
	}
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	identifier := destPkt.Destination.GetIdentifier(importPkt.Table)

	s.log.Info("performing post-import optimize", zap.String("table", importPkt.Table))

	if _, err := destPkt.Destination.Register(ctx, "POST-OPTIMIZE TABLE "+identifier); err != nil {
		return err
	}
	_, err = destPkt.Destination.Register(ctx, "GENERATE SKIP-DATA FOR "+identifier)
	return err
}

// SourceComparisonStage runs the same templated query against both the
// source and destination after import, logging a warning if the results
// differ. Query must contain a single "%s" placeholder, which is filled with
// the table's identifier on each side.
type SourceComparisonStage struct {
	pipeline.BaseStage
	log              *zap.Logger
	Query            string
	PerformOnFailure bool
}

func NewSourceComparisonStage(log *zap.Logger, query string, performOnFailure bool) *SourceComparisonStage {
	s := &SourceComparisonStage{log: log, Query: query, PerformOnFailure: performOnFailure}
	s.BaseStage.After = s
	return s
}

func (s *SourceComparisonStage) After(ctx context.Context, m *pipeline.Message, skipped, success bool) error {
	if !success && !skipped && !s.PerformOnFailure {
		return nil
	}

	destPkt, err := pipeline.MustGetPacket[pipeline.DestinationPacket](m)
	if err != nil {
		return err
	}
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}

	srcIdentifier := importPkt.Source.GetIdentifier(importPkt.Table)
	destIdentifier := destPkt.Destination.GetIdentifier(importPkt.Table)

	srcStream, err := importPkt.Source.Query(ctx, fmt.Sprintf(s.Query, srcIdentifier))
	if err != nil {
		return err
	}
	defer srcStream.Close()

	destToken, err := destPkt.Destination.Query(ctx, fmt.Sprintf(s.Query, destIdentifier))
	if err != nil {
		return err
	}
	destStream, err := destPkt.Destination.GetResults(ctx, destToken)
	if err != nil {
		return err
	}
	defer destStream.Close()

	srcRows, err := readAllRows(srcStream)
	if err != nil {
		return err
	}
	destRows, err := readAllRows(destStream)
	if err != nil {
		return err
	}

	if rowsEqual(srcRows, destRows) {
		return nil
	}

	s.log.Warn("comparison query differed between source and destination",
		zap.String("table", importPkt.Table),
		zap.Any("source", srcRows),
		zap.Any("destination", destRows),
	)
	return nil
}

func readAllRows(stream pipeline.RowStream) ([][]any, error) {
	var rows [][]any
	for {
		row, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return rows, err
		}
		rows = append(rows, row)
	}
}

func rowsEqual(a, b [][]any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if fmt.Sprint(a[i][j]) != fmt.Sprint(b[i][j]) {
				return false
			}
		}
	}
	return true
}
