// Package stages implements the concrete pipeline stages named in the
// migration spec: stream encoding, batching, import, database, control,
// retry, semaphore and unload stages.
package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

const (
	DefaultFieldTerminator = "|"
	DefaultFieldWrapper    = "\""
	DefaultLineTerminator  = "\n"
)

// encodeColumn renders a single cell per the migration's delimited-text
// rules: nil becomes the empty field, strings are wrapped in the field
// wrapper, times are rendered as a bare date, everything else uses its
// default string form.
func encodeColumn(value any, fmtSpec pipeline.RowFormat) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return fmtSpec.FieldWrapper + v + fmtSpec.FieldWrapper
	case time.Time:
		return v.Format("2006-01-02")
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// EncodeRow encodes each of a row's cells with encodeColumn, joins them with
// the field terminator and appends the line terminator, per the original's
// _process_row.
func EncodeRow(row []any, fmtSpec pipeline.RowFormat) string {
	fields := make([]string, len(row))
	for i, cell := range row {
		fields[i] = encodeColumn(cell, fmtSpec)
	}
	return strings.Join(fields, fmtSpec.FieldTerminator) + fmtSpec.LineTerminator
}

// StreamGenerationStage drives a message's Source lazily, encoding each row
// retrieved via Source.Retrieve into a DataLoadPacket carried by its own
// tracked child message, then emits a terminal DataCompletePacket once the
// stream is exhausted and every child has been joined. Messages already
// carrying a DataUnloadPacket are left alone; UnloadRetrievalStage drives
// those instead.
type StreamGenerationStage struct {
	pipeline.BaseStage
	log *zap.Logger
}

func NewStreamGenerationStage(log *zap.Logger) *StreamGenerationStage {
	s := &StreamGenerationStage{log: log}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, hasImport := pipeline.GetPacket[pipeline.ImportTablePacket](m)
		_, hasUnload := pipeline.GetPacket[pipeline.DataUnloadPacket](m)
		return hasImport && !hasUnload
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *StreamGenerationStage) process(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	fmtPkt, err := pipeline.MustGetPacket[pipeline.DataFormatPacket](m)
	if err != nil {
		return err
	}

	s.log.Debug("retrieving rows from source", zap.String("table", importPkt.Table))

	stream, err := importPkt.Source.Retrieve(ctx, importPkt.Table)
	if err != nil {
		return err
	}
	defer stream.Close()

	var pending []*pipeline.Handle
	var index int64
	for {
		row, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		line := EncodeRow(row, fmtPkt.Format)
		child, err := m.ForwardChild(ctx, true, pipeline.DataLoadPacket{Data: []byte(line), Index: index})
		if err != nil {
			return err
		}
		pending = append(pending, child.Handle())
		index++
	}

	for _, h := range pending {
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}

	m.AddPacket(pipeline.DataCompletePacket{})
	return m.Forward(ctx)
}
