package stages

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

// buildLoadCommand renders the ingest command grammar shared by the file
// and stream import stages: "load data <method> into table <ident> fields
// terminated by '<ft>' enclosed by '<fw>' lines terminated by '<lt>'".
func buildLoadCommand(method, identifier string, fmtSpec pipeline.RowFormat) string {
	return fmt.Sprintf(
		"load data %s into table %s fields terminated by '%s' enclosed by '%s' lines terminated by '%s'",
		method, identifier, fmtSpec.FieldTerminator, fmtSpec.FieldWrapper, fmtSpec.LineTerminator,
	)
}

func performRequest(ctx context.Context, dest pipeline.Destination, method, identifier string, fmtSpec pipeline.RowFormat, timeout time.Duration) error {
	query := buildLoadCommand(method, identifier, fmtSpec)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return dest.Execute(ctx, query)
}

// StreamImportStage streams DataLoadPacket rows inline to the destination
// via a "load data stream '...' into table ..." query.
type StreamImportStage struct {
	pipeline.BaseStage
	Timeout time.Duration
}

func NewStreamImportStage(timeout time.Duration) *StreamImportStage {
	s := &StreamImportStage{Timeout: timeout}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, ok := pipeline.GetPacket[pipeline.DataLoadPacket](m)
		return ok
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *StreamImportStage) process(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	fmtPkt, err := pipeline.MustGetPacket[pipeline.DataFormatPacket](m)
	if err != nil {
		return err
	}
	destPkt, err := pipeline.MustGetPacket[pipeline.DestinationPacket](m)
	if err != nil {
		return err
	}

	identifier := destPkt.Destination.GetIdentifier(importPkt.Table)
	for _, load := range pipeline.GetPackets[pipeline.DataLoadPacket](m) {
		method := fmt.Sprintf("stream '%s'", string(load.Data))
		if err := performRequest(ctx, destPkt.Destination, method, identifier, fmtPkt.Format, s.Timeout); err != nil {
			return err
		}
	}
	return m.Forward(ctx)
}

// FileOutputStage writes DataLoadPacket chunks to disk under
// <uploadRoot>/<user>/<userFolder>/<table>_<index>.dat, replacing them with
// DataFilePacket references.
type FileOutputStage struct {
	pipeline.BaseStage
	UploadFolder string
	UserFolder   string
	FileExt      string
}

func NewFileOutputStage(uploadRoot, user, userFolder, fileExt string) *FileOutputStage {
	s := &FileOutputStage{
		UploadFolder: filepath.Join(uploadRoot, user),
		UserFolder:   userFolder,
		FileExt:      fileExt,
	}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, ok := pipeline.GetPacket[pipeline.DataLoadPacket](m)
		return ok
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *FileOutputStage) filePath(table string, index int64) string {
	name := fmt.Sprintf("%s_%d", table, index)
	if s.FileExt != "" {
		name += "." + s.FileExt
	}
	if s.UserFolder != "" {
		return filepath.Join(s.UploadFolder, s.UserFolder, name)
	}
	return filepath.Join(s.UploadFolder, name)
}

func (s *FileOutputStage) process(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}

	for _, load := range pipeline.PopPackets[pipeline.DataLoadPacket](m) {
		path := s.filePath(importPkt.Table, load.Index)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, load.Data, 0o644); err != nil {
			return err
		}
		m.AddPacket(pipeline.DataFilePacket{FilePath: path})
	}
	return m.Forward(ctx)
}

// FileImportStage loads DataFilePacket chunks already on disk via a
// "load data infile <relative-path> ..." query, rejecting any path that
// escapes the configured upload root.
type FileImportStage struct {
	pipeline.BaseStage
	UploadFolder   string
	IgnoreSkipData bool
	Timeout        time.Duration
}

func NewFileImportStage(uploadRoot, user string, ignoreSkipData bool, timeout time.Duration) *FileImportStage {
	s := &FileImportStage{
		UploadFolder:   filepath.Join(uploadRoot, user),
		IgnoreSkipData: ignoreSkipData,
		Timeout:        timeout,
	}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, ok := pipeline.GetPacket[pipeline.DataFilePacket](m)
		return ok
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *FileImportStage) importPath(chunkPath string) (string, error) {
	rel, err := filepath.Rel(s.UploadFolder, chunkPath)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", &pipeline.ErrInvalidImportPath{Path: chunkPath}
	}
	return rel, nil
}

func (s *FileImportStage) process(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	fmtPkt, err := pipeline.MustGetPacket[pipeline.DataFormatPacket](m)
	if err != nil {
		return err
	}
	destPkt, err := pipeline.MustGetPacket[pipeline.DestinationPacket](m)
	if err != nil {
		return err
	}

	identifier := destPkt.Destination.GetIdentifier(importPkt.Table)

	for _, file := range pipeline.GetPackets[pipeline.DataFilePacket](m) {
		rel, err := s.importPath(file.FilePath)
		if err != nil {
			return err
		}

		style := "infile"
		if s.IgnoreSkipData {
			style = "infilenoskip"
		}
		method := fmt.Sprintf("%s %s", style, rel)

		if err := performRequest(ctx, destPkt.Destination, method, identifier, fmtPkt.Format, s.Timeout); err != nil {
			if errors.Is(err, pipeline.ErrServerImportWarning) {
				raise, raiseErr := s.shouldRaiseWarning(file.FilePath, fmtPkt.Format)
				if raiseErr != nil {
					return raiseErr
				}
				if !raise {
					continue
				}
			}
			return err
		}
	}
	return m.Forward(ctx)
}

// shouldRaiseWarning re-reads a chunk file's first line to decide whether a
// ServerImportWarning should be suppressed: it's a benign trailing-terminator
// artifact only if that line ends with the configured field terminator.
func (s *FileImportStage) shouldRaiseWarning(filePath string, fmtSpec pipeline.RowFormat) (bool, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	line = strings.TrimSuffix(line, fmtSpec.LineTerminator)
	line = strings.TrimSuffix(line, "\n")
	return !strings.HasSuffix(line, fmtSpec.FieldTerminator), nil
}
