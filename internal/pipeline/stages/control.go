package stages

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
	"go.uber.org/zap"
)

// PrefixTableStage renames a message's destination table with a fixed
// prefix, applied once per message before the rest of the pipeline runs.
type PrefixTableStage struct {
	pipeline.BaseStage
	Prefix string
}

func NewPrefixTableStage(prefix string) *PrefixTableStage {
	s := &PrefixTableStage{Prefix: prefix}
	s.BaseStage.Process = s.process
	return s
}

func (s *PrefixTableStage) process(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	m.RemovePacket(importPkt)
	importPkt.Table = fmt.Sprintf("%s_%s", s.Prefix, importPkt.Table)
	m.AddPacket(importPkt)
	return m.Forward(ctx)
}

func matchAny(table string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, table); ok {
			return true
		}
	}
	return false
}

// SkipTableStage forwards a message only if its table isn't excluded (or,
// when Included is set, only if it matches an inclusion pattern).
type SkipTableStage struct {
	pipeline.BaseStage
	Included []string
	Excluded []string
}

func NewSkipTableStage(included, excluded []string) *SkipTableStage {
	s := &SkipTableStage{Included: included, Excluded: excluded}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, ok := pipeline.GetPacket[pipeline.ImportTablePacket](m)
		return ok
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *SkipTableStage) filtered(table string) bool {
	if matchAny(table, s.Excluded) {
		return true
	}
	if s.Included == nil {
		return false
	}
	return !matchAny(table, s.Included)
}

func (s *SkipTableStage) process(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	if s.filtered(importPkt.Table) {
		return nil
	}
	return m.Forward(ctx)
}

// SkipUntilStage drops messages until one matches Pattern, after which it
// forwards every message (including, if IncludeMatched, the matching one).
type SkipUntilStage struct {
	pipeline.BaseStage
	Pattern        string
	IncludeMatched bool
	matched        bool
}

func NewSkipUntilStage(pattern string, includeMatched bool) *SkipUntilStage {
	s := &SkipUntilStage{Pattern: pattern, IncludeMatched: includeMatched}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, ok := pipeline.GetPacket[pipeline.ImportTablePacket](m)
		return ok
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *SkipUntilStage) process(ctx context.Context, m *pipeline.Message) error {
	if s.matched {
		return m.Forward(ctx)
	}

	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	ok, _ := doublestar.Match(s.Pattern, importPkt.Table)
	if !ok {
		return nil
	}

	s.matched = true
	if s.IncludeMatched {
		return m.Forward(ctx)
	}
	return nil
}

// DelayStage pauses the pipeline for a fixed duration before forwarding.
type DelayStage struct {
	pipeline.BaseStage
	Delay time.Duration
}

func NewDelayStage(delay time.Duration) *DelayStage {
	s := &DelayStage{Delay: delay}
	s.BaseStage.Process = s.process
	return s
}

func (s *DelayStage) process(ctx context.Context, m *pipeline.Message) error {
	select {
	case <-time.After(s.Delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Forward(ctx)
}

// PromptInputStage blocks on stdin input before forwarding, letting an
// operator step through a migration table by table.
type PromptInputStage struct {
	pipeline.BaseStage
	Prompt string
	reader *bufio.Reader
}

func NewPromptInputStage(prompt string) *PromptInputStage {
	s := &PromptInputStage{Prompt: prompt, reader: bufio.NewReader(os.Stdin)}
	s.BaseStage.Process = s.process
	return s
}

func (s *PromptInputStage) process(ctx context.Context, m *pipeline.Message) error {
	fmt.Println(s.Prompt)
	if _, err := s.reader.ReadString('\n'); err != nil {
		return err
	}
	return m.Forward(ctx)
}

// LimitImportStage wraps a message's Source so its Retrieve stream stops
// after a fixed row count.
type LimitImportStage struct {
	pipeline.BaseStage
	log   *zap.Logger
	Count int
}

func NewLimitImportStage(log *zap.Logger, count int) *LimitImportStage {
	s := &LimitImportStage{log: log, Count: count}
	s.BaseStage.Before = s
	return s
}

func (s *LimitImportStage) Before(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	m.RemovePacket(importPkt)
	importPkt.Source = &limitedSource{Source: importPkt.Source, count: s.Count, log: s.log}
	m.AddPacket(importPkt)
	return nil
}

type limitedSource struct {
	pipeline.Source
	count int
	log   *zap.Logger
}

func (s *limitedSource) Retrieve(ctx context.Context, table string) (pipeline.RowStream, error) {
	stream, err := s.Source.Retrieve(ctx, table)
	if err != nil {
		return nil, err
	}
	return &limitedRowStream{RowStream: stream, remaining: s.count, table: table, log: s.log}, nil
}

type limitedRowStream struct {
	pipeline.RowStream
	remaining int
	table     string
	log       *zap.Logger
}

func (s *limitedRowStream) Next() ([]any, error) {
	if s.remaining <= 0 {
		if s.log != nil {
			s.log.Debug("reached row limit, not returning any more rows", zap.String("table", s.table))
		}
		return nil, io.EOF
	}
	s.remaining--
	return s.RowStream.Next()
}

// FilterColumnsStage wraps a message's Source to drop a fixed set of
// columns (by name) from both GetColumns and Retrieve.
type FilterColumnsStage struct {
	pipeline.BaseStage
	log           *zap.Logger
	TablesIgnored map[string][]string
}

func NewFilterColumnsStage(log *zap.Logger, tablesIgnored map[string][]string) *FilterColumnsStage {
	s := &FilterColumnsStage{log: log, TablesIgnored: tablesIgnored}
	s.BaseStage.Before = s
	return s
}

func (s *FilterColumnsStage) Before(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	ignored := s.TablesIgnored[importPkt.Table]
	if len(ignored) == 0 {
		return nil
	}

	s.log.Info("filtering columns from table",
		zap.String("table", importPkt.Table),
		zap.String("columns", strings.Join(ignored, ", ")),
	)

	m.RemovePacket(importPkt)
	importPkt.Source = &filteredSource{Source: importPkt.Source, ignored: toSet(ignored)}
	m.AddPacket(importPkt)
	return nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

type filteredSource struct {
	pipeline.Source
	ignored map[string]bool
}

func (s *filteredSource) keptIndices(ctx context.Context, table string) ([]int, error) {
	columns, err := s.Source.GetColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	kept := make([]int, 0, len(columns))
	for i, c := range columns {
		if !s.ignored[c.Name] {
			kept = append(kept, i)
		}
	}
	return kept, nil
}

func (s *filteredSource) GetColumns(ctx context.Context, table string) ([]pipeline.Column, error) {
	columns, err := s.Source.GetColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	kept := make([]pipeline.Column, 0, len(columns))
	for _, c := range columns {
		if !s.ignored[c.Name] {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func (s *filteredSource) Retrieve(ctx context.Context, table string) (pipeline.RowStream, error) {
	indices, err := s.keptIndices(ctx, table)
	if err != nil {
		return nil, err
	}
	stream, err := s.Source.Retrieve(ctx, table)
	if err != nil {
		return nil, err
	}
	return &filteredRowStream{RowStream: stream, indices: indices}, nil
}

type filteredRowStream struct {
	pipeline.RowStream
	indices []int
}

func (s *filteredRowStream) Next() ([]any, error) {
	row, err := s.RowStream.Next()
	if err != nil {
		return nil, err
	}
	if len(s.indices) == len(row) {
		return row, nil
	}
	filtered := make([]any, len(s.indices))
	for i, idx := range s.indices {
		filtered[i] = row[idx]
	}
	return filtered, nil
}

// JumbleDataStage wraps a message's Source to replace every cell with a
// random value of the same column type, obscuring sensitive data while
// preserving the shape of a migration dry run.
type JumbleDataStage struct {
	pipeline.BaseStage
}

func NewJumbleDataStage() *JumbleDataStage {
	s := &JumbleDataStage{}
	s.BaseStage.Before = s
	return s
}

func (s *JumbleDataStage) Before(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}
	m.RemovePacket(importPkt)
	importPkt.Source = &jumbledSource{Source: importPkt.Source}
	m.AddPacket(importPkt)
	return nil
}

type jumbledSource struct {
	pipeline.Source
}

func (s *jumbledSource) Retrieve(ctx context.Context, table string) (pipeline.RowStream, error) {
	columns, err := s.Source.GetColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	stream, err := s.Source.Retrieve(ctx, table)
	if err != nil {
		return nil, err
	}
	return &jumbledRowStream{RowStream: stream, columns: columns}, nil
}

type jumbledRowStream struct {
	pipeline.RowStream
	columns []pipeline.Column
}

func (s *jumbledRowStream) Next() ([]any, error) {
	row, err := s.RowStream.Next()
	if err != nil {
		return nil, err
	}
	jumbled := make([]any, len(row))
	for i, col := range s.columns {
		jumbled[i] = randomValue(col)
	}
	return jumbled, nil
}

func randomValue(col pipeline.Column) any {
	switch col.Type {
	case "date":
		start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		days := int(time.Since(start).Hours() / 24)
		return start.AddDate(0, 0, rand.Intn(days+1))
	case "double", "float":
		return rand.Float64() * 1e8
	case "long", "int", "short", "char":
		return rand.Int63n(1e8) + 1
	case "bool":
		return rand.Intn(2) == 0
	case "string":
		size := col.Size
		if size <= 0 {
			size = 12
		}
		return randomString(size)
	default:
		return randomString(12)
	}
}

const jumbleAlphabet = "abcdefghijklmnopqrstuvwxyz "

func randomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = jumbleAlphabet[rand.Intn(len(jumbleAlphabet))]
	}
	return string(b)
}
