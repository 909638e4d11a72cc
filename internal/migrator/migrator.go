// Package migrator wires a Source, a Destination, an ordered stage list
// and a Trigger into a running pipeline.System, and drives one migration
// run end to end — the Go analogue of original_source's Migrator.migrate.
package migrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/blazemigrate/blazemigrate/internal/config"
	"github.com/blazemigrate/blazemigrate/internal/destination"
	"github.com/blazemigrate/blazemigrate/internal/pipeline"
	"github.com/blazemigrate/blazemigrate/internal/pipeline/stages"
	"github.com/blazemigrate/blazemigrate/internal/source"
	"github.com/blazemigrate/blazemigrate/internal/trigger"
)

// Migrator owns the long-lived collaborators (source, destination,
// pipeline system, trigger) for one configured migration and drives table
// imports through them.
type Migrator struct {
	cfg    *config.Config
	log    *zap.Logger
	source pipeline.Source
	dest   pipeline.Destination
	system *pipeline.System
	trig   trigger.Trigger
	loop   *trigger.LoopTrigger
}

// New builds a Migrator from configuration, constructing the concrete
// Source/Destination adapters named in cfg and assembling the stage list
// in the order the migration spec requires: table gating, destination
// table lifecycle, row shaping (limit/jumble), unload-or-direct
// retrieval, batching, import, then retry/semaphore wrapping the whole
// thing.
func New(cfg *config.Config, log *zap.Logger) (*Migrator, error) {
	sess, err := newAWSSession(cfg.Source.UnloadRegion)
	if err != nil {
		return nil, fmt.Errorf("migrator: build aws session: %w", err)
	}

	src, err := buildSource(cfg, log, sess)
	if err != nil {
		return nil, fmt.Errorf("migrator: build source: %w", err)
	}

	dest, err := buildDestination(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("migrator: build destination: %w", err)
	}

	stageList := buildStages(cfg, log, sess)
	system := pipeline.NewSystem(cfg.Pipeline.WorkerCount, cfg.Pipeline.QueueLength, cfg.Pipeline.ContinueOnErr, log, stageList...)

	m := &Migrator{cfg: cfg, log: log, source: src, dest: dest, system: system}

	if cfg.Trigger.Mode == "loop" {
		inner := trigger.NewTableListTrigger(cfg.Trigger.Tables, src.GetTables)
		m.loop = trigger.NewLoopTrigger(log, cfg.Trigger.CronSpec, inner)
		return m, nil
	}

	trig, err := buildTrigger(cfg, log, src)
	if err != nil {
		return nil, fmt.Errorf("migrator: build trigger: %w", err)
	}
	m.trig = trig
	return m, nil
}

func buildSource(cfg *config.Config, log *zap.Logger, sess *session.Session) (pipeline.Source, error) {
	switch cfg.Source.Driver {
	case "postgres", "":
		pg, err := source.NewPostgresSource(log, cfg.Source.DSN, cfg.Source.Schema, cfg.Source.FetchCount)
		if err != nil {
			return nil, err
		}
		if cfg.Source.UnloadBucket == "" {
			return pg, nil
		}
		return source.NewS3UnloadSource(log, sess, pg, pipeline.RowFormat{
			FieldTerminator: cfg.Batch.FieldTerminator,
			LineTerminator:  cfg.Batch.LineTerminator,
			FieldWrapper:    cfg.Batch.FieldWrapper,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported source driver %q", cfg.Source.Driver)
	}
}

func buildDestination(cfg *config.Config, log *zap.Logger) (pipeline.Destination, error) {
	switch cfg.Destination.Driver {
	case "blazing", "":
		return destination.NewHTTPDestination(log, cfg.Destination.Host, cfg.Destination.User,
			cfg.Destination.Password, cfg.Destination.Database, cfg.Destination.MaxInFlight,
			cfg.Destination.RequestTimeout), nil
	case "clickhouse":
		return destination.NewClickHouseDestination(log, cfg.Destination.Host, cfg.Destination.Database,
			cfg.Destination.User, cfg.Destination.Password)
	default:
		return nil, fmt.Errorf("unsupported destination driver %q", cfg.Destination.Driver)
	}
}

func newAWSSession(region string) (*session.Session, error) {
	return session.NewSession(&aws.Config{Region: aws.String(region)})
}

func buildTrigger(cfg *config.Config, log *zap.Logger, src pipeline.Source) (trigger.Trigger, error) {
	switch cfg.Trigger.Mode {
	case "table-list", "":
		return trigger.NewTableListTrigger(cfg.Trigger.Tables, src.GetTables), nil
	case "queue":
		return trigger.NewQueueTrigger(log, cfg.Trigger.RedisAddr, cfg.Trigger.QueueKey), nil
	default:
		return nil, fmt.Errorf("unsupported trigger mode %q", cfg.Trigger.Mode)
	}
}

func buildStages(cfg *config.Config, log *zap.Logger, sess *session.Session) []pipeline.Stage {
	var list []pipeline.Stage

	if cfg.Control.TablePrefix != "" {
		list = append(list, stages.NewPrefixTableStage(cfg.Control.TablePrefix))
	}
	if len(cfg.Control.SkipGlobs) > 0 {
		list = append(list, stages.NewSkipTableStage(nil, cfg.Control.SkipGlobs))
	}
	if cfg.Control.SkipUntil != "" {
		list = append(list, stages.NewSkipUntilStage(cfg.Control.SkipUntil, true))
	}

	list = append(list, stages.NewCreateTableStage(log, true))

	if cfg.Control.LimitRows > 0 {
		list = append(list, stages.NewLimitImportStage(log, int(cfg.Control.LimitRows)))
	}
	if len(cfg.Control.JumbleColumns) > 0 {
		list = append(list, stages.NewJumbleDataStage())
	}

	list = append(list,
		stages.NewUnloadGenerationStage(log, cfg.Source.UnloadBucket, ""),
		stages.NewStreamGenerationStage(log),
		stages.NewUnloadRetrievalStage(log, sess, cfg.Pipeline.PendingHandles),
		stages.NewBatchStage(stages.NewBatcher(stages.RowBatch, cfg.Batch.RowLimit, cfg.Batch.ByteLimit)),
	)

	switch cfg.Destination.ImportStrategy {
	case "file":
		list = append(list,
			stages.NewFileOutputStage(cfg.Destination.UploadRoot, cfg.Destination.User, cfg.Destination.UserFolder, cfg.Destination.FileExt),
			stages.NewFileImportStage(cfg.Destination.UploadRoot, cfg.Destination.User, cfg.Destination.IgnoreSkipData, cfg.Destination.RequestTimeout),
		)
	default:
		list = append(list, stages.NewStreamImportStage(cfg.Destination.RequestTimeout))
	}

	list = append(list,
		stages.NewRetryStage(log, cfg.Retry.MaxAttempts, cfg.Retry.Base, cfg.Retry.Max, nil),
		stages.NewSemaphoreStage(cfg.Destination.MaxInFlight),
		stages.NewPostImportHackStage(log, false),
	)

	return list
}

// Run drives tables off the configured Trigger through the pipeline
// System until the trigger's channel closes or ctx is cancelled, then
// shuts the System down gracefully. In loop mode it instead hands control
// to the LoopTrigger's cron scheduler, draining one table channel per
// tick until ctx is cancelled.
func (m *Migrator) Run(ctx context.Context) error {
	if m.loop != nil {
		runErr := m.loop.Run(ctx, m.drainTables)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.Pipeline.ShutdownGrace)
		defer cancel()
		return errors.Join(runErr, m.system.Shutdown(shutdownCtx))
	}

	tables, err := m.trig.Tables(ctx)
	if err != nil {
		return err
	}

	drainErr := m.drainTables(ctx, tables)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.Pipeline.ShutdownGrace)
	defer cancel()
	return errors.Join(drainErr, m.system.Shutdown(shutdownCtx))
}

// drainTables enqueues every table off tables until the channel closes or
// ctx is cancelled.
func (m *Migrator) drainTables(ctx context.Context, tables <-chan string) error {
	for {
		select {
		case table, ok := <-tables:
			if !ok {
				return nil
			}
			if err := m.enqueueTable(ctx, table); err != nil {
				m.log.Warn("failed to enqueue table", zap.String("table", table), zap.Error(err))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Migrator) enqueueTable(ctx context.Context, table string) error {
	msg := pipeline.NewMessage(
		pipeline.ImportTablePacket{Source: m.source, Table: table},
		pipeline.DestinationPacket{Destination: m.dest},
		pipeline.DataFormatPacket{Format: pipeline.RowFormat{
			FieldTerminator: m.cfg.Batch.FieldTerminator,
			LineTerminator:  m.cfg.Batch.LineTerminator,
			FieldWrapper:    m.cfg.Batch.FieldWrapper,
		}},
	)

	columns, err := m.source.GetColumns(ctx, table)
	if err != nil {
		return err
	}
	msg.AddPacket(pipeline.DataColumnsPacket{Columns: columns})

	return m.system.Enqueue(ctx, msg)
}

// Close releases the source and destination collaborators.
func (m *Migrator) Close() error {
	srcErr := m.source.Close()
	destErr := m.dest.Close()
	if srcErr != nil {
		return srcErr
	}
	return destErr
}
