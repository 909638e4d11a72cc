package pipeline

import (
	"context"
	"fmt"
	"strconv"
)

// Source is the upstream collaborator a migration reads rows from. Concrete
// adapters (Postgres, an S3-unload-capable wrapper) live in internal/source;
// the pipeline only ever depends on this interface.
type Source interface {
	GetIdentifier(table string) string
	GetTables(ctx context.Context) ([]string, error)
	GetColumns(ctx context.Context, table string) ([]Column, error)
	Query(ctx context.Context, query string) (RowStream, error)
	Retrieve(ctx context.Context, table string) (RowStream, error)
	Execute(ctx context.Context, query string) error
	Close() error
}

// Unloadable is an optional capability a Source may implement to support
// bulk unload into an object store, detected with a type assertion rather
// than a separate registration mechanism.
type Unloadable interface {
	Unload(ctx context.Context, table, bucket, keyPrefix string) error
}

// Destination is the downstream collaborator data is migrated into.
// Concrete adapters (BlazingDB-style HTTP, ClickHouse) live in
// internal/destination.
type Destination interface {
	GetIdentifier(table string) string
	GetColumns(ctx context.Context, table string) ([]Column, error)
	Register(ctx context.Context, query string) (string, error)
	Query(ctx context.Context, query string) (string, error)
	GetResults(ctx context.Context, token string) (RowStream, error)
	Execute(ctx context.Context, query string) error
	Close() error
}

// ErrServerRestart is returned by a Destination when it detects the remote
// server restarting mid-request; RetryStage treats it as retryable.
var ErrServerRestart = &sentinelError{"destination server is restarting"}

type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }

// ErrSkipImport signals the current message should be treated as skipped
// rather than failed. BaseStage.Receive recognizes it when Process or
// Forward returns it: After hooks see skipped=true and the error is not
// propagated further.
var ErrSkipImport = &sentinelError{"import skipped"}

// ErrQueryException is returned by a Destination when a query completes
// with a failure status. Query and Response carry the offending query and
// the destination's response for diagnostics; database stages' Quiet
// flags swallow this error only, not transport failures or ErrServerRestart.
type ErrQueryException struct {
	Query    string
	Response string
}

func (e *ErrQueryException) Error() string {
	return fmt.Sprintf("destination: query failed: %s", e.Query)
}

// ErrServerImportWarning is returned by a Destination's Execute when a bulk
// load completes with a server-side warning rather than a hard failure.
// FileImportStage inspects the uploaded chunk to decide whether to
// suppress it or promote it to a real error.
var ErrServerImportWarning = &sentinelError{"destination import warning"}

// ErrMissingPacket is returned by MustGetPacket when no packet of the
// requested type is present on the message.
type ErrMissingPacket struct {
	MsgID      string
	PacketType string
}

func (e *ErrMissingPacket) Error() string {
	return fmt.Sprintf("pipeline: message %s missing required packet %s", e.MsgID, e.PacketType)
}

// ErrInvalidImportPath is returned when a chunk file path escapes the
// configured upload root.
type ErrInvalidImportPath struct {
	Path string
}

func (e *ErrInvalidImportPath) Error() string {
	return "invalid import path (escapes upload root): " + e.Path
}

// ErrRetryExhausted is returned by RetryStage once max_attempts has been
// exceeded without a successful forward.
type ErrRetryExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrRetryExhausted) Error() string {
	return "retry exhausted after " + strconv.Itoa(e.Attempts) + " attempt(s): " + e.Last.Error()
}

func (e *ErrRetryExhausted) Unwrap() error { return e.Last }
