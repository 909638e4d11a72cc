package trigger

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// LoopTrigger re-runs a migration on a cron schedule, delegating to an
// inner Trigger (typically a TableListTrigger) for which tables each run
// covers.
type LoopTrigger struct {
	inner Trigger
	cron  *cron.Cron
	log   *zap.Logger
	spec  string
}

func NewLoopTrigger(log *zap.Logger, spec string, inner Trigger) *LoopTrigger {
	return &LoopTrigger{inner: inner, cron: cron.New(), log: log, spec: spec}
}

// Run invokes onFire once per cron tick until ctx is cancelled, passing it
// the inner trigger's table channel for that tick.
func (t *LoopTrigger) Run(ctx context.Context, onFire func(ctx context.Context, tables <-chan string) error) error {
	_, err := t.cron.AddFunc(t.spec, func() {
		tables, err := t.inner.Tables(ctx)
		if err != nil {
			t.log.Error("loop trigger could not list tables", zap.Error(err))
			return
		}
		if err := onFire(ctx, tables); err != nil {
			t.log.Error("loop trigger run failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	t.cron.Start()
	<-ctx.Done()
	stopCtx := t.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
