package operation

import (
	"context"

	"github.com/resily/resily/engine/core"
	"github.com/resily/resily/pkg/logger"
)

// -----------------------------------------------------------------------------
// Observer
// -----------------------------------------------------------------------------

// Observer receives lifecycle notifications while a run is in flight.
// Callbacks are invoked synchronously from the executing goroutine and must
// return quickly; a panicking callback is recovered and logged so it cannot
// take down the run.
type Observer interface {
	// OnProgress reports overall run progress as a percentage in [0, 100].
	OnProgress(percent float64)
	// OnStageChange reports a task entering a new lifecycle stage.
	OnStageChange(key string, stage core.StatusType)
	// OnRetry reports that attempt for key failed with err and a retry is
	// about to be scheduled.
	OnRetry(key string, attempt int, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnProgress(float64) {}

func (NopObserver) OnStageChange(string, core.StatusType) {}

func (NopObserver) OnRetry(string, int, error) {}

// CallbackObserver adapts plain functions to the Observer interface. Nil
// callbacks are ignored.
type CallbackObserver struct {
	Progress    func(percent float64)
	StageChange func(key string, stage core.StatusType)
	Retry       func(key string, attempt int, err error)
}

func (o *CallbackObserver) OnProgress(percent float64) {
	if o.Progress != nil {
		o.Progress(percent)
	}
}

func (o *CallbackObserver) OnStageChange(key string, stage core.StatusType) {
	if o.StageChange != nil {
		o.StageChange(key, stage)
	}
}

func (o *CallbackObserver) OnRetry(key string, attempt int, err error) {
	if o.Retry != nil {
		o.Retry(key, attempt, err)
	}
}

// -----------------------------------------------------------------------------
// Notification helpers
// -----------------------------------------------------------------------------

func NotifyProgress(ctx context.Context, obs Observer, percent float64) {
	if obs == nil {
		return
	}
	defer recoverObserverPanic(ctx, "OnProgress")
	obs.OnProgress(percent)
}

func NotifyStageChange(ctx context.Context, obs Observer, key string, stage core.StatusType) {
	if obs == nil {
		return
	}
	defer recoverObserverPanic(ctx, "OnStageChange")
	obs.OnStageChange(key, stage)
}

func NotifyRetry(ctx context.Context, obs Observer, key string, attempt int, err error) {
	if obs == nil {
		return
	}
	defer recoverObserverPanic(ctx, "OnRetry")
	obs.OnRetry(key, attempt, err)
}

func recoverObserverPanic(ctx context.Context, callback string) {
	if r := recover(); r != nil {
		logger.FromContext(ctx).Warn("recovered panic from observer callback",
			"callback", callback,
			"panic", r,
		)
	}
}
