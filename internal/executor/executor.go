package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"go.uber.org/zap"
)

// #region types
// Result is the per-action outcome reported by an Executor.
type Result struct {
	Action        situation.Action
	Success       bool
	FailureReason string
	Duration      time.Duration
}

// Executor runs a single device/tool action.
type Executor interface {
	Execute(ctx context.Context, action situation.Action) Result
}

// Func adapts an ordinary function to the Executor interface.
type Func func(ctx context.Context, action situation.Action) Result

// Execute calls f.
func (f Func) Execute(ctx context.Context, action situation.Action) Result {
	return f(ctx, action)
}

// #endregion types

// #region run-all
// RunAll executes actions in order, one batch per utterance. Failures are
// reported, never retried. Once ctx is done the remaining actions are
// reported as failed without being attempted.
func RunAll(ctx context.Context, ex Executor, actions []situation.Action) []Result {
	results := make([]Result, 0, len(actions))
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{
				Action:        a,
				Success:       false,
				FailureReason: fmt.Sprintf("not attempted: %v", err),
			})
			continue
		}
		start := time.Now()
		r := ex.Execute(ctx, a)
		r.Action = a
		if r.Duration == 0 {
			r.Duration = time.Since(start)
		}
		results = append(results, r)
	}
	return results
}

// #endregion run-all

// #region dry-run
// DryRun logs actions instead of touching any device. Every action succeeds.
type DryRun struct {
	logger *zap.Logger

	mu       sync.Mutex
	executed []situation.Action
}

// NewDryRun creates a dry-run executor. logger may be nil.
func NewDryRun(logger *zap.Logger) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRun{logger: logger.Named("executor")}
}

// Execute records and logs the action.
func (d *DryRun) Execute(_ context.Context, a situation.Action) Result {
	d.mu.Lock()
	d.executed = append(d.executed, a)
	d.mu.Unlock()
	d.logger.Info("dry-run action", zap.String("action", a.Key()))
	return Result{Action: a, Success: true}
}

// Executed returns the actions seen so far, in order.
func (d *DryRun) Executed() []situation.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]situation.Action, len(d.executed))
	copy(out, d.executed)
	return out
}

// #endregion dry-run
