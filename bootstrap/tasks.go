package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stageboot/logging"
	"stageboot/service"
	"stageboot/util/goroutine"
)

// StartupTask runs once the service graph is live.
type StartupTask struct {
	Name string
	Run  func(ctx context.Context, g *service.Graph) error

	// Background tasks run in their own goroutine and are cancelled on
	// shutdown. Their errors are logged, never fatal.
	Background bool

	// Optional foreground tasks log their failure instead of aborting the
	// bootstrap.
	Optional bool
}

// taskGroup owns the background startup tasks of one run.
type taskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logging.Logger
}

func newTaskGroup(parent context.Context, logger logging.Logger) *taskGroup {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &taskGroup{ctx: ctx, cancel: cancel, logger: logger}
}

func (tg *taskGroup) launch(task StartupTask, g *service.Graph) {
	tg.wg.Add(1)
	go func() {
		defer tg.wg.Done()
		var err error
		func() {
			defer goroutine.RecoverTo(task.Name, tg.logger, &err)
			err = task.Run(tg.ctx, g)
		}()
		switch {
		case err == nil:
			tg.logger.Infow("Background task finished", "task", task.Name)
		case tg.ctx.Err() != nil:
			tg.logger.Debugw("Background task cancelled", "task", task.Name, "error", err)
		default:
			tg.logger.Errorw("Background task failed", "task", task.Name, "error", err)
		}
	}()
}

// stop cancels every task and waits up to timeout for them to return.
func (tg *taskGroup) stop(timeout time.Duration) error {
	tg.cancel()
	if err := goroutine.WaitTimeout(&tg.wg, timeout); err != nil {
		return fmt.Errorf("background tasks: %w", err)
	}
	return nil
}

// runForeground runs task in the calling goroutine, turning a panic into an
// error.
func runForeground(ctx context.Context, task StartupTask, g *service.Graph, logger logging.Logger) (err error) {
	defer goroutine.RecoverTo(task.Name, logger, &err)
	return task.Run(ctx, g)
}
