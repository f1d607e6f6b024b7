package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"DeadManSwitch/pkg/logger"
)

// Job 一个周期任务。Timeout 为单次执行的上限，0 表示不限制
type Job struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Runner 按固定间隔执行任务列表，同一个任务不会重叠执行
type Runner struct {
	clock clockwork.Clock
	jobs  []Job
	wg    sync.WaitGroup
}

func NewRunner(clock clockwork.Clock, jobs ...Job) *Runner {
	return &Runner{clock: clock, jobs: jobs}
}

// Start 每个任务一个 goroutine，ctx 取消后退出
func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		if job.Interval <= 0 || job.Run == nil {
			logger.Logger.Warn("Skipping invalid scheduled job", zap.String("job", job.Name))
			continue
		}
		r.wg.Add(1)
		go func(job Job) {
			defer r.wg.Done()
			r.loop(ctx, job)
		}(job)
	}
}

// Wait 等待所有任务退出
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	logger.Logger.Info("Scheduled job started",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval),
		zap.Bool("run_on_start", job.RunOnStart),
	)

	if job.RunOnStart {
		r.runOnce(ctx, job)
	}

	ticker := r.clock.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info("Scheduled job stopped", zap.String("job", job.Name))
			return
		case <-ticker.Chan():
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Logger.Error("Scheduled job panicked",
				zap.String("job", job.Name),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()

	start := r.clock.Now()
	if err := job.Run(runCtx); err != nil {
		logger.Logger.Error("Scheduled job run failed",
			zap.String("job", job.Name),
			zap.Duration("elapsed", r.clock.Since(start)),
			zap.Error(err),
		)
		return
	}
	logger.Logger.Debug("Scheduled job run finished",
		zap.String("job", job.Name),
		zap.Duration("elapsed", r.clock.Since(start)),
	)
}

// SweepJob 把扫描包装成 Job，结果已在扫描内部记录
func SweepJob(name string, interval, timeout time.Duration, runOnStart bool, sweep func(ctx context.Context) (SweepResult, error)) Job {
	return Job{
		Name:       name,
		Interval:   interval,
		Timeout:    timeout,
		RunOnStart: runOnStart,
		Run: func(ctx context.Context) error {
			_, err := sweep(ctx)
			return err
		},
	}
}
