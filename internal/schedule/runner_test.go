package schedule

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitRun(t *testing.T, runs <-chan struct{}) {
	t.Helper()
	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestRunnerRunsOnStartAndOnTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	runs := make(chan struct{}, 4)

	runner := NewRunner(clock, Job{
		Name:       "sweep",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(context.Context) error {
			runs <- struct{}{}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)

	waitRun(t, runs)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(time.Hour)
	waitRun(t, runs)

	cancel()
	runner.Wait()
}

func TestRunnerAppliesTimeoutAndSurvivesFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	deadlines := make(chan bool, 2)
	runs := make(chan struct{}, 4)

	runner := NewRunner(clock,
		Job{
			Name:       "failing",
			Interval:   time.Minute,
			Timeout:    time.Second,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, ok := ctx.Deadline()
				deadlines <- ok
				return stderrors.New("boom")
			},
		},
		Job{
			Name:       "panicking",
			Interval:   time.Minute,
			RunOnStart: true,
			Run: func(context.Context) error {
				runs <- struct{}{}
				panic("unexpected")
			},
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)

	select {
	case ok := <-deadlines:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("failing job did not run")
	}
	waitRun(t, runs)

	// 两个任务的 ticker 都已创建，panic 之后循环仍然存活
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))
	clock.Advance(time.Minute)
	waitRun(t, runs)

	cancel()
	runner.Wait()
}

func TestRunnerSkipsInvalidJobs(t *testing.T) {
	runner := NewRunner(clockwork.NewFakeClock(),
		Job{Name: "no-interval", Run: func(context.Context) error { return nil }},
		Job{Name: "no-run", Interval: time.Minute},
	)

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)
	cancel()
	runner.Wait()
}

func TestSweepJobWrapsSweep(t *testing.T) {
	called := false
	job := SweepJob("reminders", time.Hour, time.Minute, true, func(context.Context) (SweepResult, error) {
		called = true
		return SweepResult{Scanned: 3}, nil
	})

	assert.Equal(t, "reminders", job.Name)
	assert.Equal(t, time.Hour, job.Interval)
	assert.True(t, job.RunOnStart)
	require.NoError(t, job.Run(context.Background()))
	assert.True(t, called)
}
