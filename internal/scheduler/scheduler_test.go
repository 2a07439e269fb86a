package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regsync/pkg/cyclecontext"
)

func TestAddValidates(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Task{Interval: time.Second, Run: noop}))
	assert.Error(t, s.Add(Task{Name: "poll", Run: noop}))
	assert.Error(t, s.Add(Task{Name: "poll", Interval: time.Second}))
	require.NoError(t, s.Add(Task{Name: "poll", Interval: time.Second, Run: noop}))
	assert.Error(t, s.Add(Task{Name: "poll", Interval: time.Second, Run: noop}), "duplicate name")
}

func TestRunsImmediatelyOnStart(t *testing.T) {
	s := New()
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(Task{
		Name:     "poll",
		Interval: time.Hour,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run on start")
	}
	cancel()
	s.Wait()
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	s := New()
	release := make(chan struct{})
	var runs atomic.Int32
	var concurrent, maxConcurrent atomic.Int32

	require.NoError(t, s.Add(Task{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			n := concurrent.Add(1)
			for {
				m := maxConcurrent.Load()
				if n <= m || maxConcurrent.CompareAndSwap(m, n) {
					break
				}
			}
			<-release
			concurrent.Add(-1)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	close(release)
	s.Wait()

	assert.Equal(t, int32(1), runs.Load(), "ticks during a running cycle are dropped")
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestTasksRunIndependently(t *testing.T) {
	s := New()
	block := make(chan struct{})
	fastRan := make(chan struct{}, 16)

	require.NoError(t, s.Add(Task{Name: "stuck", Interval: time.Millisecond, Run: func(context.Context) error {
		<-block
		return nil
	}}))
	require.NoError(t, s.Add(Task{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		select {
		case fastRan <- struct{}{}:
		default:
		}
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	for i := 0; i < 2; i++ {
		select {
		case <-fastRan:
		case <-time.After(2 * time.Second):
			t.Fatal("fast task starved by stuck task")
		}
	}
	cancel()
	close(block)
	s.Wait()
}

func TestInFlightCycleFinishesAfterCancel(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var cycleCtxErr error
	var finished atomic.Bool

	require.NoError(t, s.Add(Task{Name: "poll", Interval: time.Hour, Run: func(ctx context.Context) error {
		close(started)
		<-release
		cycleCtxErr = ctx.Err()
		finished.Store(true)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned before the in-flight cycle finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	assert.True(t, finished.Load())
	assert.NoError(t, cycleCtxErr, "cycle context is not cancelled by shutdown")
}

func TestCycleContextCarriesTimeAndID(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	got := make(chan context.Context, 1)

	require.NoError(t, s.Add(Task{Name: "poll", Interval: time.Hour, Run: func(ctx context.Context) error {
		got <- ctx
		return errors.New("logged, not fatal")
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cycleCtx := <-got
	cancel()
	s.Wait()

	assert.Equal(t, fixed, cyclecontext.Now(cycleCtx))
	assert.NotEmpty(t, cyclecontext.CycleID(cycleCtx))
}

func TestPanickingTaskIsRecovered(t *testing.T) {
	s := New()
	var calls atomic.Int32
	require.NoError(t, s.Add(Task{Name: "panicky", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		calls.Add(1)
		panic("boom")
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond,
		"running flag is released after a panic")
	cancel()
	s.Wait()
}
