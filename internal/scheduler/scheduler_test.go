package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleCron(t *testing.T) {
	t.Run("returns job id for valid cron", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		id, err := s.ScheduleCron("test", "0 */4 * * *", func(context.Context) {})
		require.NoError(t, err)
		require.NotEmpty(t, id)
	})

	t.Run("rejects invalid cron", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		_, err = s.ScheduleCron("test", "this is not a cron", func(context.Context) {})
		require.Error(t, err)

		_, err = s.ScheduleCron("test", " ", func(context.Context) {})
		require.Error(t, err)
	})
}

func TestScheduleEvery(t *testing.T) {
	t.Run("rejects non-positive interval", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		_, err = s.ScheduleEvery("test", 0, func(context.Context) {})
		require.Error(t, err)
	})

	t.Run("runs the task", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)

		var calls atomic.Int32
		_, err = s.ScheduleEvery("tick", 20*time.Millisecond, func(context.Context) { calls.Add(1) })
		require.NoError(t, err)
		s.Start()
		require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, s.Stop())
	})

	t.Run("stop cancels the task context", func(t *testing.T) {
		s, err := New()
		require.NoError(t, err)

		started := make(chan struct{})
		done := make(chan struct{})
		_, err = s.ScheduleEvery("blocking", 10*time.Millisecond, func(ctx context.Context) {
			select {
			case started <- struct{}{}:
			default:
				return
			}
			<-ctx.Done()
			close(done)
		})
		require.NoError(t, err)
		s.Start()
		<-started
		require.NoError(t, s.Stop())
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task context was not cancelled")
		}
	})
}
