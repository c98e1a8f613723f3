package tasks

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestQueue_RunsTasksAndDrainsOnClose(t *testing.T) {
	q := NewQueue(16, 2, time.Second, zerolog.Nop())

	var ran int32
	for i := 0; i < 10; i++ {
		assert.True(t, q.Submit("count", func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}))
	}
	q.Close()

	assert.Equal(t, int32(10), atomic.LoadInt32(&ran))
}

func TestQueue_FailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	q := NewQueue(4, 1, time.Second, zerolog.New(&buf))

	q.Submit("last_used", func(ctx context.Context) error {
		return errors.New("database is locked")
	})
	q.Close()

	assert.Contains(t, buf.String(), "background task failed")
	assert.Contains(t, buf.String(), "database is locked")
	assert.Contains(t, buf.String(), `"task":"last_used"`)
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	var buf bytes.Buffer
	q := NewQueue(4, 1, time.Second, zerolog.New(&buf))

	var after int32
	q.Submit("boom", func(ctx context.Context) error { panic("bad") })
	q.Submit("after", func(ctx context.Context) error {
		atomic.StoreInt32(&after, 1)
		return nil
	})
	q.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&after))
	assert.Contains(t, buf.String(), "background task panicked")
}

func TestQueue_DropsWhenFullWithoutBlocking(t *testing.T) {
	q := NewQueue(1, 1, time.Second, zerolog.Nop())

	release := make(chan struct{})
	started := make(chan struct{})
	q.Submit("block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	assert.True(t, q.Submit("fills", func(ctx context.Context) error { return nil }))
	assert.False(t, q.Submit("dropped", func(ctx context.Context) error { return nil }))

	close(release)
	q.Close()
}

func TestQueue_SubmitAfterCloseIsDropped(t *testing.T) {
	q := NewQueue(1, 1, time.Second, zerolog.Nop())
	q.Close()
	assert.False(t, q.Submit("late", func(ctx context.Context) error { return nil }))
}

func TestQueue_TaskGetsDeadline(t *testing.T) {
	q := NewQueue(1, 1, 50*time.Millisecond, zerolog.Nop())

	var hadDeadline int32
	q.Submit("deadline", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			atomic.StoreInt32(&hadDeadline, 1)
		}
		return nil
	})
	q.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hadDeadline))
}
