package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("cleanup", func(context.Context, Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "1"}))
	q.Stop()
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	q := NewQueue("cleanup", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("busy")
		}
		close(done)
		return nil
	}, QueueConfig{RetryDelay: 5 * time.Millisecond, MaxRetries: 5})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Payload: "cases/a/file.pdf"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestStopRunsBufferedJobs(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	release := make(chan struct{})
	q := NewQueue("cleanup", func(ctx context.Context, job Job) error {
		if job.ID == "block" {
			<-release
		}
		mu.Lock()
		seen = append(seen, job.Payload)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "block", Payload: "first"}))
	require.NoError(t, q.Enqueue(Job{ID: "2", Payload: "second"}))
	require.NoError(t, q.Enqueue(Job{ID: "3", Payload: "third"}))
	close(release)
	q.Stop()

	assert.ElementsMatch(t, []string{"first", "second", "third"}, seen)
	assert.Error(t, q.Enqueue(Job{ID: "4"}))
}

func TestEnqueueFullBuffer(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue("cleanup", func(ctx context.Context, job Job) error {
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(release)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	// wait for the worker to pick up the first job so the buffer is empty
	require.Eventually(t, func() bool { return len(q.jobs) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(Job{ID: "2"}))
	assert.Error(t, q.Enqueue(Job{ID: "3"}))
}
