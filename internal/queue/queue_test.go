package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizutani/kakeibot/internal/service"
)

func TestQueue_DeliversEachJobOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	handled := make(chan struct{}, 10)

	q := New(10, func(_ context.Context, job service.ReceiptJob) error {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
		handled <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, 2)

	q.EnqueueReceiptJob(service.ReceiptJob{ID: "j1"})
	q.EnqueueReceiptJob(service.ReceiptJob{ID: "j2"})
	q.EnqueueReceiptJob(service.ReceiptJob{ID: "j3"})

	for i := 0; i < 3; i++ {
		select {
		case <-handled:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s delivered more than once", id)
	}
}

func TestQueue_EnqueueNeverBlocks(t *testing.T) {
	q := New(1, func(context.Context, service.ReceiptJob) error { return nil })
	// No workers running: the buffer fills and the overflow is dropped.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.EnqueueReceiptJob(service.ReceiptJob{ID: "j"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}

func TestQueue_WorkersStopOnCancel(t *testing.T) {
	q := New(1, func(context.Context, service.ReceiptJob) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx, 2)
	cancel()

	stopped := make(chan struct{})
	go func() {
		q.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after cancellation")
	}
}
