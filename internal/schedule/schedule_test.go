package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_RunsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	h := Start(context.Background(), "counter", 5*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	}, nil)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "task ran after Stop returned")
}

func TestStart_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, "parent", time.Millisecond, func(context.Context) {}, nil)

	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit after parent cancellation")
	}
}

func TestStart_TaskContextCancelledOnStop(t *testing.T) {
	seen := make(chan context.Context, 1)
	h := Start(context.Background(), "ctx", time.Millisecond, func(ctx context.Context) {
		select {
		case seen <- ctx:
		default:
		}
	}, nil)

	var taskCtx context.Context
	select {
	case taskCtx = <-seen:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	h.Stop()
	assert.Error(t, taskCtx.Err())
}

func TestHandle_CancelFromInside(t *testing.T) {
	var h *Handle
	ready := make(chan struct{})
	h = Start(context.Background(), "self", time.Millisecond, func(context.Context) {
		<-ready
		h.Cancel()
	}, nil)
	close(ready)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit after Cancel from inside fn")
	}
	h.Stop()
	assert.Equal(t, "self", h.Name())
}
