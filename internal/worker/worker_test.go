package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerStopEndsConsumeLoop(t *testing.T) {
	w := NewWorker("worker-1", nil, nil, zerolog.Nop())

	// Stop may arrive from another goroutine before the loop gets going; the
	// worker must notice it without touching the queue.
	w.Stop()

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.True(t, w.stopped.Load())
}
