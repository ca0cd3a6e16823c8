package system

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	wp := NewWorkerPool(3, 10, nil)
	wp.Start()

	var n atomic.Int64
	for i := 0; i < 100; i++ {
		assert.NoError(t, wp.Submit(context.Background(), func() { n.Add(1) }))
	}
	assert.NoError(t, wp.Submit(context.Background(), func() { panic("ignored") }))
	wp.Stop()
	assert.Equal(t, int64(100), n.Load())

	assert.ErrorIs(t, wp.Submit(context.Background(), func() {}), ErrSystemStopped)
	wp.Stop()
}
