package entrypoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozmonaut/cozmonaut/internal/config"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

func submitErr(d vision.Detector) error {
	res := make(chan vision.Result, 1)
	d.Submit(context.Background(), robot.Frame{Seq: 1, Width: 1, Height: 1, Data: []byte{0, 0, 0}},
		func(r vision.Result) { res <- r })
	select {
	case r := <-res:
		return r.Err
	case <-time.After(2 * time.Second):
		return context.DeadlineExceeded
	}
}

func TestDetectorPool_ReconnectReplacesDetector(t *testing.T) {
	pool := newDetectorPool(config.Default())

	first := pool.New(1)
	pool.New(2)
	for i := 0; i < 5; i++ {
		pool.New(1)
	}
	assert.Equal(t, 2, pool.Len())

	require.Eventually(t, func() bool {
		return submitErr(first) == vision.ErrDetectorClosed
	}, 2*time.Second, 10*time.Millisecond)

	pool.Close()
	assert.Zero(t, pool.Len())
}
