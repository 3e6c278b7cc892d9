package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbrgb-controller/internal/core"
)

func TestQueueKeepsOrder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Send(core.SetBrightness(i)))
	}
	assert.Equal(t, 5, q.Len())

	select {
	case <-q.Ready():
	default:
		t.Fatal("ready not signalled")
	}

	got := q.drain()
	require.Len(t, got, 5)
	for i, cmd := range got {
		assert.Equal(t, i, cmd.Level)
	}
	assert.Zero(t, q.Len())
}

func TestQueueNeverBlocks(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = q.Send(core.SetSpeed(i))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, q.Len())
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Send(core.SaveProfile()))

	left := q.close()
	assert.Len(t, left, 1)
	assert.ErrorIs(t, q.Send(core.SaveProfile()), ErrChannelClosed)
	assert.Zero(t, q.Len())
}
