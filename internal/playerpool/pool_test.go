package playerpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"go-idea-jobs/internal/metrics"
)

func TestPool_CapacityUnderConcurrency(t *testing.T) {
	p := New(4)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if p.TryAcquire(fmt.Sprintf("card-%d", i)) {
				granted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(4), granted.Load())
	assert.Equal(t, 4, p.Leased())
	assert.False(t, p.TryAcquire("late"))

	holders := p.Holders()
	p.Release(holders[0])
	p.Release(holders[1])
	assert.True(t, p.TryAcquire("late"))
	assert.True(t, p.TryAcquire("later"))
	assert.False(t, p.TryAcquire("latest"))
	assert.Equal(t, 4, p.Leased())
}

func TestPool_ReacquireByHolder(t *testing.T) {
	p := New(1)

	assert.True(t, p.TryAcquire("a"))
	assert.True(t, p.TryAcquire("a"))
	assert.Equal(t, 1, p.Leased())
	assert.True(t, p.Holds("a"))
	assert.False(t, p.TryAcquire("b"))
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	p := New(2)
	p.TryAcquire("a")

	p.Release("a")
	p.Release("a")
	p.Release("never")
	assert.Zero(t, p.Leased())
	assert.False(t, p.Holds("a"))
}

func TestPool_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
	assert.Equal(t, 7, New(7).Capacity())
}

func TestPool_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p := New(1, WithMetrics(m))

	p.TryAcquire("a")
	p.TryAcquire("b")
	p.TryAcquire("c")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlayersLeased))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlayerCapacity))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PlayersDenied))

	p.Release("a")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PlayersLeased))
}
