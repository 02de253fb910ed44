package playerpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDecoder struct {
	mu      sync.Mutex
	running map[string]bool
	starts  int
	stops   int
}

func newRecordingDecoder() *recordingDecoder {
	return &recordingDecoder{running: make(map[string]bool)}
}

func (d *recordingDecoder) Start(cardID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[cardID] = true
	d.starts++
}

func (d *recordingDecoder) Stop(cardID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, cardID)
	d.stops++
}

func (d *recordingDecoder) isRunning(cardID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[cardID]
}

func TestCard_VisibilityThreshold(t *testing.T) {
	p := New(4)
	dec := newRecordingDecoder()
	c := NewCard("a", p, WithDecoder(dec))

	assert.Equal(t, StateHidden, c.SetVisibility(0.49))
	assert.False(t, p.Holds("a"))

	assert.Equal(t, StateActive, c.SetVisibility(0.5))
	assert.True(t, p.Holds("a"))
	assert.True(t, dec.isRunning("a"))

	assert.Equal(t, StateActive, c.SetVisibility(0.9))
	assert.Equal(t, 1, dec.starts)

	assert.Equal(t, StateHidden, c.SetVisibility(0.2))
	assert.False(t, p.Holds("a"))
	assert.False(t, dec.isRunning("a"))
	assert.Equal(t, 1, dec.stops)
}

func TestCard_DeniedCardRetriesAfterDelay(t *testing.T) {
	p := New(1)
	dec := newRecordingDecoder()
	opts := []CardOption{WithDecoder(dec), WithRetryDelay(10 * time.Millisecond)}
	first := NewCard("first", p, opts...)
	second := NewCard("second", p, opts...)

	require.Equal(t, StateActive, first.SetVisibility(1))
	assert.Equal(t, StateHidden, second.SetVisibility(1))
	assert.False(t, dec.isRunning("second"))

	first.SetVisibility(0)

	require.Eventually(t, func() bool {
		return second.State() == StateActive
	}, time.Second, 5*time.Millisecond)
	assert.True(t, p.Holds("second"))
	assert.True(t, dec.isRunning("second"))
}

func TestCard_NoRetryOnceHidden(t *testing.T) {
	p := New(1)
	first := NewCard("first", p, WithRetryDelay(10*time.Millisecond))
	second := NewCard("second", p, WithRetryDelay(10*time.Millisecond))

	first.SetVisibility(1)
	second.SetVisibility(1)
	second.SetVisibility(0)
	first.SetVisibility(0)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateHidden, second.State())
	assert.Zero(t, p.Leased())
}

func TestCard_StaleRetryFireKeepsNewTimer(t *testing.T) {
	p := New(1)
	holder := NewCard("holder", p)
	require.Equal(t, StateActive, holder.SetVisibility(1))

	c := NewCard("c", p, WithRetryDelay(time.Hour))
	c.SetVisibility(1)
	c.mu.Lock()
	stale := c.retryN
	c.mu.Unlock()

	// hide and re-show: the first timer is stopped and a second one armed
	c.SetVisibility(0)
	c.SetVisibility(1)
	c.mu.Lock()
	armed := c.retry
	c.mu.Unlock()
	require.NotNil(t, armed)

	// the first timer's callback arrives late
	c.retryAcquire(stale)

	c.mu.Lock()
	assert.Same(t, armed, c.retry)
	c.mu.Unlock()

	// the pending retry still stops with the card
	c.Teardown()
	c.mu.Lock()
	assert.Nil(t, c.retry)
	c.mu.Unlock()
	assert.Equal(t, StateHidden, c.State())
}

func TestCard_Teardown(t *testing.T) {
	p := New(2)
	dec := newRecordingDecoder()
	c := NewCard("a", p, WithDecoder(dec))

	c.SetVisibility(1)
	c.Teardown()
	c.Teardown()

	assert.Equal(t, StateHidden, c.State())
	assert.Zero(t, p.Leased())
	assert.Equal(t, 1, dec.stops)

	assert.Equal(t, StateHidden, c.SetVisibility(1))
	assert.Zero(t, p.Leased())
}

func TestCard_CustomThreshold(t *testing.T) {
	p := New(1)
	c := NewCard("a", p, WithThreshold(0.8))

	assert.Equal(t, StateHidden, c.SetVisibility(0.7))
	assert.Equal(t, StateActive, c.SetVisibility(0.8))
}

func TestGrid(t *testing.T) {
	g := NewGrid(New(2), WithRetryDelay(time.Hour))

	assert.Equal(t, StateActive, g.SetVisibility("c", 1))
	assert.Equal(t, StateActive, g.SetVisibility("a", 1))
	assert.Equal(t, StateHidden, g.SetVisibility("b", 1))

	assert.Equal(t, []CardState{
		{CardID: "a", State: StateActive},
		{CardID: "b", State: StateHidden},
		{CardID: "c", State: StateActive},
	}, g.Snapshot())

	assert.True(t, g.Remove("a"))
	assert.False(t, g.Remove("a"))
	assert.Equal(t, 1, g.Pool().Leased())

	g.Close()
	assert.Zero(t, g.Pool().Leased())
	assert.Empty(t, g.Snapshot())
}
