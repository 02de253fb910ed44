package playerpool

import (
	"sync"
	"time"

	"go-idea-jobs/internal/logger"
)

const (
	DefaultVisibilityThreshold = 0.5
	DefaultRetryDelay          = 300 * time.Millisecond
)

// State is a card's playback state.
type State string

const (
	StateHidden State = "hidden"
	StateActive State = "active"
)

// Decoder starts and stops playback for a card.
type Decoder interface {
	Start(cardID string)
	Stop(cardID string)
}

type nopDecoder struct{}

func (nopDecoder) Start(string) {}
func (nopDecoder) Stop(string)  {}

// LoggingDecoder records decoder starts and stops.
type LoggingDecoder struct {
	Logger logger.Logger
}

func (d LoggingDecoder) Start(cardID string) {
	d.Logger.Debug("decoder started", logger.String("card_id", cardID))
}

func (d LoggingDecoder) Stop(cardID string) {
	d.Logger.Debug("decoder stopped", logger.String("card_id", cardID))
}

// CardOption configures a Card.
type CardOption func(*Card)

// WithThreshold sets the visible fraction needed to request a lease.
func WithThreshold(ratio float64) CardOption {
	return func(c *Card) { c.threshold = ratio }
}

// WithRetryDelay sets how long a denied card waits before asking again.
func WithRetryDelay(d time.Duration) CardOption {
	return func(c *Card) { c.retryDelay = d }
}

// WithDecoder sets the decoder hook.
func WithDecoder(d Decoder) CardOption {
	return func(c *Card) { c.decoder = d }
}

// Card applies the lease policy for one grid cell: lease while at least
// threshold visible, release when hidden or torn down, and keep retrying
// after retryDelay while visible but denied.
type Card struct {
	id         string
	pool       *Pool
	decoder    Decoder
	threshold  float64
	retryDelay time.Duration

	mu      sync.Mutex
	state   State
	visible bool
	retry   *time.Timer
	retryN  uint64 // bumped per armed timer; a fire with an older value is stale
	torn    bool
}

// NewCard creates a hidden card bound to pool.
func NewCard(id string, pool *Pool, opts ...CardOption) *Card {
	c := &Card{
		id:         id,
		pool:       pool,
		decoder:    nopDecoder{},
		threshold:  DefaultVisibilityThreshold,
		retryDelay: DefaultRetryDelay,
		state:      StateHidden,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the card id.
func (c *Card) ID() string {
	return c.id
}

// State returns the current state.
func (c *Card) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetVisibility reports the fraction of the card inside the viewport and
// returns the resulting state.
func (c *Card) SetVisibility(ratio float64) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.torn {
		return c.state
	}
	c.visible = ratio >= c.threshold
	if c.visible {
		if c.state != StateActive {
			c.activateLocked()
		}
	} else {
		c.deactivateLocked()
	}
	return c.state
}

// Teardown stops playback and returns the lease for good.
func (c *Card) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.torn = true
	c.visible = false
	c.deactivateLocked()
}

func (c *Card) activateLocked() {
	if !c.pool.TryAcquire(c.id) {
		if c.retry == nil {
			c.retryN++
			n := c.retryN
			c.retry = time.AfterFunc(c.retryDelay, func() { c.retryAcquire(n) })
		}
		return
	}
	c.stopRetryLocked()
	c.state = StateActive
	c.decoder.Start(c.id)
}

func (c *Card) retryAcquire(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retry == nil || n != c.retryN {
		// stopped or replaced after this timer had already fired
		return
	}
	c.retry = nil
	if c.torn || !c.visible || c.state == StateActive {
		return
	}
	c.activateLocked()
}

func (c *Card) deactivateLocked() {
	c.stopRetryLocked()
	if c.state != StateActive {
		return
	}
	c.decoder.Stop(c.id)
	c.pool.Release(c.id)
	c.state = StateHidden
}

func (c *Card) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}
