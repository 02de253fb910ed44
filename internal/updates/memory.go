package updates

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
)

const defaultBufferSize = 64

type memorySub struct {
	id   string
	ch   chan storage.Job
	done chan struct{}
	once sync.Once
}

// MemoryChannel is an in-process Channel and Publisher. Publish blocks until
// every current subscriber of the topic has accepted the document, so no
// update is dropped and per-topic order is preserved.
type MemoryChannel struct {
	logger     logger.Logger
	bufferSize int

	mu     sync.RWMutex
	topics map[string]map[string]*memorySub
	closed bool
}

// NewMemoryChannel creates an in-process update channel.
func NewMemoryChannel(log logger.Logger) *MemoryChannel {
	return &MemoryChannel{
		logger:     log.With(logger.Component("updates.memory")),
		bufferSize: defaultBufferSize,
		topics:     make(map[string]map[string]*memorySub),
	}
}

// Subscribe implements Channel.
func (c *MemoryChannel) Subscribe(ctx context.Context, ownerID string, scope storage.Scope) (<-chan storage.Job, func(), error) {
	topic := Topic(ownerID, scope)
	sub := &memorySub{
		id:   uuid.NewString(),
		ch:   make(chan storage.Job, c.bufferSize),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if c.topics[topic] == nil {
		c.topics[topic] = make(map[string]*memorySub)
	}
	c.topics[topic][sub.id] = sub
	c.mu.Unlock()

	c.logger.Debug("subscribed", logger.String("topic", topic), logger.String("sub_id", sub.id))

	cleanup := func() { c.remove(topic, sub) }

	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-sub.done:
		}
	}()

	return sub.ch, cleanup, nil
}

// remove closes done first so a blocked Publish lets go of the read lock.
func (c *MemoryChannel) remove(topic string, sub *memorySub) {
	sub.once.Do(func() {
		close(sub.done)

		c.mu.Lock()
		if subs := c.topics[topic]; subs != nil {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(c.topics, topic)
			}
		}
		close(sub.ch)
		c.mu.Unlock()

		c.logger.Debug("unsubscribed", logger.String("topic", topic), logger.String("sub_id", sub.id))
	})
}

// Publish implements Publisher.
func (c *MemoryChannel) Publish(ctx context.Context, job storage.Job) error {
	topic := TopicFor(job)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	for _, sub := range c.topics[topic] {
		select {
		case sub.ch <- job:
		case <-sub.done:
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", job.ID, ctx.Err())
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions on a topic.
func (c *MemoryChannel) Subscribers(topic string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics[topic])
}

// Close ends every subscription.
func (c *MemoryChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var subs []struct {
		topic string
		sub   *memorySub
	}
	for topic, m := range c.topics {
		for _, s := range m {
			subs = append(subs, struct {
				topic string
				sub   *memorySub
			}{topic, s})
		}
	}
	c.mu.Unlock()

	for _, s := range subs {
		c.remove(s.topic, s.sub)
	}
}
