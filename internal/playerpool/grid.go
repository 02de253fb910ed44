package playerpool

import (
	"sort"
	"sync"
)

// Grid tracks the cards of one or more scrolling views against a shared pool.
type Grid struct {
	pool *Pool
	opts []CardOption

	mu    sync.Mutex
	cards map[string]*Card
}

// NewGrid creates a grid whose cards are built with opts.
func NewGrid(pool *Pool, opts ...CardOption) *Grid {
	return &Grid{pool: pool, opts: opts, cards: make(map[string]*Card)}
}

// Pool returns the shared pool.
func (g *Grid) Pool() *Pool {
	return g.pool
}

// SetVisibility updates a card, creating it on first sight.
func (g *Grid) SetVisibility(cardID string, ratio float64) State {
	g.mu.Lock()
	c, ok := g.cards[cardID]
	if !ok {
		c = NewCard(cardID, g.pool, g.opts...)
		g.cards[cardID] = c
	}
	g.mu.Unlock()
	return c.SetVisibility(ratio)
}

// Remove tears a card down and forgets it. It reports whether the card was
// known.
func (g *Grid) Remove(cardID string) bool {
	g.mu.Lock()
	c, ok := g.cards[cardID]
	delete(g.cards, cardID)
	g.mu.Unlock()
	if ok {
		c.Teardown()
	}
	return ok
}

// CardState is one card's entry in a grid snapshot.
type CardState struct {
	CardID string `json:"card_id"`
	State  State  `json:"state"`
}

// Snapshot lists every known card, sorted by id.
func (g *Grid) Snapshot() []CardState {
	g.mu.Lock()
	cards := make([]*Card, 0, len(g.cards))
	for _, c := range g.cards {
		cards = append(cards, c)
	}
	g.mu.Unlock()

	out := make([]CardState, 0, len(cards))
	for _, c := range cards {
		out = append(out, CardState{CardID: c.ID(), State: c.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out
}

// Close tears every card down.
func (g *Grid) Close() {
	g.mu.Lock()
	cards := g.cards
	g.cards = make(map[string]*Card)
	g.mu.Unlock()
	for _, c := range cards {
		c.Teardown()
	}
}
