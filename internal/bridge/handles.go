package bridge

import (
	"sync"

	"github.com/chaz8081/estim-connector/internal/connector"
)

// handleTable hands out opaque tokens for live connectors. Token 0 is never
// issued so callers can use it as "no connector".
type handleTable struct {
	mu    sync.Mutex
	next  uint64
	items map[uint64]*connector.Connector
}

func newHandleTable() *handleTable {
	return &handleTable{next: 1, items: make(map[uint64]*connector.Connector)}
}

func (t *handleTable) put(c *connector.Connector) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.items[h] = c
	return h
}

func (t *handleTable) get(h uint64) (*connector.Connector, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.items[h]
	return c, ok
}

func (t *handleTable) remove(h uint64) (*connector.Connector, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.items[h]
	delete(t.items, h)
	return c, ok
}
