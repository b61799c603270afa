package dispatch

import (
	"sync"
	"sync/atomic"
)

// Connection links one signal to one slot and can be blocked individually.
type Connection struct {
	signal *Signal
	slot   *Slot

	mu      sync.Mutex
	blocked bool
	expired atomic.Bool
}

// Signal returns the emitting side
func (c *Connection) Signal() *Signal { return c.signal }

// Slot returns the receiving side
func (c *Connection) Slot() *Slot { return c.slot }

// Disconnect removes the connection. Safe to call more than once.
func (c *Connection) Disconnect() {
	if c.expired.Swap(true) {
		return
	}
	c.signal.remove(c)
	c.slot.untrack(c)
}

// Expired reports whether the connection was disconnected
func (c *Connection) Expired() bool {
	return c.expired.Load()
}

// Blocked reports whether emissions currently skip this connection
func (c *Connection) Blocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// Block sets the connection blocked until the returned Blocker is released.
//
//	b := conn.Block()
//	defer b.Release()
func (c *Connection) Block() *Blocker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := &Blocker{conn: c, prior: c.blocked}
	c.blocked = true
	return b
}

// WithBlocked runs fn with the connection blocked and restores the prior state on
// every exit path, panics included.
func (c *Connection) WithBlocked(fn func() error) error {
	b := c.Block()
	defer b.Release()
	return fn()
}

// Blocker is a scoped block on one connection.
type Blocker struct {
	conn  *Connection
	prior bool
	once  sync.Once
}

// Release restores the blocked state the connection had when the Blocker was
// created. Only the first call has an effect.
func (b *Blocker) Release() {
	b.once.Do(func() {
		b.conn.mu.Lock()
		b.conn.blocked = b.prior
		b.conn.mu.Unlock()
	})
}
