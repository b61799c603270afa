package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/c360/slotbus/objects"
	"github.com/c360/slotbus/pkg/worker"
	"github.com/c360/slotbus/types"
)

const testTimeout = 5 * time.Second

// mockHooks scripts lifecycle hooks through testify/mock
type mockHooks struct {
	mock.Mock
}

func (m *mockHooks) Configuring(tree *types.ConfigTree) error {
	return m.Called(tree).Error(0)
}

func (m *mockHooks) Starting(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockHooks) Stopping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockHooks) Updating(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// allow accepts every hook call that no earlier expectation matched
func (m *mockHooks) allow() {
	m.On("Configuring", mock.Anything).Return(nil).Maybe()
	m.On("Starting", mock.Anything).Return(nil).Maybe()
	m.On("Stopping", mock.Anything).Return(nil).Maybe()
	m.On("Updating", mock.Anything).Return(nil).Maybe()
}

// swapHooks adds the Swapping hook to mockHooks
type swapHooks struct {
	mockHooks
}

func (m *swapHooks) Swapping(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// counter is a service that counts updates and remembers the worker they ran on
type counter struct {
	NopHooks
	*Base

	updates  atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration

	mu         sync.Mutex
	lastWorker *worker.Worker
}

func newCounter(t *testing.T, deps Dependencies, opts ...Option) *counter {
	c := &counter{}
	c.Base = NewBase(c, deps, opts...)
	cleanup(t, c.Base)
	return c
}

func (c *counter) Updating(ctx context.Context) error {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	c.lastWorker = worker.FromContext(ctx)
	c.mu.Unlock()
	c.updates.Add(1)
	return nil
}

func (c *counter) updatedOn() *worker.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWorker
}

func newDeps() Dependencies {
	return Dependencies{Objects: objects.NewRegistry(nil)}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// cleanup stops and destroys b when the test ends
func cleanup(t *testing.T, b *Base) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = b.Stop(ctx).Wait(ctx)
		_ = b.Destroy()
	})
}
