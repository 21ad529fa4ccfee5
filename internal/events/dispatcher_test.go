// Copyright (c) 2026 PageKeep Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagekeep/pagekeep/internal/testutil"
)

type collectingHandler struct {
	mu   sync.Mutex
	seen []Event
}

func (h *collectingHandler) Handle(_ context.Context, e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, e)
}

func (h *collectingHandler) events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.seen...)
}

func TestDispatcherDeliversToAllHandlers(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(), DefaultConfig())
	h1 := &collectingHandler{}
	h2 := &collectingHandler{}
	d.Register(h1)
	d.Register(h2)

	d.Start(context.Background())
	defer d.Stop()

	d.Publish(context.Background(), Event{Type: TypePageRename, FromPath: "/a", ToPath: "/b"})

	require.Eventually(t, func() bool {
		return len(h1.events()) == 1 && len(h2.events()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, TypePageRename, h1.events()[0].Type)
	assert.Equal(t, "/a", h2.events()[0].FromPath)
}

func TestDispatcherDeliversBurst(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(), Config{Workers: 1, QueueSize: 50})
	h := &collectingHandler{}
	d.Register(h)

	d.Start(context.Background())
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Publish(context.Background(), Event{Type: TypePageUpdate})
	}

	require.Eventually(t, func() bool {
		return len(h.events()) == 10
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherStampsEventTime(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(), DefaultConfig())
	h := &collectingHandler{}
	d.Register(h)

	d.Start(context.Background())
	defer d.Stop()

	d.Publish(context.Background(), Event{Type: TypePageCreate})

	require.Eventually(t, func() bool {
		return len(h.events()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.events()[0].At.IsZero())
}

func TestDispatcherDropsWhenNotRunning(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(), Config{Workers: 1, QueueSize: 1})
	h := &collectingHandler{}
	d.Register(h)

	// Publish must neither block nor deliver before Start.
	done := make(chan struct{})
	go func() {
		d.Publish(context.Background(), Event{Type: TypePageCreate})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stopped dispatcher")
	}
	assert.Empty(t, h.events())
}
