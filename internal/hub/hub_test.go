package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	fail     bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(payload []byte, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.received = append(f.received, payload)
	return nil
}

func (f *fakeSubscriber) Close() error { return nil }

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func TestConnectBroadcast_SubscriberReceivesPayload(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	sub := &fakeSubscriber{id: "s1"}
	h.Connect(sub, "market_data", nil)

	h.BroadcastToType(map[string]string{"hello": "world"}, "market_data")

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDisconnect_IsIdempotentAndStopsDelivery(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	sub := &fakeSubscriber{id: "s1"}
	h.Connect(sub, "portfolio", nil)
	h.Disconnect(sub.ID())
	h.Disconnect(sub.ID()) // idempotent

	h.BroadcastToType(map[string]string{"x": "y"}, "portfolio")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sub.count())
}

func TestBroadcast_FailedSendPrunesSubscriber(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	sub := &fakeSubscriber{id: "bad", fail: true}
	h.Connect(sub, "news", nil)

	h.BroadcastToType(map[string]string{"a": "b"}, "news")

	require.Eventually(t, func() bool {
		m := h.Metrics("news")
		return m.BroadcastsFailed == 1 && m.Subscribers == 0
	}, time.Second, 5*time.Millisecond)
}

func TestGetQueueUtilization_ReflectsFillRatio(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	size, capacity, ratio := h.GetQueueUtilization("charts")
	assert.Equal(t, 0, size)
	assert.Equal(t, defaultQueueCapacity, capacity)
	assert.Equal(t, 0.0, ratio)
}

func TestSendPersonal_DisconnectsOnFailure(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	sub := &fakeSubscriber{id: "p1", fail: true}
	h.Connect(sub, "trading_signals", nil)

	err := h.SendPersonal(sub, map[string]string{"x": "1"})
	assert.Error(t, err)

	h.mu.Lock()
	_, stillTracked := h.subToChannel[sub.ID()]
	h.mu.Unlock()
	assert.False(t, stillTracked)
}
