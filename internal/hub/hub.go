// Package hub implements the broadcast hub (C7): per-channel bounded
// queues with a dedicated consumer goroutine, drop-newest-on-full
// backpressure, and a global heartbeat. Grounded on
// original_source/backend/app/core/websocket.py's ConnectionManager.
package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ziggylab/internal/metrics"
)

const (
	defaultQueueCapacity  = 100
	defaultEnqueueTimeout = 50 * time.Millisecond
	defaultSendTimeout    = 2500 * time.Millisecond
	heartbeatInterval     = 25 * time.Second
	backpressureRatio     = 0.8
)

// Metrics is one channel's counter set, matching the source's
// subscribers/attempts/failures/dropped/latency tracking; pruned
// subscribers show up as a lower Subscribers count.
type Metrics struct {
	Subscribers         int64
	BroadcastsAttempted int64
	BroadcastsFailed    int64
	QueueDropped        int64
	QueueLen            int64
	LastLatencyMs       int64
}

type channelState struct {
	name  string
	queue chan json.RawMessage

	mu          sync.Mutex // protects subscribers only, per the data-model invariant
	subscribers map[string]Subscriber

	metrics Metrics

	consumerOnce sync.Once
	stopCh       chan struct{}
}

// Hub owns every channel exclusively; subscribers register and
// deregister only through Hub operations, per the ownership invariant.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*channelState

	subToChannel map[string]string

	log zerolog.Logger

	heartbeatOnce sync.Once
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		channels:     make(map[string]*channelState),
		subToChannel: make(map[string]string),
		log:          log,
		stopCh:       make(chan struct{}),
	}
}

func (h *Hub) getOrCreateChannel(name string) *channelState {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[name]
	if !ok {
		ch = &channelState{
			name:        name,
			queue:       make(chan json.RawMessage, defaultQueueCapacity),
			subscribers: make(map[string]Subscriber),
			stopCh:      make(chan struct{}),
		}
		h.channels[name] = ch
	}
	ch.consumerOnce.Do(func() {
		h.wg.Add(1)
		go h.consumeChannel(ch)
	})
	return ch
}

// Connect registers a subscriber under a channel, lazily creating the
// channel's queue/consumer and starting the global heartbeat if not
// already running. Idempotent for the same subscriber id.
func (h *Hub) Connect(sub Subscriber, channel string, metadata map[string]any) {
	ch := h.getOrCreateChannel(channel)

	ch.mu.Lock()
	ch.subscribers[sub.ID()] = sub
	atomic.StoreInt64(&ch.metrics.Subscribers, int64(len(ch.subscribers)))
	ch.mu.Unlock()

	h.mu.Lock()
	h.subToChannel[sub.ID()] = channel
	h.mu.Unlock()

	h.heartbeatOnce.Do(func() {
		h.wg.Add(1)
		go h.heartbeatLoop()
	})

	metrics.SetHubSubscribers(h.totalSubscribers())
	h.log.Info().Str("channel", channel).Str("subscriber", sub.ID()).Msg("subscriber connected")
}

// totalSubscribers sums the per-channel subscriber counts. Channel
// pointers are snapshotted under h.mu and released before reading each
// channel's own count, so this never holds h.mu and a channelState's mu
// at the same time.
func (h *Hub) totalSubscribers() int {
	h.mu.Lock()
	chans := make([]*channelState, 0, len(h.channels))
	for _, ch := range h.channels {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	var total int64
	for _, ch := range chans {
		total += atomic.LoadInt64(&ch.metrics.Subscribers)
	}
	return int(total)
}

// Disconnect removes a subscriber from its channel; idempotent.
func (h *Hub) Disconnect(subID string) {
	h.mu.Lock()
	channel, ok := h.subToChannel[subID]
	if ok {
		delete(h.subToChannel, subID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	ch, ok := h.channels[channel]
	h.mu.Unlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	delete(ch.subscribers, subID)
	atomic.StoreInt64(&ch.metrics.Subscribers, int64(len(ch.subscribers)))
	ch.mu.Unlock()

	metrics.SetHubSubscribers(h.totalSubscribers())
}

// BroadcastToType enqueues a payload for a channel with the short
// enqueue timeout; drop-newest-on-full is the policy, and every 100th
// drop logs a warning.
func (h *Hub) BroadcastToType(payload any, channel string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn().Err(err).Str("channel", channel).Msg("broadcast payload marshal failed")
		return
	}
	ch := h.getOrCreateChannel(channel)

	select {
	case ch.queue <- raw:
		atomic.StoreInt64(&ch.metrics.QueueLen, int64(len(ch.queue)))
		metrics.RecordBroadcast()
	case <-time.After(defaultEnqueueTimeout):
		dropped := atomic.AddInt64(&ch.metrics.QueueDropped, 1)
		metrics.RecordHubDrop("queue_full")
		if dropped%100 == 0 {
			h.log.Warn().Str("channel", channel).Int64("dropped_total", dropped).Msg("broadcast queue drops")
		}
	}
}

// GetQueueUtilization returns (size, capacity, ratio) for a channel,
// non-blocking; producers use it to apply upstream backpressure.
func (h *Hub) GetQueueUtilization(channel string) (size, capacity int, ratio float64) {
	ch := h.getOrCreateChannel(channel)
	size = len(ch.queue)
	capacity = cap(ch.queue)
	if capacity > 0 {
		ratio = float64(size) / float64(capacity)
	}
	return size, capacity, ratio
}

// ShouldSkipTick reports the producer backpressure contract: true when a
// channel's queue ratio has reached the backpressure threshold.
func (h *Hub) ShouldSkipTick(channel string) bool {
	_, _, ratio := h.GetQueueUtilization(channel)
	return ratio >= backpressureRatio
}

// SendPersonal sends directly to one subscriber with the per-send
// timeout; on failure it disconnects the subscriber.
func (h *Hub) SendPersonal(sub Subscriber, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := sub.Send(raw, defaultSendTimeout); err != nil {
		h.Disconnect(sub.ID())
		return err
	}
	return nil
}

// Metrics returns a snapshot of one channel's counters.
func (h *Hub) Metrics(channel string) Metrics {
	ch := h.getOrCreateChannel(channel)
	return Metrics{
		Subscribers:         atomic.LoadInt64(&ch.metrics.Subscribers),
		BroadcastsAttempted: atomic.LoadInt64(&ch.metrics.BroadcastsAttempted),
		BroadcastsFailed:    atomic.LoadInt64(&ch.metrics.BroadcastsFailed),
		QueueDropped:        atomic.LoadInt64(&ch.metrics.QueueDropped),
		QueueLen:            atomic.LoadInt64(&ch.metrics.QueueLen),
		LastLatencyMs:       atomic.LoadInt64(&ch.metrics.LastLatencyMs),
	}
}

// consumeChannel is the dedicated per-channel consumer: await payload,
// snapshot subscribers, dispatch sends concurrently, prune failures.
func (h *Hub) consumeChannel(ch *channelState) {
	defer h.wg.Done()
	for {
		select {
		case <-h.stopCh:
			return
		case payload := <-ch.queue:
			start := time.Now()

			ch.mu.Lock()
			snapshot := make([]Subscriber, 0, len(ch.subscribers))
			for _, s := range ch.subscribers {
				snapshot = append(snapshot, s)
			}
			ch.mu.Unlock()

			atomic.AddInt64(&ch.metrics.BroadcastsAttempted, 1)
			before := len(snapshot)

			failed := h.dispatch(snapshot, payload, defaultSendTimeout)

			if len(failed) > 0 {
				atomic.AddInt64(&ch.metrics.BroadcastsFailed, int64(len(failed)))
				ch.mu.Lock()
				for _, id := range failed {
					delete(ch.subscribers, id)
				}
				after := len(ch.subscribers)
				atomic.StoreInt64(&ch.metrics.Subscribers, int64(after))
				ch.mu.Unlock()
				metrics.SetHubSubscribers(h.totalSubscribers())
				h.log.Warn().Str("channel", ch.name).Int("failed", len(failed)).
					Int("count_before", before).Int("count_after", after).
					Msg("broadcast send failures")
			}

			atomic.StoreInt64(&ch.metrics.LastLatencyMs, time.Since(start).Milliseconds())
			atomic.StoreInt64(&ch.metrics.QueueLen, int64(len(ch.queue)))
		}
	}
}

// dispatch sends payload to every subscriber concurrently and returns
// the ids that failed or timed out.
func (h *Hub) dispatch(subs []Subscriber, payload json.RawMessage, timeout time.Duration) []string {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []string

	for _, s := range subs {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			if err := s.Send(payload, timeout); err != nil {
				mu.Lock()
				failed = append(failed, s.ID())
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return failed
}

// heartbeatLoop is the single global heartbeat task: every 25s, ping
// every subscriber of every channel and prune failures.
func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.runHeartbeat()
		}
	}
}

func (h *Hub) runHeartbeat() {
	h.mu.Lock()
	channels := make([]*channelState, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	ping, _ := json.Marshal(map[string]any{"type": "ping", "ts": time.Now().Unix()})

	for _, ch := range channels {
		ch.mu.Lock()
		snapshot := make([]Subscriber, 0, len(ch.subscribers))
		for _, s := range ch.subscribers {
			snapshot = append(snapshot, s)
		}
		ch.mu.Unlock()
		if len(snapshot) == 0 {
			continue
		}
		before := len(snapshot)

		failed := h.dispatch(snapshot, ping, defaultSendTimeout)
		if len(failed) == 0 {
			continue
		}

		ch.mu.Lock()
		for _, id := range failed {
			delete(ch.subscribers, id)
		}
		after := len(ch.subscribers)
		atomic.StoreInt64(&ch.metrics.Subscribers, int64(after))
		ch.mu.Unlock()
		metrics.SetHubSubscribers(h.totalSubscribers())

		h.log.Warn().Str("channel", ch.name).Int("failed", len(failed)).
			Int("count_before", before).Int("count_after", after).
			Msg("heartbeat pruned sockets")
	}
}

// Stop cancels the heartbeat and every channel consumer, and awaits
// their completion.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}
