package app

import (
	"sync"
	"time"

	agentports "oape/internal/agent/ports"
	"oape/internal/logging"
	"oape/internal/server/ports"
)

const (
	// clientBufferSize bounds each subscriber channel. Slow clients drop
	// non-critical events instead of blocking the agent loop.
	clientBufferSize = 100

	// maxEventHistory caps the replay buffer per job. A job is bounded by
	// its iteration ceiling well below this.
	maxEventHistory = 1000
)

// EventBroadcaster fans job events out to subscribed stream clients. It
// assigns the per-job sequence numbers, keeps a replay buffer so late
// subscribers see the full conversation, and guarantees terminal events are
// delivered even to saturated clients.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[string][]chan agentports.JobEvent
	history map[string][]agentports.JobEvent
	nextSeq map[string]int
	logger  logging.Logger

	metrics broadcasterMetrics
}

type broadcasterMetrics struct {
	mu                sync.Mutex
	totalEventsSent   int64
	droppedEvents     int64
	totalConnections  int64
	activeConnections int64
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[string][]chan agentports.JobEvent),
		history: make(map[string][]agentports.JobEvent),
		nextSeq: make(map[string]int),
		logger:  logging.NewComponentLogger("broadcaster"),
	}
}

// Publish stamps the event with the next sequence number for its job, stores
// it for replay and delivers it to current subscribers. Events for one job
// must be published from a single goroutine (the owning loop) so stream order
// matches history order.
func (b *EventBroadcaster) Publish(event agentports.JobEvent) {
	b.mu.Lock()

	event.Seq = b.nextSeq[event.JobID]
	b.nextSeq[event.JobID]++
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	history := append(b.history[event.JobID], event)
	if len(history) > maxEventHistory {
		history = history[len(history)-maxEventHistory:]
	}
	b.history[event.JobID] = history

	subscribers := b.clients[event.JobID]
	for i, ch := range subscribers {
		b.deliver(event, ch, i, len(subscribers))
	}
	b.mu.Unlock()
}

// OnEvent implements agentports.EventListener.
func (b *EventBroadcaster) OnEvent(event agentports.JobEvent) {
	b.Publish(event)
}

// deliver sends to one subscriber, dropping the oldest buffered event when
// necessary to make room for a terminal event. Called with b.mu held.
func (b *EventBroadcaster) deliver(event agentports.JobEvent, ch chan agentports.JobEvent, idx, total int) {
	select {
	case ch <- event:
		b.metrics.incrementEventsSent()
		return
	default:
	}

	if !event.Terminal() {
		b.logger.Warn("client buffer full for job %s, dropping event seq=%d (client %d/%d)",
			event.JobID, event.Seq, idx+1, total)
		b.metrics.incrementDroppedEvents()
		return
	}

	// Terminal events must land. Drop the oldest event to make room.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- event:
		b.logger.Warn("client buffer saturated for job %s; dropped oldest to deliver terminal event (client %d/%d)",
			event.JobID, idx+1, total)
		b.metrics.incrementEventsSent()
	default:
		b.logger.Warn("failed to deliver terminal event for job %s (client %d/%d)", event.JobID, idx+1, total)
		b.metrics.incrementDroppedEvents()
	}
}

// Subscribe registers a new client for a job. The returned replay slice and
// the live channel are gap-free: replay holds everything published before the
// subscription, the channel receives everything after. Call cancel when done.
func (b *EventBroadcaster) Subscribe(jobID string) (replay []agentports.JobEvent, events <-chan agentports.JobEvent, cancel func()) {
	ch := make(chan agentports.JobEvent, clientBufferSize)

	b.mu.Lock()
	if history := b.history[jobID]; len(history) > 0 {
		replay = make([]agentports.JobEvent, len(history))
		copy(replay, history)
	}
	b.clients[jobID] = append(b.clients[jobID], ch)
	b.metrics.incrementConnections()
	b.mu.Unlock()

	b.logger.Info("client subscribed to job %s (replay=%d events)", jobID, len(replay))
	return replay, ch, func() { b.unsubscribe(jobID, ch) }
}

func (b *EventBroadcaster) unsubscribe(jobID string, ch chan agentports.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers := b.clients[jobID]
	for i, client := range subscribers {
		if client == ch {
			b.clients[jobID] = append(subscribers[:i], subscribers[i+1:]...)
			close(ch)
			b.metrics.decrementConnections()
			break
		}
	}
	if len(b.clients[jobID]) == 0 {
		delete(b.clients, jobID)
	}
}

// DropJob publishes a terminal expiry event and then forgets the job's
// replay buffer and sequence counter. Used when a terminal job is evicted
// from retention.
func (b *EventBroadcaster) DropJob(jobID string) {
	b.Publish(agentports.JobEvent{
		JobID:  jobID,
		Type:   agentports.EventStatus,
		Status: ports.StatusExpired,
	})

	b.mu.Lock()
	delete(b.history, jobID)
	delete(b.nextSeq, jobID)
	b.mu.Unlock()
}

// SubscriberCount returns the number of clients subscribed to a job.
func (b *EventBroadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients[jobID])
}

// Metrics is a point-in-time snapshot of broadcaster counters.
type Metrics struct {
	TotalEventsSent   int64 `json:"total_events_sent"`
	DroppedEvents     int64 `json:"dropped_events"`
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	JobsWithClients   int   `json:"jobs_with_clients"`
}

// GetMetrics returns current broadcaster counters.
func (b *EventBroadcaster) GetMetrics() Metrics {
	b.metrics.mu.Lock()
	m := Metrics{
		TotalEventsSent:   b.metrics.totalEventsSent,
		DroppedEvents:     b.metrics.droppedEvents,
		TotalConnections:  b.metrics.totalConnections,
		ActiveConnections: b.metrics.activeConnections,
	}
	b.metrics.mu.Unlock()

	b.mu.Lock()
	m.JobsWithClients = len(b.clients)
	b.mu.Unlock()
	return m
}

func (m *broadcasterMetrics) incrementEventsSent() {
	m.mu.Lock()
	m.totalEventsSent++
	m.mu.Unlock()
}

func (m *broadcasterMetrics) incrementDroppedEvents() {
	m.mu.Lock()
	m.droppedEvents++
	m.mu.Unlock()
}

func (m *broadcasterMetrics) incrementConnections() {
	m.mu.Lock()
	m.totalConnections++
	m.activeConnections++
	m.mu.Unlock()
}

func (m *broadcasterMetrics) decrementConnections() {
	m.mu.Lock()
	m.activeConnections--
	m.mu.Unlock()
}
