// Package metrics provides counters for broker and directory activity.
package metrics

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Metrics tracks activity counters for one process.
type Metrics struct {
	// Global counters
	topicsCreated      uint64
	topicsDeleted      uint64
	published          uint64
	delivered          uint64
	deliveryFailed     uint64
	federatedSent      uint64
	federatedFailed    uint64
	evictedPublishers  uint64
	evictedSubscribers uint64
	brokersRegistered  uint64

	// Per-topic metrics
	mu     sync.RWMutex
	topics map[int]*TopicMetrics
}

// TopicMetrics tracks metrics for a specific topic.
type TopicMetrics struct {
	ID        int
	Published uint64
	Delivered uint64
	Failed    uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		topics: make(map[int]*TopicMetrics),
	}
}

func (m *Metrics) topic(id int) *TopicMetrics {
	tm := m.topics[id]
	if tm == nil {
		tm = &TopicMetrics{ID: id}
		m.topics[id] = tm
	}
	return tm
}

// IncPublished counts a publication accepted for a topic.
func (m *Metrics) IncPublished(id int) {
	atomic.AddUint64(&m.published, 1)

	m.mu.Lock()
	m.topic(id).Published++
	m.mu.Unlock()
}

// IncDelivered counts n local deliveries for a topic.
func (m *Metrics) IncDelivered(id int, n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&m.delivered, uint64(n))

	m.mu.Lock()
	m.topic(id).Delivered += uint64(n)
	m.mu.Unlock()
}

// IncDeliveryFailed counts n local deliveries that could not be handed to a callback.
func (m *Metrics) IncDeliveryFailed(id int, n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&m.deliveryFailed, uint64(n))

	m.mu.Lock()
	m.topic(id).Failed += uint64(n)
	m.mu.Unlock()
}

// IncTopicsCreated counts a topic created through this process.
func (m *Metrics) IncTopicsCreated() {
	atomic.AddUint64(&m.topicsCreated, 1)
}

// IncTopicsDeleted counts a topic deleted through this process.
func (m *Metrics) IncTopicsDeleted() {
	atomic.AddUint64(&m.topicsDeleted, 1)
}

// IncFederated counts a forwarded message and whether the peer accepted it.
func (m *Metrics) IncFederated(ok bool) {
	if ok {
		atomic.AddUint64(&m.federatedSent, 1)
	} else {
		atomic.AddUint64(&m.federatedFailed, 1)
	}
}

// IncEvictedPublishers counts a publisher removed by the heartbeat monitor.
func (m *Metrics) IncEvictedPublishers() {
	atomic.AddUint64(&m.evictedPublishers, 1)
}

// IncEvictedSubscribers counts a subscriber removed by the heartbeat monitor.
func (m *Metrics) IncEvictedSubscribers() {
	atomic.AddUint64(&m.evictedSubscribers, 1)
}

// IncBrokersRegistered counts a broker registration at the directory.
func (m *Metrics) IncBrokersRegistered() {
	atomic.AddUint64(&m.brokersRegistered, 1)
}

// RemoveTopic removes metrics for a specific topic.
func (m *Metrics) RemoveTopic(id int) {
	m.mu.Lock()
	delete(m.topics, id)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current metrics suitable for JSON serialization.
func (m *Metrics) Snapshot() map[string]interface{} {
	snapshot := make(map[string]interface{})

	snapshot["global"] = map[string]interface{}{
		"topics_created":      atomic.LoadUint64(&m.topicsCreated),
		"topics_deleted":      atomic.LoadUint64(&m.topicsDeleted),
		"published":           atomic.LoadUint64(&m.published),
		"delivered":           atomic.LoadUint64(&m.delivered),
		"delivery_failed":     atomic.LoadUint64(&m.deliveryFailed),
		"federated_sent":      atomic.LoadUint64(&m.federatedSent),
		"federated_failed":    atomic.LoadUint64(&m.federatedFailed),
		"evicted_publishers":  atomic.LoadUint64(&m.evictedPublishers),
		"evicted_subscribers": atomic.LoadUint64(&m.evictedSubscribers),
		"brokers_registered":  atomic.LoadUint64(&m.brokersRegistered),
	}

	// JSON object keys must be strings
	m.mu.RLock()
	topics := make(map[string]map[string]interface{}, len(m.topics))
	for id, tm := range m.topics {
		topics[strconv.Itoa(id)] = map[string]interface{}{
			"published": tm.Published,
			"delivered": tm.Delivered,
			"failed":    tm.Failed,
		}
	}
	m.mu.RUnlock()

	snapshot["topics"] = topics
	return snapshot
}

// GetTopicMetrics returns a copy of the metrics for a topic, or nil.
func (m *Metrics) GetTopicMetrics(id int) *TopicMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if tm, exists := m.topics[id]; exists {
		c := *tm
		return &c
	}
	return nil
}

// Federated returns the number of successful and failed peer forwards.
func (m *Metrics) Federated() (sent, failed uint64) {
	return atomic.LoadUint64(&m.federatedSent), atomic.LoadUint64(&m.federatedFailed)
}

// Evicted returns the number of publishers and subscribers evicted.
func (m *Metrics) Evicted() (publishers, subscribers uint64) {
	return atomic.LoadUint64(&m.evictedPublishers), atomic.LoadUint64(&m.evictedSubscribers)
}

// Reset resets all metrics to zero.
func (m *Metrics) Reset() {
	for _, c := range []*uint64{
		&m.topicsCreated, &m.topicsDeleted, &m.published, &m.delivered, &m.deliveryFailed,
		&m.federatedSent, &m.federatedFailed, &m.evictedPublishers, &m.evictedSubscribers,
		&m.brokersRegistered,
	} {
		atomic.StoreUint64(c, 0)
	}

	m.mu.Lock()
	m.topics = make(map[int]*TopicMetrics)
	m.mu.Unlock()
}
