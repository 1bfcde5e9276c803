package brokerService

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tanmay-xvx/meshbus/internals/heartbeat"
)

// evictionLogSize bounds how many evictions Stats reports.
const evictionLogSize = 50

// Eviction records a client removed by a heartbeat monitor.
type Eviction struct {
	Role string    `json:"role"`
	User string    `json:"user"`
	At   time.Time `json:"at"`
}

// SendPubHeartbeat records that user is alive on this broker.
func (b *Broker) SendPubHeartbeat(ctx context.Context, user string) error {
	b.pubHeartbeats.Beat(user, b.clock())
	return nil
}

// SendSubHeartbeat records that user is alive on this broker.
func (b *Broker) SendSubHeartbeat(ctx context.Context, user string) error {
	b.subHeartbeats.Beat(user, b.clock())
	return nil
}

// RunMonitors runs the publisher and subscriber heartbeat monitors until ctx
// is cancelled.
func (b *Broker) RunMonitors(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.pubMonitor.Run(gctx) })
	g.Go(func() error { return b.subMonitor.Run(gctx) })
	return g.Wait()
}

// CheckHeartbeats runs one scan of both monitors and returns the evicted
// publishers and subscribers.
func (b *Broker) CheckHeartbeats(ctx context.Context) (publishers, subscribers []string) {
	return b.pubMonitor.Check(ctx), b.subMonitor.Check(ctx)
}

// evictPublisher disconnects user unless it beat again after the monitor's
// scan. The expiry check and the disconnect happen under mu.
func (b *Broker) evictPublisher(ctx context.Context, user string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.pubHeartbeats.IsExpired(user, b.clock(), b.pubMonitor.Timeout()) {
		return heartbeat.ErrNotExpired
	}
	if err := b.pubDisconnectLocked(ctx, user); err != nil {
		return err
	}
	b.metrics.IncEvictedPublishers()
	b.evictions.Push(Eviction{Role: "publisher", User: user, At: b.clock()})
	return nil
}

func (b *Broker) evictSubscriber(ctx context.Context, user string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subHeartbeats.IsExpired(user, b.clock(), b.subMonitor.Timeout()) {
		return heartbeat.ErrNotExpired
	}
	if err := b.subDisconnectLocked(ctx, user); err != nil {
		return err
	}
	b.metrics.IncEvictedSubscribers()
	b.evictions.Push(Eviction{Role: "subscriber", User: user, At: b.clock()})
	return nil
}

// Stats reports the broker's counters and local state.
func (b *Broker) Stats() map[string]interface{} {
	b.subsMu.RLock()
	subscribers := len(b.localSubscribers)
	b.subsMu.RUnlock()

	b.mu.Lock()
	publishers := len(b.ownedTopics)
	b.mu.Unlock()

	return map[string]interface{}{
		"broker_id":           b.ID(),
		"peers":               len(b.Peers()),
		"local_subscribers":   subscribers,
		"owning_publishers":   publishers,
		"tracked_publishers":  b.pubHeartbeats.Len(),
		"tracked_subscribers": b.subHeartbeats.Len(),
		"recent_evictions":    b.evictions.All(),
		"metrics":             b.metrics.Snapshot(),
	}
}
