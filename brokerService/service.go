package brokerService

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/config"
	"github.com/tanmay-xvx/meshbus/internals/heartbeat"
	"github.com/tanmay-xvx/meshbus/internals/logging"
	"github.com/tanmay-xvx/meshbus/internals/metrics"
	"github.com/tanmay-xvx/meshbus/internals/registry"
	"github.com/tanmay-xvx/meshbus/internals/ringbuffer"
	"github.com/tanmay-xvx/meshbus/internals/topic"
)

// Broker implements PublisherOps, SubscriberOps and PeerOps for one broker process.
type Broker struct {
	registry registry.TopicRegistry
	cfg      *config.Config
	metrics  *metrics.Metrics
	log      logging.Logger
	dial     PeerDialer
	now      func() time.Time

	// mu serialises every operation that mutates topics, subscriptions or
	// ownership, including evictions by the heartbeat monitors.
	mu          sync.Mutex
	ownedTopics map[string]map[int]struct{}

	// subsMu guards the callbacks only, so peers delivering into this
	// broker never wait on mu.
	subsMu           sync.RWMutex
	localSubscribers map[string]Callback

	peersMu sync.RWMutex
	peers   map[string]PeerOps
	id      int
	self    string

	pubHeartbeats *heartbeat.Table
	subHeartbeats *heartbeat.Table
	pubMonitor    *heartbeat.Monitor
	subMonitor    *heartbeat.Monitor

	evictions *ringbuffer.RingBuffer[Eviction]
}

var (
	_ PublisherOps  = (*Broker)(nil)
	_ SubscriberOps = (*Broker)(nil)
	_ PeerOps       = (*Broker)(nil)
)

// NewBroker creates a broker backed by the shared topic registry.
// dial is used to reach peer brokers.
func NewBroker(reg registry.TopicRegistry, dial PeerDialer, cfg *config.Config, m *metrics.Metrics, log logging.Logger) *Broker {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	if log == nil {
		log = logging.NewNop()
	}

	b := &Broker{
		registry:         reg,
		cfg:              cfg,
		metrics:          m,
		log:              log.WithField("component", "broker"),
		dial:             dial,
		now:              time.Now,
		ownedTopics:      make(map[string]map[int]struct{}),
		localSubscribers: make(map[string]Callback),
		peers:            make(map[string]PeerOps),
		pubHeartbeats:    heartbeat.NewTable(),
		subHeartbeats:    heartbeat.NewTable(),
		evictions:        ringbuffer.NewRingBuffer[Eviction](evictionLogSize),
	}

	b.pubMonitor = heartbeat.NewMonitor("publisher", b.pubHeartbeats, cfg.HeartbeatInterval, cfg.HeartbeatTimeout,
		b.clock, b.evictPublisher, b.log)
	b.subMonitor = heartbeat.NewMonitor("subscriber", b.subHeartbeats, cfg.HeartbeatInterval, cfg.HeartbeatTimeout,
		b.clock, b.evictSubscriber, b.log)
	return b
}

// SetClock replaces the broker's time source. Call it before RunMonitors.
func (b *Broker) SetClock(now func() time.Time) {
	b.now = now
}

func (b *Broker) clock() time.Time {
	return b.now()
}

// ID returns the id assigned by the directory, or 0 before Join.
func (b *Broker) ID() int {
	b.peersMu.RLock()
	defer b.peersMu.RUnlock()
	return b.id
}

// Create registers a new topic owned by user on this broker.
func (b *Broker) Create(ctx context.Context, id int, name, user string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	duplicate := buserr.New(buserr.ErrDuplicateTopic, "Topic ID already exists. Please choose a new ID")

	if _, err := b.registry.GetTopic(ctx, id); err == nil {
		return "", duplicate
	} else if !errors.Is(err, registry.ErrTopicNotFound) {
		return "", b.registryErr(err)
	}

	// the registry re-checks, a concurrent create on another broker may have won
	if err := b.registry.AddTopic(ctx, *topic.NewTopic(id, name, user)); err != nil {
		if errors.Is(err, registry.ErrTopicAlreadyExists) {
			return "", duplicate
		}
		return "", b.registryErr(err)
	}

	if b.ownedTopics[user] == nil {
		b.ownedTopics[user] = make(map[int]struct{})
	}
	b.ownedTopics[user][id] = struct{}{}
	b.metrics.IncTopicsCreated()

	b.log.WithFields(map[string]interface{}{"user": user, "topic_id": id}).Info("Topic created")
	return fmt.Sprintf("SUCCESS: Topic %d created.", id), nil
}

// Publish delivers message to every subscriber of the topic, on this broker
// and on every peer.
func (b *Broker) Publish(ctx context.Context, id int, message, user string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.registry.GetTopic(ctx, id)
	if errors.Is(err, registry.ErrTopicNotFound) {
		return "", buserr.New(buserr.ErrUnknownTopic, "Topic with id %d does not exist.", id)
	}
	if err != nil {
		return "", b.registryErr(err)
	}

	if !b.ownsLocked(user, id) {
		return "", buserr.New(buserr.ErrNotOwner, "Topic id %d not found in publisher's topic list.", id)
	}

	text := fmt.Sprintf("%d:%s: %s", id, t.Name, message)
	if _, err := b.deliverLocally(ctx, id, text); err != nil {
		return "", b.registryErr(err)
	}
	b.federationBroadcast(ctx, id, text)
	b.metrics.IncPublished(id)

	return fmt.Sprintf("SUCCESS: Message published for topic %d.", id), nil
}

// Show lists the topics user owns on this broker with their subscriber counts.
func (b *Broker) Show(ctx context.Context, user string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.ownedIDsLocked(user)
	if len(ids) == 0 {
		return fmt.Sprintf("Topic list for %s is currently empty. Please create a new topic.", user), nil
	}

	var sb strings.Builder
	sb.WriteString("Current published topics (Topic ID: Topic Name: Subscriber count) :")
	for _, id := range ids {
		t, err := b.registry.GetTopic(ctx, id)
		if errors.Is(err, registry.ErrTopicNotFound) {
			continue
		}
		if err != nil {
			return "", b.registryErr(err)
		}
		fmt.Fprintf(&sb, "\n%d : %s : %d", t.ID, t.Name, t.Subscribers)
	}
	return sb.String(), nil
}

// Delete removes a topic user owns on this broker. Subscribers everywhere
// are told before the topic disappears from the registry.
func (b *Broker) Delete(ctx context.Context, id int, user string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ownedTopics[user]) == 0 {
		return "", buserr.New(buserr.ErrNoSuchOwnership, "Topic list is empty.")
	}

	t, err := b.registry.GetTopic(ctx, id)
	if errors.Is(err, registry.ErrTopicNotFound) {
		return "", buserr.New(buserr.ErrUnknownTopic, "Topic with id %d does not exist.", id)
	}
	if err != nil {
		return "", b.registryErr(err)
	}

	if !b.ownsLocked(user, id) {
		return "", buserr.New(buserr.ErrNotOwner, "Topic id %d not found in publisher list.", id)
	}

	notice := fmt.Sprintf("%d:%s: Topic %d has been deleted and removed from your subscription list.", id, t.Name, id)
	if err := b.removeTopicLocked(ctx, user, id, notice); err != nil {
		return "", b.registryErr(err)
	}

	b.log.WithFields(map[string]interface{}{"user": user, "topic_id": id}).Info("Topic deleted")
	return fmt.Sprintf("Topic id %d successfully deleted.", id), nil
}

// PubDisconnect deletes every topic user owns on this broker, notifying
// subscribers first, and forgets the publisher. Safe to call more than once.
func (b *Broker) PubDisconnect(ctx context.Context, user string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pubDisconnectLocked(ctx, user)
}

func (b *Broker) pubDisconnectLocked(ctx context.Context, user string) error {
	b.pubHeartbeats.Remove(user)

	ids := b.ownedIDsLocked(user)
	if len(ids) == 0 {
		delete(b.ownedTopics, user)
		b.log.Debugf("No topics found for publisher %s, nothing to delete", user)
		return nil
	}

	var errs []error
	for _, id := range ids {
		notice := fmt.Sprintf("Publisher %s has disconnected. Topic %d is no longer available and has been removed from your subscription list.", user, id)
		if err := b.removeTopicLocked(ctx, user, id, notice); err != nil {
			errs = append(errs, b.registryErr(err))
		}
	}
	delete(b.ownedTopics, user)

	b.log.WithField("user", user).Info("Publisher disconnected and all their topics have been removed")
	return errors.Join(errs...)
}

// List returns every topic in the registry.
func (b *Broker) List(ctx context.Context) (string, error) {
	topics, err := b.registry.ListAllTopics(ctx)
	if err != nil {
		return "", b.registryErr(err)
	}
	if len(topics) == 0 {
		return "No topics available.", nil
	}

	var sb strings.Builder
	sb.WriteString("List of topics available (Topic ID : Topic Name : Publisher) :")
	for _, t := range topics {
		fmt.Fprintf(&sb, "\n%d : %s : %s", t.ID, t.Name, t.Owner)
	}
	return sb.String(), nil
}

// Sub subscribes user to a topic and stores cb as the user's callback on this broker.
func (b *Broker) Sub(ctx context.Context, id int, cb Callback, user string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	unknown := buserr.New(buserr.ErrUnknownTopic, "Topic does not exist.")
	already := buserr.New(buserr.ErrAlreadySubscribed, "Already subscribed to topic %d.", id)

	if _, err := b.registry.GetTopic(ctx, id); errors.Is(err, registry.ErrTopicNotFound) {
		return "", unknown
	} else if err != nil {
		return "", b.registryErr(err)
	}

	ids, err := b.registry.GetSubscriptionsOf(ctx, user)
	if err != nil {
		return "", b.registryErr(err)
	}
	if containsID(ids, id) {
		return "", already
	}

	if err := b.registry.AddSubscriber(ctx, id, user); err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadySubscribed):
			return "", already
		case errors.Is(err, registry.ErrTopicNotFound):
			return "", unknown
		}
		return "", b.registryErr(err)
	}

	b.subsMu.Lock()
	b.localSubscribers[user] = cb
	b.subsMu.Unlock()

	b.log.WithFields(map[string]interface{}{"user": user, "topic_id": id}).Info("Subscribed")
	return fmt.Sprintf("SUCCESS: Successfully subscribed to topic %d.", id), nil
}

// Current lists the topics user is subscribed to.
func (b *Broker) Current(ctx context.Context, user string) (string, error) {
	ids, err := b.registry.GetSubscriptionsOf(ctx, user)
	if err != nil {
		return "", b.registryErr(err)
	}

	var lines []string
	for _, id := range ids {
		t, err := b.registry.GetTopic(ctx, id)
		if errors.Is(err, registry.ErrTopicNotFound) {
			continue
		}
		if err != nil {
			return "", b.registryErr(err)
		}
		lines = append(lines, fmt.Sprintf("%d : %s : %s", t.ID, t.Name, t.Owner))
	}
	if len(lines) == 0 {
		return "No current subscription(s), previously subscribed topics may have been deleted.", nil
	}
	return "Current subscriptions (Topic ID : Topic Name : Publisher) :\n" + strings.Join(lines, "\n"), nil
}

// Unsub removes user's subscription to a topic. The callback is dropped
// once the user has no subscriptions left.
func (b *Broker) Unsub(ctx context.Context, id int, user string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids, err := b.registry.GetSubscriptionsOf(ctx, user)
	if err != nil {
		return "", b.registryErr(err)
	}
	if len(ids) == 0 {
		return "", buserr.New(buserr.ErrNotSubscribed, "No existing subscription to unsubscribe from.")
	}
	if !containsID(ids, id) {
		return "", buserr.New(buserr.ErrNotSubscribed, "No existing subscription to topic %d / Topic has been deleted.", id)
	}

	if err := b.registry.RemoveSubscriber(ctx, id, user); err != nil {
		return "", b.registryErr(err)
	}

	if len(ids) == 1 {
		b.subsMu.Lock()
		delete(b.localSubscribers, user)
		b.subsMu.Unlock()
	}

	b.log.WithFields(map[string]interface{}{"user": user, "topic_id": id}).Info("Unsubscribed")
	return fmt.Sprintf("SUCCESS: Successfully unsubscribed from topic %d.", id), nil
}

// SubDisconnect removes every subscription of user and forgets its callback.
// Safe to call more than once.
func (b *Broker) SubDisconnect(ctx context.Context, user string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subDisconnectLocked(ctx, user)
}

func (b *Broker) subDisconnectLocked(ctx context.Context, user string) error {
	b.subHeartbeats.Remove(user)
	b.subsMu.Lock()
	delete(b.localSubscribers, user)
	b.subsMu.Unlock()

	if err := b.registry.DisconnectSubscriber(ctx, user); err != nil {
		return b.registryErr(err)
	}

	b.log.WithField("user", user).Info("Subscriber disconnected")
	return nil
}

// DetachCallback forgets cb if it is still the callback stored for user.
// Registry subscriptions are untouched; the heartbeat monitor reclaims them
// if the user does not come back.
func (b *Broker) DetachCallback(user string, cb Callback) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	if cur, ok := b.localSubscribers[user]; ok && cur == cb {
		delete(b.localSubscribers, user)
	}
}

// removeTopicLocked notifies subscribers, then deletes the topic from the
// registry and from user's ownership. Caller holds mu.
func (b *Broker) removeTopicLocked(ctx context.Context, user string, id int, notice string) error {
	if _, err := b.deliverLocally(ctx, id, notice); err != nil {
		b.log.WithError(err).Warnf("Failed to notify local subscribers of topic %d", id)
	}
	b.federationBroadcast(ctx, id, notice)

	if err := b.registry.DeleteTopic(ctx, id); err != nil {
		return err
	}

	if owned := b.ownedTopics[user]; owned != nil {
		delete(owned, id)
		if len(owned) == 0 {
			delete(b.ownedTopics, user)
		}
	}
	b.metrics.IncTopicsDeleted()
	b.metrics.RemoveTopic(id)
	return nil
}

func (b *Broker) ownsLocked(user string, id int) bool {
	_, ok := b.ownedTopics[user][id]
	return ok
}

func (b *Broker) ownedIDsLocked(user string) []int {
	ids := make([]int, 0, len(b.ownedTopics[user]))
	for id := range b.ownedTopics[user] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// registryErr passes business errors through and marks anything else as a
// failure to reach the registry.
func (b *Broker) registryErr(err error) error {
	if err == nil || buserr.KindName(err) != "" {
		return err
	}
	return buserr.Communication("topic registry", err)
}

func containsID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
