// Package registry provides the shared topic registry for the broker mesh.
//
// One registry instance is hosted by the directory process and reached by
// every broker. It holds all topics and the topic<->subscriber membership
// index; it never holds delivery handles.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/tanmay-xvx/meshbus/internals/logging"
	"github.com/tanmay-xvx/meshbus/internals/topic"
)

// TopicRegistry is the contract shared by the in-memory registry, the Redis
// registry and the HTTP client brokers use to reach the directory.
type TopicRegistry interface {
	// AddTopic inserts a topic. Returns ErrTopicAlreadyExists if the id is taken.
	AddTopic(ctx context.Context, t topic.Topic) error

	// DeleteTopic removes a topic and every membership entry that refers to it.
	// Deleting an absent id is not an error.
	DeleteTopic(ctx context.Context, id int) error

	// AddSubscriber records user as a subscriber of the topic and increments its count.
	// Returns ErrTopicNotFound or ErrAlreadySubscribed.
	AddSubscriber(ctx context.Context, id int, user string) error

	// RemoveSubscriber is the inverse of AddSubscriber. Missing entries are ignored.
	RemoveSubscriber(ctx context.Context, id int, user string) error

	// DisconnectSubscriber removes user from every topic it is subscribed to.
	DisconnectSubscriber(ctx context.Context, user string) error

	// GetAllSubscriberNames returns the names subscribed to the topic, in subscription order.
	GetAllSubscriberNames(ctx context.Context, id int) ([]string, error)

	// ListAllTopics returns every topic ordered by id.
	ListAllTopics(ctx context.Context) ([]topic.Topic, error)

	// GetSubscriptionsOf returns the ids user is subscribed to, ascending.
	GetSubscriptionsOf(ctx context.Context, user string) ([]int, error)

	// GetTopic returns the topic or ErrTopicNotFound.
	GetTopic(ctx context.Context, id int) (*topic.Topic, error)
}

// Registry is the in-memory TopicRegistry. Every operation runs under one lock.
type Registry struct {
	mu               sync.RWMutex
	topics           map[int]*topic.Topic
	topicSubscribers map[int][]string
	subscriberTopics map[string]map[int]struct{}
	log              logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	return &Registry{
		topics:           make(map[int]*topic.Topic),
		topicSubscribers: make(map[int][]string),
		subscriberTopics: make(map[string]map[int]struct{}),
		log:              log.WithField("component", "registry"),
	}
}

// AddTopic inserts a topic. The subscriber count of t is ignored.
func (r *Registry) AddTopic(ctx context.Context, t topic.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.topics[t.ID]; exists {
		return ErrTopicAlreadyExists
	}

	r.topics[t.ID] = topic.NewTopic(t.ID, t.Name, t.Owner)

	r.log.Infof("Topic %d added for publisher %s", t.ID, t.Owner)
	return nil
}

// DeleteTopic removes the topic and all of its memberships.
func (r *Registry) DeleteTopic(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.topics[id]; !exists {
		return nil
	}

	for _, user := range r.topicSubscribers[id] {
		r.dropReverse(user, id)
	}
	delete(r.topicSubscribers, id)
	delete(r.topics, id)

	r.log.Infof("Topic %d deleted", id)
	return nil
}

// AddSubscriber records a membership.
func (r *Registry) AddSubscriber(ctx context.Context, id int, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.topics[id]
	if !exists {
		return ErrTopicNotFound
	}
	if _, subscribed := r.subscriberTopics[user][id]; subscribed {
		return ErrAlreadySubscribed
	}

	r.topicSubscribers[id] = append(r.topicSubscribers[id], user)
	if r.subscriberTopics[user] == nil {
		r.subscriberTopics[user] = make(map[int]struct{})
	}
	r.subscriberTopics[user][id] = struct{}{}
	t.AddSubscriber()

	r.log.Debugf("Subscriber %s added to topic %d", user, id)
	return nil
}

// RemoveSubscriber removes a membership if present.
func (r *Registry) RemoveSubscriber(ctx context.Context, id int, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(id, user)
	return nil
}

// DisconnectSubscriber removes every membership of user.
func (r *Registry) DisconnectSubscriber(ctx context.Context, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.subscriberTopics[user]
	if len(ids) == 0 {
		r.log.Debugf("No topics found for subscriber %s", user)
		return nil
	}

	for id := range ids {
		r.removeLocked(id, user)
	}
	delete(r.subscriberTopics, user)

	r.log.Infof("Subscriber %s disconnected from all topics", user)
	return nil
}

// GetAllSubscriberNames returns a copy of the topic's subscriber names.
func (r *Registry) GetAllSubscriberNames(ctx context.Context, id int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.topicSubscribers[id]
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out, nil
}

// ListAllTopics returns copies of all topics ordered by id.
func (r *Registry) ListAllTopics(ctx context.Context) ([]topic.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]topic.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		topics = append(topics, *t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	return topics, nil
}

// GetSubscriptionsOf returns the topic ids user subscribes to.
func (r *Registry) GetSubscriptionsOf(ctx context.Context, user string) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.subscriberTopics[user]))
	for id := range r.subscriberTopics[user] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// GetTopic returns a copy of the topic.
func (r *Registry) GetTopic(ctx context.Context, id int) (*topic.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.topics[id]
	if !exists {
		return nil, ErrTopicNotFound
	}
	return t.Clone(), nil
}

// GetTopicCount returns the total number of topics in the registry.
func (r *Registry) GetTopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// GetSubscriptionCount returns the total number of memberships.
func (r *Registry) GetSubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, names := range r.topicSubscribers {
		total += len(names)
	}
	return total
}

// removeLocked removes one membership. The count only changes if the
// membership existed. Caller holds r.mu.
func (r *Registry) removeLocked(id int, user string) {
	names := r.topicSubscribers[id]
	for i, name := range names {
		if name != user {
			continue
		}
		names = append(names[:i], names[i+1:]...)
		if len(names) == 0 {
			delete(r.topicSubscribers, id)
		} else {
			r.topicSubscribers[id] = names
		}
		if t, exists := r.topics[id]; exists {
			t.RemoveSubscriber()
		}
		break
	}
	r.dropReverse(user, id)
}

// dropReverse removes id from the user's topic set. Caller holds r.mu.
func (r *Registry) dropReverse(user string, id int) {
	ids, exists := r.subscriberTopics[user]
	if !exists {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(r.subscriberTopics, user)
	}
}
