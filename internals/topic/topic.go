// Package topic provides the topic record shared by the registry and the brokers.
package topic

// Topic is a named publish channel with exactly one owning publisher.
// ID, Name and Owner never change after creation; only the registry
// mutates Subscribers.
type Topic struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Subscribers int    `json:"subscribers"`
}

// NewTopic creates a topic with no subscribers.
func NewTopic(id int, name, owner string) *Topic {
	return &Topic{
		ID:    id,
		Name:  name,
		Owner: owner,
	}
}

// AddSubscriber increments the subscriber count.
func (t *Topic) AddSubscriber() {
	t.Subscribers++
}

// RemoveSubscriber decrements the subscriber count, never below zero.
func (t *Topic) RemoveSubscriber() {
	if t.Subscribers > 0 {
		t.Subscribers--
	}
}

// Clone returns a copy safe to hand outside the registry lock.
func (t *Topic) Clone() *Topic {
	c := *t
	return &c
}
