// Package brokerService provides the broker core: topic lifecycle, local
// fan-out, one-hop federation to peer brokers and heartbeat eviction.
package brokerService

import (
	"context"

	"github.com/tanmay-xvx/meshbus/internals/models"
)

// Callback is the handle a broker uses to push messages to an attached subscriber.
type Callback interface {
	ReceiveMessage(text string) error
}

// PublisherOps are the operations publishers call on the broker they are attached to.
// Business-rule failures are returned as *buserr.Error; the string is the
// text shown to the user on success.
type PublisherOps interface {
	Create(ctx context.Context, id int, name, user string) (string, error)
	Publish(ctx context.Context, id int, message, user string) (string, error)
	Show(ctx context.Context, user string) (string, error)
	Delete(ctx context.Context, id int, user string) (string, error)
	PubDisconnect(ctx context.Context, user string) error
	SendPubHeartbeat(ctx context.Context, user string) error
}

// SubscriberOps are the operations subscribers call on the broker they are attached to.
type SubscriberOps interface {
	List(ctx context.Context) (string, error)
	Sub(ctx context.Context, id int, cb Callback, user string) (string, error)
	Current(ctx context.Context, user string) (string, error)
	Unsub(ctx context.Context, id int, user string) (string, error)
	SubDisconnect(ctx context.Context, user string) error
	SendSubHeartbeat(ctx context.Context, user string) error
}

// PeerOps are the operations brokers call on each other.
type PeerOps interface {
	// ReceiveMessageFromBroker delivers a message to this broker's local
	// subscribers only. It never forwards further.
	ReceiveMessageFromBroker(ctx context.Context, id int, message string) error

	// ReceiveConnection adds the broker at address to this broker's peers.
	ReceiveConnection(ctx context.Context, address string) error
}

// PeerDialer returns a handle to the broker at address.
type PeerDialer func(address string) (PeerOps, error)

// Registrar registers a broker with the directory.
type Registrar interface {
	RegisterBroker(ctx context.Context, host string, port int) (*models.Registration, error)
}
