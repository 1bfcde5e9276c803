// Package directoryService hosts the broker directory and the shared topic
// registry. Brokers register here to learn their id and peers; every broker
// reaches the same topic registry through this service.
package directoryService

import (
	"context"

	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/registry"
)

// DirectoryService defines the operations the directory process exposes.
type DirectoryService interface {
	// RegisterBroker resolves host, assigns the next broker id and returns it
	// with the addresses of every broker registered earlier.
	RegisterBroker(ctx context.Context, host string, port int) (*models.Registration, error)

	// QueryBrokers returns every registered broker and the listing clients print.
	QueryBrokers(ctx context.Context) (*models.BrokerListing, error)

	// GetBroker returns a single broker by id, or a buserr.ErrNotFound error.
	GetBroker(ctx context.Context, id int) (*models.BrokerEntry, error)

	// Registry returns the topic registry shared by all brokers.
	Registry() registry.TopicRegistry
}
