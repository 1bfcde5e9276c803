// Package directory keeps the list of brokers that have joined the mesh.
package directory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/models"
)

// Directory assigns broker ids and remembers broker addresses.
// Ids start at 1 and are never reused.
type Directory struct {
	mu      sync.RWMutex
	nextID  int
	brokers []models.BrokerEntry
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{nextID: 1}
}

// Register records a broker and returns its id along with the addresses of
// every broker registered before it.
func (d *Directory) Register(addr models.BrokerAddress) (int, []models.BrokerAddress) {
	d.mu.Lock()
	defer d.mu.Unlock()

	peers := make([]models.BrokerAddress, 0, len(d.brokers))
	for _, b := range d.brokers {
		peers = append(peers, b.BrokerAddress)
	}

	id := d.nextID
	d.nextID++
	d.brokers = append(d.brokers, models.BrokerEntry{ID: id, BrokerAddress: addr})
	return id, peers
}

// Get returns the broker with the given id.
func (d *Directory) Get(id int) (models.BrokerEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, b := range d.brokers {
		if b.ID == id {
			return b, nil
		}
	}
	return models.BrokerEntry{}, buserr.New(buserr.ErrNotFound, "Broker id %d not found.", id)
}

// All returns the registered brokers in registration order.
func (d *Directory) All() []models.BrokerEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.BrokerEntry, len(d.brokers))
	copy(out, d.brokers)
	return out
}

// Len returns the number of registered brokers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.brokers)
}

// Listing renders the brokers the way clients print them.
func (d *Directory) Listing() string {
	return FormatListing(d.All())
}

// FormatListing renders a broker list as "[id] host : port" lines.
func FormatListing(brokers []models.BrokerEntry) string {
	var b strings.Builder
	b.WriteString("Active brokers (ip:port):")
	for _, e := range brokers {
		fmt.Fprintf(&b, "\n[%d] %s : %d", e.ID, e.Host, e.Port)
	}
	return b.String()
}
