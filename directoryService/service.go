package directoryService

import (
	"context"
	"fmt"
	"net"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/config"
	"github.com/tanmay-xvx/meshbus/internals/directory"
	"github.com/tanmay-xvx/meshbus/internals/logging"
	"github.com/tanmay-xvx/meshbus/internals/metrics"
	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/registry"
)

// Resolver turns a host name into addresses.
type Resolver func(ctx context.Context, host string) ([]string, error)

// Service implements DirectoryService.
type Service struct {
	brokers  *directory.Directory
	registry registry.TopicRegistry
	metrics  *metrics.Metrics
	resolve  Resolver
	log      logging.Logger
}

var _ DirectoryService = (*Service)(nil)

// NewService creates a directory backed by reg.
func NewService(reg registry.TopicRegistry, m *metrics.Metrics, log logging.Logger) *Service {
	if m == nil {
		m = metrics.NewMetrics()
	}
	if log == nil {
		log = logging.NewNop()
	}
	if reg == nil {
		reg = registry.NewRegistry(log)
	}

	return &Service{
		brokers:  directory.New(),
		registry: reg,
		metrics:  m,
		resolve:  net.DefaultResolver.LookupHost,
		log:      log.WithField("component", "directory"),
	}
}

// SetResolver replaces the host resolver.
func (s *Service) SetResolver(r Resolver) {
	s.resolve = r
}

// OpenRegistry builds the topic registry selected by cfg. The returned
// function releases its resources.
func OpenRegistry(ctx context.Context, cfg *config.Config, log logging.Logger) (registry.TopicRegistry, func() error, error) {
	switch cfg.RegistryBackend {
	case config.RegistryRedis:
		reg, err := registry.NewRedisRegistry(ctx, registry.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil
	case config.RegistryMemory, "":
		return registry.NewRegistry(log), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
}

// RegisterBroker records a broker and returns its id and earlier peers.
func (s *Service) RegisterBroker(ctx context.Context, host string, port int) (*models.Registration, error) {
	if port <= 0 || port > 65535 {
		return nil, buserr.New(buserr.ErrInvalidArgument, "Invalid port %d", port)
	}

	ip, err := s.lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	id, peers := s.brokers.Register(models.BrokerAddress{Host: ip, Port: port})
	s.metrics.IncBrokersRegistered()
	s.log.WithFields(map[string]interface{}{"broker": id, "address": net.JoinHostPort(ip, fmt.Sprint(port))}).
		Infof("Broker registered, %d peers", len(peers))

	return &models.Registration{ID: id, Peers: peers}, nil
}

// QueryBrokers returns the registered brokers.
func (s *Service) QueryBrokers(ctx context.Context) (*models.BrokerListing, error) {
	all := s.brokers.All()
	return &models.BrokerListing{
		Listing: directory.FormatListing(all),
		Brokers: all,
	}, nil
}

// GetBroker returns the broker with the given id.
func (s *Service) GetBroker(ctx context.Context, id int) (*models.BrokerEntry, error) {
	entry, err := s.brokers.Get(id)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Registry returns the shared topic registry.
func (s *Service) Registry() registry.TopicRegistry {
	return s.registry
}

// Stats reports directory counters.
func (s *Service) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"brokers": s.brokers.Len(),
		"metrics": s.metrics.Snapshot(),
	}
	if c, ok := s.registry.(registryCounter); ok {
		stats["topics"] = c.GetTopicCount()
		stats["subscriptions"] = c.GetSubscriptionCount()
	}
	return stats
}

// registryCounter is implemented by registries that can count their
// contents without a round trip.
type registryCounter interface {
	GetTopicCount() int
	GetSubscriptionCount() int
}

// lookup resolves host, preferring an IPv4 address.
func (s *Service) lookup(ctx context.Context, host string) (string, error) {
	if host == "" {
		return "", buserr.New(buserr.ErrInvalidArgument, "Host is required")
	}
	addrs, err := s.resolve(ctx, host)
	if err != nil || len(addrs) == 0 {
		s.log.WithError(err).WithField("host", host).Info("Host lookup failed")
		return "", buserr.New(buserr.ErrUnknownHost, "Unknown host %s", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}
