package http

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tanmay-xvx/meshbus/brokerService"
	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/registry"
	"github.com/tanmay-xvx/meshbus/internals/restclient"
	"github.com/tanmay-xvx/meshbus/internals/topic"
)

// DirectoryClient reaches the directory's broker routes.
type DirectoryClient struct {
	restclient.Client
}

var _ brokerService.Registrar = (*DirectoryClient)(nil)

// NewDirectoryClient creates a client for the directory at address (host:port).
func NewDirectoryClient(address string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{Client: restclient.New(address, timeout)}
}

// RegisterBroker registers the broker at host:port.
func (c *DirectoryClient) RegisterBroker(ctx context.Context, host string, port int) (*models.Registration, error) {
	var reg models.Registration
	if err := c.Do(ctx, http.MethodPost, "/brokers", models.RegisterBrokerRequest{Host: host, Port: port}, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// QueryBrokers returns the registered brokers.
func (c *DirectoryClient) QueryBrokers(ctx context.Context) (*models.BrokerListing, error) {
	var listing models.BrokerListing
	if err := c.Do(ctx, http.MethodGet, "/brokers", nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// GetBroker returns the broker with the given id.
func (c *DirectoryClient) GetBroker(ctx context.Context, id int) (*models.BrokerEntry, error) {
	var entry models.BrokerEntry
	if err := c.Do(ctx, http.MethodGet, "/brokers/"+strconv.Itoa(id), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RegistryClient is the TopicRegistry a broker uses when the registry lives
// in the directory process.
type RegistryClient struct {
	restclient.Client
}

var _ registry.TopicRegistry = (*RegistryClient)(nil)

// NewRegistryClient creates a registry client for the directory at address.
func NewRegistryClient(address string, timeout time.Duration) *RegistryClient {
	return &RegistryClient{Client: restclient.New(address, timeout)}
}

func topicPath(id int) string {
	return "/registry/topics/" + strconv.Itoa(id)
}

func (c *RegistryClient) AddTopic(ctx context.Context, t topic.Topic) error {
	return c.Do(ctx, http.MethodPost, "/registry/topics", t, nil)
}

func (c *RegistryClient) DeleteTopic(ctx context.Context, id int) error {
	return c.Do(ctx, http.MethodDelete, topicPath(id), nil, nil)
}

func (c *RegistryClient) AddSubscriber(ctx context.Context, id int, user string) error {
	return c.Do(ctx, http.MethodPost, topicPath(id)+"/subscribers", models.SubscriberRequest{User: user}, nil)
}

func (c *RegistryClient) RemoveSubscriber(ctx context.Context, id int, user string) error {
	return c.Do(ctx, http.MethodDelete, topicPath(id)+"/subscribers/"+url.PathEscape(user), nil, nil)
}

func (c *RegistryClient) DisconnectSubscriber(ctx context.Context, user string) error {
	return c.Do(ctx, http.MethodDelete, "/registry/subscribers/"+url.PathEscape(user), nil, nil)
}

func (c *RegistryClient) GetAllSubscriberNames(ctx context.Context, id int) ([]string, error) {
	var names []string
	if err := c.Do(ctx, http.MethodGet, topicPath(id)+"/subscribers", nil, &names); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	return names, nil
}

func (c *RegistryClient) ListAllTopics(ctx context.Context) ([]topic.Topic, error) {
	var topics []topic.Topic
	if err := c.Do(ctx, http.MethodGet, "/registry/topics", nil, &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

func (c *RegistryClient) GetSubscriptionsOf(ctx context.Context, user string) ([]int, error) {
	ids := []int{}
	if err := c.Do(ctx, http.MethodGet, "/registry/subscribers/"+url.PathEscape(user)+"/topics", nil, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int{}
	}
	return ids, nil
}

func (c *RegistryClient) GetTopic(ctx context.Context, id int) (*topic.Topic, error) {
	var t topic.Topic
	if err := c.Do(ctx, http.MethodGet, topicPath(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
