package http

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tanmay-xvx/meshbus/brokerService"
	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/restclient"
)

// PeerClient reaches a peer broker.
type PeerClient struct {
	restclient.Client
	Address string
}

var _ brokerService.PeerOps = (*PeerClient)(nil)

// NewPeerClient creates a client for the broker at address (host:port).
func NewPeerClient(address string, timeout time.Duration) *PeerClient {
	return &PeerClient{Client: restclient.New(address, timeout), Address: address}
}

// PeerDialer returns a brokerService.PeerDialer producing PeerClients.
func PeerDialer(timeout time.Duration) brokerService.PeerDialer {
	return func(address string) (brokerService.PeerOps, error) {
		if _, _, err := splitAddress(address); err != nil {
			return nil, err
		}
		return NewPeerClient(address, timeout), nil
	}
}

// ReceiveMessageFromBroker forwards a message to the peer.
func (c *PeerClient) ReceiveMessageFromBroker(ctx context.Context, id int, message string) error {
	_, err := c.Call(ctx, http.MethodPost, "/peer/messages", models.PeerMessage{TopicID: id, Message: message})
	return err
}

// ReceiveConnection asks the peer to connect back to address.
func (c *PeerClient) ReceiveConnection(ctx context.Context, address string) error {
	_, err := c.Call(ctx, http.MethodPost, "/peer/connections", models.PeerConnection{Address: address})
	return err
}

// PublisherClient is the publisher's handle on the broker it is attached to.
type PublisherClient struct {
	restclient.Client
}

var _ brokerService.PublisherOps = (*PublisherClient)(nil)

// NewPublisherClient creates a client for the broker at address.
func NewPublisherClient(address string, timeout time.Duration) *PublisherClient {
	return &PublisherClient{Client: restclient.New(address, timeout)}
}

// Create creates a topic owned by user.
func (c *PublisherClient) Create(ctx context.Context, id int, name, user string) (string, error) {
	return c.Call(ctx, http.MethodPost, "/pub/topics", models.CreateTopicRequest{ID: id, Name: name, User: user})
}

// Publish publishes message on a topic user owns.
func (c *PublisherClient) Publish(ctx context.Context, id int, message, user string) (string, error) {
	return c.Call(ctx, http.MethodPost, "/pub/topics/"+strconv.Itoa(id)+"/messages",
		models.PublishRequest{User: user, Message: message})
}

// Show lists the topics user owns on the broker.
func (c *PublisherClient) Show(ctx context.Context, user string) (string, error) {
	return c.Call(ctx, http.MethodGet, "/pub/publishers/"+url.PathEscape(user)+"/topics", nil)
}

// Delete deletes a topic user owns.
func (c *PublisherClient) Delete(ctx context.Context, id int, user string) (string, error) {
	return c.Call(ctx, http.MethodDelete, "/pub/topics/"+strconv.Itoa(id)+"?user="+url.QueryEscape(user), nil)
}

// PubDisconnect detaches user and deletes its topics.
func (c *PublisherClient) PubDisconnect(ctx context.Context, user string) error {
	_, err := c.Call(ctx, http.MethodPost, "/pub/publishers/"+url.PathEscape(user)+"/disconnect", nil)
	return err
}

// SendPubHeartbeat tells the broker user is alive.
func (c *PublisherClient) SendPubHeartbeat(ctx context.Context, user string) error {
	_, err := c.Call(ctx, http.MethodPost, "/pub/publishers/"+url.PathEscape(user)+"/heartbeat", nil)
	return err
}

func splitAddress(address string) (string, int, error) {
	i := strings.LastIndex(address, ":")
	if i <= 0 || i == len(address)-1 {
		return "", 0, buserr.New(buserr.ErrInvalidArgument, "Invalid broker address %q", address)
	}
	port, err := strconv.Atoi(address[i+1:])
	if err != nil {
		return "", 0, buserr.New(buserr.ErrInvalidArgument, "Invalid broker address %q", address)
	}
	return address[:i], port, nil
}
