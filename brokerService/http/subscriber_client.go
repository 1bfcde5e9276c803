package http

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/models"
)

// ErrClientClosed is returned by SubscriberClient calls after the connection is gone.
var ErrClientClosed = errors.New("subscriber connection closed")

// SubscriberClient is a subscriber's websocket session with its broker.
// Requests are matched to replies by request id; deliveries pushed by the
// broker are handed to the OnMessage callback in arrival order.
type SubscriberClient struct {
	conn      *websocket.Conn
	user      string
	onMessage func(models.ServerMsg)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan models.ServerMsg
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// DialSubscriber opens a websocket to the broker at address and attaches user.
func DialSubscriber(ctx context.Context, address, wsPath, user string, onMessage func(models.ServerMsg)) (*SubscriberClient, error) {
	host := address
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	u := url.URL{
		Scheme:   "ws",
		Host:     host,
		Path:     wsPath,
		RawQuery: url.Values{"user": {user}}.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, buserr.Communication(address, err)
	}
	if onMessage == nil {
		onMessage = func(models.ServerMsg) {}
	}

	c := &SubscriberClient{
		conn:      conn,
		user:      user,
		onMessage: onMessage,
		pending:   make(map[string]chan models.ServerMsg),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// User returns the subscriber name the session is attached as.
func (c *SubscriberClient) User() string {
	return c.user
}

// Done is closed when the connection is gone.
func (c *SubscriberClient) Done() <-chan struct{} {
	return c.done
}

// List returns every topic registered in the system.
func (c *SubscriberClient) List(ctx context.Context) (string, error) {
	return c.request(ctx, models.WSClientMsg{Type: models.MsgTypeList})
}

// Sub subscribes to a topic. Deliveries arrive through OnMessage.
func (c *SubscriberClient) Sub(ctx context.Context, id int) (string, error) {
	return c.request(ctx, models.WSClientMsg{Type: models.MsgTypeSub, TopicID: id})
}

// Current lists the topics the subscriber is subscribed to.
func (c *SubscriberClient) Current(ctx context.Context) (string, error) {
	return c.request(ctx, models.WSClientMsg{Type: models.MsgTypeCurrent})
}

// Unsub removes the subscription to a topic.
func (c *SubscriberClient) Unsub(ctx context.Context, id int) (string, error) {
	return c.request(ctx, models.WSClientMsg{Type: models.MsgTypeUnsub, TopicID: id})
}

// SendSubHeartbeat tells the broker the subscriber is alive.
func (c *SubscriberClient) SendSubHeartbeat(ctx context.Context) error {
	_, err := c.request(ctx, models.WSClientMsg{Type: models.MsgTypeHeartbeat})
	return err
}

// SubDisconnect drops every subscription and ends the session.
func (c *SubscriberClient) SubDisconnect(ctx context.Context) error {
	_, err := c.request(ctx, models.WSClientMsg{Type: models.MsgTypeDisconnect})
	c.Close()
	return err
}

// Close closes the connection without disconnecting the subscriber.
func (c *SubscriberClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *SubscriberClient) request(ctx context.Context, msg models.WSClientMsg) (string, error) {
	msg.RequestID = uuid.NewString()
	reply := make(chan models.ServerMsg, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return "", c.err
	}
	c.pending[msg.RequestID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return "", buserr.Communication("broker", err)
	}

	select {
	case resp := <-reply:
		return replyResult(resp)
	case <-c.done:
		// the reply may have landed just before the connection closed
		select {
		case resp := <-reply:
			return replyResult(resp)
		default:
			return "", c.closedErr()
		}
	case <-ctx.Done():
		return "", buserr.Communication("broker", ctx.Err())
	}
}

func replyResult(resp models.ServerMsg) (string, error) {
	if resp.Type == models.MsgTypeError {
		return "", buserr.FromWire(resp.Kind, resp.Text)
	}
	return resp.Text, nil
}

func (c *SubscriberClient) readLoop() {
	defer close(c.done)
	for {
		var msg models.ServerMsg
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.err = ErrClientClosed
			c.mu.Unlock()
			return
		}

		if msg.Type == models.MsgTypeMessage {
			c.onMessage(msg)
			continue
		}

		c.mu.Lock()
		reply, ok := c.pending[msg.RequestID]
		c.mu.Unlock()
		if ok {
			reply <- msg
		}
	}
}

func (c *SubscriberClient) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}
