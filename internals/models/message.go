// Package models provides wire types shared by the directory, brokers and clients.
package models

import (
	"net"
	"strconv"
	"time"
)

// BrokerAddress is the network location of a broker.
type BrokerAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String returns host:port.
func (a BrokerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// BrokerEntry is a registered broker and its assigned id.
type BrokerEntry struct {
	ID int `json:"id"`
	BrokerAddress
}

// RegisterBrokerRequest is the body of a broker registration.
type RegisterBrokerRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Registration is the directory's answer to a broker registration.
// Peers lists every broker registered before the caller.
type Registration struct {
	ID    int             `json:"id"`
	Peers []BrokerAddress `json:"peers"`
}

// BrokerListing is the answer to a broker query.
type BrokerListing struct {
	Listing string        `json:"listing"`
	Brokers []BrokerEntry `json:"brokers"`
}

// Result carries a human-readable outcome and, on failure, the error kind.
type Result struct {
	Result string `json:"result"`
	Kind   string `json:"kind,omitempty"`
}

// CreateTopicRequest is the body of a topic creation.
type CreateTopicRequest struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	User string `json:"user"`
}

// PublishRequest is the body of a publication.
type PublishRequest struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// PeerMessage is a message forwarded from one broker to another.
type PeerMessage struct {
	TopicID int    `json:"topic_id"`
	Message string `json:"message"`
}

// PeerConnection announces a broker to a peer.
type PeerConnection struct {
	Address string `json:"address"`
}

// SubscriberRequest names a subscriber in registry calls.
type SubscriberRequest struct {
	User string `json:"user"`
}

// Subscriber websocket message types.
const (
	MsgTypeSub        = "sub"
	MsgTypeUnsub      = "unsub"
	MsgTypeCurrent    = "current"
	MsgTypeList       = "list"
	MsgTypeHeartbeat  = "heartbeat"
	MsgTypeDisconnect = "disconnect"

	MsgTypeMessage = "message"
	MsgTypeResult  = "result"
	MsgTypeError   = "error"
)

// WSClientMsg is a request sent by a subscriber over its websocket.
type WSClientMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	TopicID   int    `json:"topic_id,omitempty"`
}

// ServerMsg is a reply or a pushed delivery sent by a broker over the websocket.
type ServerMsg struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Ts        time.Time `json:"ts,omitempty"`
}

// NewServerMsg creates a new ServerMsg with the specified type and request ID.
func NewServerMsg(msgType, requestID, text string) ServerMsg {
	return ServerMsg{
		Type:      msgType,
		RequestID: requestID,
		Text:      text,
		Ts:        time.Now(),
	}
}

// NewServerError creates a new error reply.
func NewServerError(requestID, kind, text string) ServerMsg {
	return ServerMsg{
		Type:      MsgTypeError,
		RequestID: requestID,
		Text:      text,
		Kind:      kind,
		Ts:        time.Now(),
	}
}
