// Package buserr defines the error kinds shared by the directory, brokers and clients.
//
// Business-rule failures are returned as *Error values whose text is shown to
// the user verbatim. Callers test the kind with errors.Is.
package buserr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrDuplicateTopic is returned when a topic id is already registered.
	ErrDuplicateTopic = errors.New("duplicate topic")

	// ErrUnknownTopic is returned when a topic id does not exist.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrNotOwner is returned when a publisher acts on a topic it does not own on this broker.
	ErrNotOwner = errors.New("not owner")

	// ErrAlreadySubscribed is returned when a subscription already exists.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrNotSubscribed is returned when there is no subscription to remove.
	ErrNotSubscribed = errors.New("not subscribed")

	// ErrNoSuchOwnership is returned when a publisher owns nothing on this broker.
	ErrNoSuchOwnership = errors.New("no such ownership")

	// ErrInvalidArgument is returned for malformed client input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCommunication is returned when a broker, peer or the directory cannot be reached.
	ErrCommunication = errors.New("communication failure")

	// ErrUnknownHost is returned when a host name cannot be resolved.
	ErrUnknownHost = errors.New("unknown host")

	// ErrNotFound is returned when a broker id was never assigned.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRegistered is returned when a service binding is already taken.
	ErrAlreadyRegistered = errors.New("already registered")
)

// Error is a failure whose message is meant for the end user.
type Error struct {
	Kind    error
	Message string
}

// New creates an Error of the given kind.
func New(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error renders the message the way clients display it.
func (e *Error) Error() string {
	return "ERROR: " + e.Message
}

// Unwrap exposes the kind to errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

var kindNames = []struct {
	kind   error
	name   string
	status int
}{
	{ErrDuplicateTopic, "duplicate_topic", http.StatusConflict},
	{ErrUnknownTopic, "unknown_topic", http.StatusNotFound},
	{ErrNotOwner, "not_owner", http.StatusForbidden},
	{ErrAlreadySubscribed, "already_subscribed", http.StatusConflict},
	{ErrNotSubscribed, "not_subscribed", http.StatusNotFound},
	{ErrNoSuchOwnership, "no_such_ownership", http.StatusNotFound},
	{ErrInvalidArgument, "invalid_argument", http.StatusBadRequest},
	{ErrCommunication, "communication_failure", http.StatusBadGateway},
	{ErrUnknownHost, "unknown_host", http.StatusBadRequest},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrAlreadyRegistered, "already_registered", http.StatusConflict},
}

// KindName returns the wire name of err's kind, or "" if err has no known kind.
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return ""
}

// KindFromName returns the kind for a wire name, or nil if the name is unknown.
func KindFromName(name string) error {
	for _, k := range kindNames {
		if k.name == name {
			return k.kind
		}
	}
	return nil
}

// HTTPStatus maps err to a response status. Unknown errors map to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// FromWire rebuilds an error received from a server.
// text is the full result string, including the "ERROR: " prefix if present.
func FromWire(kindName, text string) error {
	kind := KindFromName(kindName)
	if kind == nil {
		return errors.New(text)
	}
	const prefix = "ERROR: "
	if len(text) >= len(prefix) && text[:len(prefix)] == prefix {
		text = text[len(prefix):]
	}
	return &Error{Kind: kind, Message: text}
}

// Communication wraps err as a communication failure talking to target.
func Communication(target string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCommunication, target, err)
}
