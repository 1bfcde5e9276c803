package registry

import "github.com/tanmay-xvx/meshbus/internals/buserr"

// Registry errors share their identity with the buserr kinds so they survive
// the trip through the directory's HTTP API.
var (
	// ErrTopicAlreadyExists is returned when trying to add a topic id that is already registered
	ErrTopicAlreadyExists = buserr.ErrDuplicateTopic

	// ErrTopicNotFound is returned when trying to access a topic that doesn't exist
	ErrTopicNotFound = buserr.ErrUnknownTopic

	// ErrAlreadySubscribed is returned when the subscriber is already recorded for the topic
	ErrAlreadySubscribed = buserr.ErrAlreadySubscribed
)
