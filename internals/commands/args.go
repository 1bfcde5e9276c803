package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
)

// maxMessageLength is the longest message a publisher may send.
const maxMessageLength = 100

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("invalid argument length: %s", usage)
		}
		return nil
	}
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, buserr.New(buserr.ErrInvalidArgument, "Invalid format for port number %q", s)
	}
	return port, nil
}

var errInvalidCommand = buserr.New(buserr.ErrInvalidArgument, "Invalid command/input. Please try again.")

func invalidTopicID() error {
	return buserr.New(buserr.ErrInvalidArgument, "Invalid topic ID. Please enter a valid number.")
}

func invalidArgCount(command string) error {
	return buserr.New(buserr.ErrInvalidArgument, "Invalid number of arguments for %s command.", command)
}

func parseTopicID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidTopicID()
	}
	return id, nil
}

// pubCommand is one parsed publisher shell line.
type pubCommand struct {
	Name    string
	TopicID int
	Text    string
}

// parsePublisherLine validates a publisher command before anything is sent.
func parsePublisherLine(line string) (pubCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return pubCommand{}, errInvalidCommand
	}

	cmd := pubCommand{Name: strings.ToLower(fields[0])}
	switch cmd.Name {
	case "create", "publish":
		if len(fields) < 3 {
			return pubCommand{}, invalidArgCount(cmd.Name)
		}
		id, err := parseTopicID(fields[1])
		if err != nil {
			return pubCommand{}, err
		}
		cmd.TopicID = id
		cmd.Text = strings.Join(fields[2:], " ")
		if cmd.Name == "publish" && len(cmd.Text) > maxMessageLength {
			return pubCommand{}, buserr.New(buserr.ErrInvalidArgument,
				"Message length should be less than %d characters.", maxMessageLength)
		}
	case "delete":
		if len(fields) != 2 {
			return pubCommand{}, invalidArgCount(cmd.Name)
		}
		id, err := parseTopicID(fields[1])
		if err != nil {
			return pubCommand{}, err
		}
		cmd.TopicID = id
	case "show", "quit":
	default:
		return pubCommand{}, errInvalidCommand
	}
	return cmd, nil
}

// subCommand is one parsed subscriber shell line.
type subCommand struct {
	Name    string
	TopicID int
}

// parseSubscriberLine validates a subscriber command before anything is sent.
func parseSubscriberLine(line string) (subCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return subCommand{}, errInvalidCommand
	}

	cmd := subCommand{Name: strings.ToLower(fields[0])}
	switch cmd.Name {
	case "sub", "unsub":
		if len(fields) != 2 {
			return subCommand{}, invalidArgCount(cmd.Name)
		}
		id, err := parseTopicID(fields[1])
		if err != nil {
			return subCommand{}, err
		}
		cmd.TopicID = id
	case "list", "current", "quit":
	default:
		return subCommand{}, errInvalidCommand
	}
	return cmd, nil
}
