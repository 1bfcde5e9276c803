package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/logging"
	"github.com/tanmay-xvx/meshbus/internals/models"
)

// deliveryTimeLayout prints receive times as dd/MM HH:mm:ss.
const deliveryTimeLayout = "02/01 15:04:05"

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorFaint   = color.New(color.Faint).SprintFunc()
)

// lineReader is the part of readline the shells use.
type lineReader interface {
	Readline() (string, error)
}

// brokerDirectory looks up brokers for a client about to attach.
type brokerDirectory interface {
	QueryBrokers(ctx context.Context) (*models.BrokerListing, error)
	GetBroker(ctx context.Context, id int) (*models.BrokerEntry, error)
}

func newReadline(prompt string) (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		HistoryLimit:    200,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return rl, nil
}

// printResult writes an operation outcome, coloured by kind.
func printResult(out io.Writer, text string, err error) {
	switch {
	case err != nil:
		msg := err.Error()
		if !strings.HasPrefix(msg, "ERROR: ") {
			msg = "ERROR: " + msg
		}
		fmt.Fprintln(out, colorError(msg))
	case strings.HasPrefix(text, "SUCCESS"):
		fmt.Fprintln(out, colorSuccess(text))
	case text != "":
		fmt.Fprintln(out, text)
	}
	fmt.Fprintln(out)
}

// formatDelivery prefixes a delivered message with its local receive time.
func formatDelivery(at time.Time, text string) string {
	return at.Format(deliveryTimeLayout) + " " + text
}

// selectBroker prints the directory listing and asks which broker to attach to.
func selectBroker(ctx context.Context, dir brokerDirectory, in lineReader, out io.Writer) (*models.BrokerEntry, error) {
	listing, err := dir.QueryBrokers(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, colorInfo(listing.Listing))
	if len(listing.Brokers) == 0 {
		return nil, buserr.New(buserr.ErrNotFound, "No brokers have joined yet.")
	}

	fmt.Fprint(out, "Select broker number: ")
	line, err := in.Readline()
	if err != nil {
		return nil, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, buserr.New(buserr.ErrInvalidArgument, "Invalid broker number. Please try again.")
	}
	return dir.GetBroker(ctx, id)
}

// heartbeatInterval sends beats twice per monitor interval so one late beat
// never evicts a live client.
func heartbeatInterval(monitor time.Duration) time.Duration {
	interval := monitor / 2
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

// sendHeartbeats beats once immediately and then every interval until ctx
// is cancelled.
func sendHeartbeats(ctx context.Context, interval time.Duration, beat func(context.Context) error, log logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		callCtx, cancel := context.WithTimeout(ctx, interval)
		if err := beat(callCtx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("Failed to send heartbeat")
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readCommand reads the next non-empty shell line. Ctrl+C on an empty line,
// EOF and read failures all read as quit.
func readCommand(in lineReader) string {
	for {
		line, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) && line != "" {
			continue
		}
		if err != nil {
			return "quit"
		}
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
}
