package commands

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	brokerHTTP "github.com/tanmay-xvx/meshbus/brokerService/http"
	directoryHTTP "github.com/tanmay-xvx/meshbus/directoryService/http"
	"github.com/tanmay-xvx/meshbus/internals/models"
)

const subscriberMenu = `Please select command: list, sub, current, unsub
1. List all topics (list)
2. Subscribe to a topic (sub topic_id)
3. Show current subscriptions (current)
4. Unsubscribe from a topic (unsub topic_id)
5. Quit
`

// subscriberSession is what the subscriber shell needs from its broker session.
type subscriberSession interface {
	List(ctx context.Context) (string, error)
	Sub(ctx context.Context, id int) (string, error)
	Current(ctx context.Context) (string, error)
	Unsub(ctx context.Context, id int) (string, error)
	SubDisconnect(ctx context.Context) error
}

func newSubscriberCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "subscriber <username> <directory_ip> <directory_port>",
		Short: "Attach to a broker as a subscriber",
		Args:  exactArgs(3, `Usage example "meshbus subscriber bob 127.0.0.1 1099"`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parsePort(args[2]); err != nil {
				return err
			}
			a.cfg.DirectoryHost, a.cfg.DirectoryPort = args[1], args[2]
			return a.runSubscriber(cmd.Context(), args[0])
		},
	}
}

func (a *app) runSubscriber(parent context.Context, user string) error {
	ctx, stop := signalContext(parent)
	defer stop()

	log := a.log.WithFields(map[string]interface{}{"component": "subscriber", "user": user})

	rl, err := newReadline(user + "> ")
	if err != nil {
		return err
	}
	defer rl.Close()
	out := rl.Stdout()

	dir := directoryHTTP.NewDirectoryClient(a.cfg.DirectoryAddr(), a.cfg.RequestTimeout)
	entry, err := selectBroker(ctx, dir, rl, out)
	if err != nil {
		printResult(out, "", err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	sub, err := brokerHTTP.DialSubscriber(dialCtx, entry.String(), a.cfg.WSPath, user, func(m models.ServerMsg) {
		fmt.Fprintln(out, formatDelivery(time.Now(), m.Text))
		fmt.Fprintln(out)
	})
	cancel()
	if err != nil {
		printResult(out, "", err)
		return err
	}
	defer sub.Close()

	hbCtx, stopBeats := context.WithCancel(ctx)
	defer stopBeats()
	go sendHeartbeats(hbCtx, heartbeatInterval(a.cfg.HeartbeatInterval), sub.SendSubHeartbeat, log)

	session := &quittingSession{SubscriberClient: sub}
	go func() {
		select {
		case <-sub.Done():
			if !session.quitting.Load() {
				fmt.Fprintln(out, colorError("ERROR: Connection to broker lost."))
				rl.Close()
			}
		case <-hbCtx.Done():
		}
	}()

	return runSubscriberShell(ctx, session, rl, out)
}

// quittingSession records that the user asked to leave, so the closing
// connection is not reported as a failure.
type quittingSession struct {
	*brokerHTTP.SubscriberClient
	quitting atomic.Bool
}

func (s *quittingSession) SubDisconnect(ctx context.Context) error {
	s.quitting.Store(true)
	return s.SubscriberClient.SubDisconnect(ctx)
}

// runSubscriberShell reads subscriber commands until quit, then disconnects.
func runSubscriberShell(ctx context.Context, sub subscriberSession, in lineReader, out io.Writer) error {
	for {
		fmt.Fprintln(out, subscriberMenu)

		cmd, err := parseSubscriberLine(readCommand(in))
		if err != nil {
			printResult(out, "", err)
			continue
		}

		var text string
		switch cmd.Name {
		case "list":
			text, err = sub.List(ctx)
		case "sub":
			text, err = sub.Sub(ctx, cmd.TopicID)
		case "current":
			text, err = sub.Current(ctx)
		case "unsub":
			text, err = sub.Unsub(ctx, cmd.TopicID)
		case "quit":
			err = sub.SubDisconnect(ctx)
			if err != nil {
				printResult(out, "", err)
			}
			fmt.Fprintln(out, "Subscriber exits.")
			return err
		}
		printResult(out, text, err)
	}
}
