package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tanmay-xvx/meshbus/brokerService"
	brokerHTTP "github.com/tanmay-xvx/meshbus/brokerService/http"
	directoryHTTP "github.com/tanmay-xvx/meshbus/directoryService/http"
)

const publisherMenu = `Please select command: create, publish, show, delete.
1. Create topic (create topic_id topic_name)
2. Publish message for existing topic (publish topic_id message)
3. Show subscriber count for topic (show)
4. Delete topic (delete topic_id)
5. Quit
`

func newPublisherCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publisher <username> <directory_ip> <directory_port>",
		Short: "Attach to a broker as a publisher",
		Args:  exactArgs(3, `Usage example "meshbus publisher alice 127.0.0.1 1099"`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parsePort(args[2]); err != nil {
				return err
			}
			a.cfg.DirectoryHost, a.cfg.DirectoryPort = args[1], args[2]
			return a.runPublisher(cmd.Context(), args[0])
		},
	}
}

func (a *app) runPublisher(parent context.Context, user string) error {
	ctx, stop := signalContext(parent)
	defer stop()

	log := a.log.WithFields(map[string]interface{}{"component": "publisher", "user": user})

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

	pub := brokerHTTP.NewPublisherClient(entry.String(), a.cfg.RequestTimeout)

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sendHeartbeats(hbCtx, heartbeatInterval(a.cfg.HeartbeatInterval), func(ctx context.Context) error {
		return pub.SendPubHeartbeat(ctx, user)
	}, log)

	return runPublisherShell(ctx, pub, user, rl, out)
}

// runPublisherShell reads publisher commands until quit, then disconnects.
func runPublisherShell(ctx context.Context, pub brokerService.PublisherOps, user string, in lineReader, out io.Writer) error {
	for {
		fmt.Fprintln(out, publisherMenu)

		cmd, err := parsePublisherLine(readCommand(in))
		if err != nil {
			printResult(out, "", err)
			continue
		}

		var text string
		switch cmd.Name {
		case "create":
			text, err = pub.Create(ctx, cmd.TopicID, cmd.Text, user)
		case "publish":
			text, err = pub.Publish(ctx, cmd.TopicID, cmd.Text, user)
		case "show":
			text, err = pub.Show(ctx, user)
		case "delete":
			text, err = pub.Delete(ctx, cmd.TopicID, user)
		case "quit":
			err = pub.PubDisconnect(ctx, user)
			if err != nil {
				printResult(out, "", err)
			}
			fmt.Fprintln(out, "Publisher exits.")
			return err
		}
		printResult(out, text, err)
	}
}
