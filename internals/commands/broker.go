package commands

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tanmay-xvx/meshbus/brokerService"
	brokerHTTP "github.com/tanmay-xvx/meshbus/brokerService/http"
	directoryHTTP "github.com/tanmay-xvx/meshbus/directoryService/http"
	"github.com/tanmay-xvx/meshbus/internals/metrics"
	"github.com/tanmay-xvx/meshbus/internals/models"
)

func newBrokerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "broker <directory_ip> <directory_port> <ip> <port>",
		Short: "Run a broker and join the mesh",
		Args:  exactArgs(4, `Usage example "meshbus broker 127.0.0.1 1099 127.0.0.1 2001"`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parsePort(args[1]); err != nil {
				return err
			}
			port, err := parsePort(args[3])
			if err != nil {
				return err
			}
			a.cfg.DirectoryHost, a.cfg.DirectoryPort = args[0], args[1]
			a.cfg.Host, a.cfg.Port = args[2], args[3]
			return a.runBroker(cmd.Context(), models.BrokerAddress{Host: args[2], Port: port})
		},
	}
}

// runBroker registers with the directory, connects to the returned peers,
// starts serving, then announces itself to every peer.
func (a *app) runBroker(parent context.Context, self models.BrokerAddress) error {
	ctx, stop := signalContext(parent)
	defer stop()

	log := a.log.WithField("component", "broker")
	dirAddr := a.cfg.DirectoryAddr()

	reg := directoryHTTP.NewRegistryClient(dirAddr, a.cfg.RequestTimeout)
	dir := directoryHTTP.NewDirectoryClient(dirAddr, a.cfg.RequestTimeout)
	broker := brokerService.NewBroker(reg, brokerHTTP.PeerDialer(a.cfg.RequestTimeout), a.cfg, metrics.NewMetrics(), a.log)

	ln, err := listen(net.JoinHostPort(a.cfg.Host, a.cfg.Port))
	if err != nil {
		log.WithError(err).Error("Failed to bind broker")
		return err
	}

	registration, err := broker.Join(ctx, dir, self)
	if err != nil {
		ln.Close()
		log.WithError(err).Errorf("Failed to register with directory %s", dirAddr)
		return err
	}
	log = log.WithField("broker", registration.ID)

	router := chi.NewRouter()
	handler := brokerHTTP.NewHandler(broker, a.cfg, a.log)
	handler.RegisterRoutes(router)
	server := &http.Server{
		Handler:     router,
		ReadTimeout: a.cfg.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}
	server.RegisterOnShutdown(handler.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(gctx, server, ln, log)
	})

	broker.Announce(gctx)
	log.Infof("Broker %d ready on %s with %d peer(s)", registration.ID, self, len(broker.Peers()))

	g.Go(func() error {
		return broker.RunMonitors(gctx)
	})

	return g.Wait()
}
