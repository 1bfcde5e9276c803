package commands

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/tanmay-xvx/meshbus/directoryService"
	directoryHTTP "github.com/tanmay-xvx/meshbus/directoryService/http"
	"github.com/tanmay-xvx/meshbus/internals/metrics"
)

func newDirectoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "directory <ip> <port>",
		Short: "Run the directory that brokers register with",
		Args:  exactArgs(2, `Usage example "meshbus directory 127.0.0.1 1099"`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parsePort(args[1]); err != nil {
				return err
			}
			a.cfg.Host, a.cfg.Port = args[0], args[1]
			return a.runDirectory(cmd.Context())
		},
	}
}

func (a *app) runDirectory(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	log := a.log.WithField("component", "directory")

	openCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	reg, closeRegistry, err := directoryService.OpenRegistry(openCtx, a.cfg, a.log)
	cancel()
	if err != nil {
		log.WithError(err).Error("Failed to open topic registry")
		return err
	}
	defer closeRegistry()

	svc := directoryService.NewService(reg, metrics.NewMetrics(), a.log)

	router := mux.NewRouter()
	directoryHTTP.NewHandler(svc, a.log).RegisterRoutes(router)

	addr := net.JoinHostPort(a.cfg.Host, a.cfg.Port)
	ln, err := listen(addr)
	if err != nil {
		log.WithError(err).Error("Failed to bind directory")
		return err
	}

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	log.WithField("backend", a.cfg.RegistryBackend).Infof("Directory ready on %s", addr)
	return serve(ctx, server, ln, log)
}
