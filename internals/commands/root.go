// Package commands provides the meshbus command line: the directory, broker,
// publisher and subscriber processes.
package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/config"
	"github.com/tanmay-xvx/meshbus/internals/logging"
)

const shutdownTimeout = 30 * time.Second

// app carries state shared by the subcommands after flag parsing.
type app struct {
	configFile string
	cfg        *config.Config
	log        logging.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{cfg: config.NewConfig()}

	root := &cobra.Command{
		Use:   "meshbus",
		Short: "Distributed topic-based publish/subscribe over a mesh of brokers",
		Long: `meshbus runs the processes of a broker mesh.

  meshbus directory <ip> <port>
  meshbus broker <directory_ip> <directory_port> <ip> <port>
  meshbus publisher <username> <directory_ip> <directory_port>
  meshbus subscriber <username> <directory_ip> <directory_port>`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", ".env", "Path to a .env or YAML configuration file")
	a.cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newDirectoryCommand(a),
		newBrokerCommand(a),
		newPublisherCommand(a),
		newSubscriberCommand(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config file, rebuilds the configuration from the
// environment, reapplies explicit flags and creates the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadFile(a.configFile); err != nil {
		if !os.IsNotExist(err) || cmd.Flags().Changed("config") {
			return fmt.Errorf("load config %s: %w", a.configFile, err)
		}
	}

	cfg, err := reapplyFlags(config.NewConfig(), cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(cfg.LogLevel, cfg.LogFormat)
	logging.SetDefault(a.log)
	return nil
}

// reapplyFlags copies every flag the user set onto cfg. Environment values
// loaded from the config file are read by config.NewConfig; flags still win.
func reapplyFlags(cfg *config.Config, set *pflag.FlagSet) (*config.Config, error) {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	cfg.BindFlags(fs)

	var firstErr error
	set.Visit(func(f *pflag.Flag) {
		if fs.Lookup(f.Name) == nil || firstErr != nil {
			return
		}
		if err := fs.Set(f.Name, f.Value.String()); err != nil {
			firstErr = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	return cfg, firstErr
}

// signalContext is cancelled with parent or on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// listen binds addr. A taken address is reported as ErrAlreadyRegistered.
func listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, buserr.New(buserr.ErrAlreadyRegistered, "Address %s is already in use", addr)
		}
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// serve runs srv on ln until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, log logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	log.Info("Server shutdown complete")
	return nil
}
