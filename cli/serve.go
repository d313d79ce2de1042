package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallnest/kanban/bus"
	"github.com/smallnest/kanban/gateway"
	"github.com/smallnest/kanban/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long:  `Serve the task store over REST, push change events over WebSocket and reload the store file when it is edited externally.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw := a.cfg.Gateway
			if cmd.Flags().Changed("host") {
				gw.Host = host
			}
			if cmd.Flags().Changed("port") {
				gw.Port = port
			}

			store, err := openStore(a.cfg)
			if err != nil {
				return err
			}
			defer store.close()

			eventBus := bus.NewEventBus(gw.EventBuffer)
			defer eventBus.Close()

			server := gateway.NewServer(&gw, store.manager, eventBus)
			if gw.Watch && store.file != nil {
				if err := server.WatchFile(store.file, store.persistent); err != nil {
					logger.Warn("Store file watcher disabled", zap.Error(err))
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := server.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s (backend: %s)\n", server.Addr(), a.cfg.Storage.Backend)

			<-ctx.Done()
			logger.Info("Shutting down gateway")
			return server.Stop()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Override gateway.host")
	cmd.Flags().IntVar(&port, "port", 0, "Override gateway.port")
	return cmd
}
