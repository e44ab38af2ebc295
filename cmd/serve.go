package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danthegoodman1/deltabase/http_server"
	"github.com/danthegoodman1/deltabase/utils"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.Debug().Msg("starting deltabase")
			ctx := logger.WithContext(context.Background())

			st, err := opts.openStore(ctx)
			if err != nil {
				return err
			}

			httpServer, err := http_server.StartHTTPServer(st, port)
			if err != nil {
				st.Close(ctx)
				return err
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			<-c
			logger.Warn().Msg("received shutdown signal!")

			// For AWS ALB needing some time to de-register pod
			sleepTime := utils.SHUTDOWN_SLEEP_SEC
			logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

			time.Sleep(time.Second * time.Duration(sleepTime))
			logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

			ctx, cancel := context.WithTimeout(ctx, time.Second*10)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to shutdown HTTP server")
			} else {
				logger.Info().Msg("successfully shutdown HTTP server")
			}
			return st.Close(ctx)
		},
	}
	cmd.Flags().StringVar(&port, "port", utils.HTTP_PORT, "HTTP port")
	return cmd
}
