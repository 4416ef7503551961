package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rflorenc/cics-explorer/internal/api"
	"github.com/rflorenc/cics-explorer/internal/models"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := &api.Server{
				Profiles:   a.profiles,
				Jobs:       models.NewJobStore(),
				Client:     a.client,
				Executor:   a.executor,
				Containers: api.NewContainerCache(),
				PageSize:   a.cfg.PageSize,
				Log:        a.log,
			}
			for _, p := range a.profiles.List() {
				a.log.Info().Str("profile", p.Name).Str("url", p.BaseURL()).
					Str("cicsplex", p.CICSPlex).Str("region", p.Region).Msg("loaded profile")
			}

			srv := &http.Server{Addr: a.cfg.Listen, Handler: api.NewRouter(server)}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			a.log.Info().Str("version", version).Str("listen", a.cfg.Listen).Msg("cics explorer starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
