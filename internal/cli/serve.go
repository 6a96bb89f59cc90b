package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chant/internal/eventstream"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept utterances and stream engine events over a websocket",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		hub := eventstream.NewHub(a.engine, a.log)
		unsubscribe := a.engine.Subscribe(hub.Publish)
		defer unsubscribe()
		a.engine.StartListening()
		defer a.engine.StopListening()

		srv := &http.Server{Addr: cfg.ListenAddr, Handler: hub.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return a.engine.Run(ctx)
		})
		g.Go(func() error {
			a.log.Info("Event stream listening.", "addr", cfg.ListenAddr)
			fmt.Fprintf(cmd.OutOrStdout(), "listening on ws://%s/ws\n", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides config)")
}
