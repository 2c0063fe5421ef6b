package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"

	"github.com/weddinglabs/cardpress/pipeline"
	"github.com/weddinglabs/cardpress/render"
	"github.com/weddinglabs/cardpress/server"
	"github.com/weddinglabs/cardpress/session"
	"github.com/weddinglabs/cardpress/shutdown"
)

func newServeCommand() *cobra.Command {
	var (
		addr    string
		dbPath  string
		fontDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the wizard HTTP API",
		Example: `  cardpress serve --addr :5000 --db sessions.db --fonts fonts/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := session.NewStore(dbPath)
			if err != nil {
				return err
			}

			fonts := render.NewFontRegistry()
			if fontDir != "" {
				if err := fonts.RegisterDir(fontDir); err != nil {
					return err
				}
			}

			srv := server.New(store, pipeline.NewRunner(fonts), fonts)
			httpServer := &http.Server{
				Addr:    addr,
				Handler: srv.Handler(),
			}

			shutdown.AddHook("http listener", shutdown.PriorityIngress, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				httpServer.Shutdown(ctx)
			})
			shutdown.AddHook("generation runs", shutdown.PriorityRuns, srv.Shutdown)
			shutdown.AddHook("session store", shutdown.PriorityStore, func() {
				store.Close()
			})

			return shutdown.RunAndWait(func() error {
				logger.Infof("listening on %s", addr)
				go func() {
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Fatalf("http server: %v", err)
					}
				}()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":5000", "Listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite session database path (empty = in-memory sessions)")
	cmd.Flags().StringVar(&fontDir, "fonts", "", "Directory of .ttf/.otf fonts to register")
	return cmd
}
