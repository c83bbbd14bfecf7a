package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/app"
	"github.com/abhisek/cefrquest/internal/session"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Continue practicing where you left off",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd)
	},
}

// runApp opens the store, builds the engine and launches the TUI. The
// outbox dispatcher and the metrics endpoint run alongside when
// configured.
func runApp(cmd *cobra.Command) error {
	e, err := openEnv(cmd, envOptions{tui: true})
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	events := make(chan session.Event, 8)
	opts := engineOptions{
		onEvent: func(ev session.Event) {
			select {
			case events <- ev:
			default:
				e.log.Warn("dropping timer event, screen is not keeping up")
			}
		},
	}

	d := e.dispatcher()
	if d != nil {
		opts.notify = d.Notify
		go func() {
			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error("outbox dispatcher stopped", zap.Error(err))
			}
		}()
	}

	if addr := e.cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	eng, err := e.engine(ctx, opts)
	if err != nil {
		return err
	}

	return app.Run(app.Options{
		Context:   ctx,
		Engine:    eng,
		Events:    events,
		LearnerID: e.learnerID,
	})
}
