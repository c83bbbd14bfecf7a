package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/gatewaysrv"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the reference results backend",
}

var gatewayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the results API from memory",
	Long: `Starts an in-memory results backend that accepts attempt logs and
step submissions, recomputes verdicts from the curriculum, and exposes
/metrics. Data is lost on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()

		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = e.cfg.Gateway.Listen
		}
		rate, _ := cmd.Flags().GetInt("rate")

		srv := gatewaysrv.New(e.cur, gatewaysrv.Options{
			RatePerLearner: rate,
			Gatherer:       e.registry,
			RequestTimeout: e.cfg.Gateway.Timeout,
		}, e.log)
		defer srv.Close()

		hs := &http.Server{
			Addr:              listen,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			e.log.Info("gateway listening", zap.String("addr", listen))
			errCh <- hs.ListenAndServe()
		}()
		fmt.Printf("Results backend listening on http://%s\n", listen)

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.log.Info("gateway shutting down")
		return hs.Shutdown(shutdownCtx)
	},
}

func init() {
	gatewayServeCmd.Flags().String("listen", "", "Listen address (default: gateway.listen)")
	gatewayServeCmd.Flags().Int("rate", 20, "Requests per second per learner, 0 for unlimited")
	gatewayCmd.AddCommand(gatewayServeCmd)
}
