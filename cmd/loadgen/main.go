// Command loadgen sends synthetic HL7 ADT traffic to the gateway's MLLP
// listener and prints how it was acknowledged.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"github.com/itechsmart/sentinel/internal/loadgen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		cfg            loadgen.Config
		prometheusAddr string
		jsonOutput     bool
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:          "loadgen",
		Short:        "Send synthetic HL7 traffic to an MLLP listener",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if verbose {
				level = "debug"
			}
			log, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			metrics, err := loadgen.NewMetrics(reg)
			if err != nil {
				return err
			}
			if prometheusAddr != "" {
				srv := &http.Server{
					Addr:              prometheusAddr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("metrics endpoint failed", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				log.Info("serving metrics", zap.String("addr", prometheusAddr))
			}

			runner, err := loadgen.NewRunner(cfg, metrics, log)
			if err != nil {
				return err
			}

			log.Info("starting run",
				zap.String("address", cfg.Address),
				zap.Float64("rate", cfg.Rate),
				zap.Int("count", cfg.Count),
				zap.Duration("duration", cfg.Duration),
				zap.Int("connections", cfg.Connections),
			)
			summary, runErr := runner.Run(ctx)
			if runErr != nil {
				log.Error("run aborted", zap.Error(runErr))
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "sent %d in %s (%.1f msg/s)\n", summary.Sent, summary.Elapsed.Round(time.Millisecond), summary.Throughput())
				fmt.Fprintf(out, "  accepted %d, application errors %d, rejected %d, failed %d\n",
					summary.Accepted, summary.Errors, summary.Rejected, summary.Failed)
				fmt.Fprintf(out, "  round trip p50 %s, p95 %s, max %s\n",
					summary.LatencyP50, summary.LatencyP95, summary.LatencyMax)
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.Address, "address", "a", "127.0.0.1:2575", "MLLP listener address")
	f.Float64VarP(&cfg.Rate, "rate", "r", 10, "messages per second, 0 for unlimited")
	f.IntVarP(&cfg.Count, "count", "n", 100, "messages to send, 0 to run for --duration")
	f.DurationVarP(&cfg.Duration, "duration", "d", 0, "stop after this long")
	f.IntVarP(&cfg.Connections, "connections", "c", 1, "parallel MLLP connections")
	f.Uint64Var(&cfg.Seed, "seed", 0, "random seed for patient data, 0 for random")
	f.StringSliceVar(&cfg.ReceivingApplications, "receiving-app", []string{"LAB"}, "MSH-5 values to cycle through")
	f.IntVar(&cfg.MalformedEvery, "malformed-every", 0, "send a malformed message every n messages")
	f.StringVar(&cfg.Charset, "charset", "", "wire charset, default UTF-8")
	f.DurationVar(&cfg.AckTimeout, "ack-timeout", 30*time.Second, "time to wait for each acknowledgment")
	f.StringVar(&prometheusAddr, "prometheus", "", "serve Prometheus metrics on this address, e.g. :9091")
	f.BoolVar(&jsonOutput, "json", false, "print the summary as JSON")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	return cmd
}
