package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cometbft/cometbft/abci/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"cipherbet/internal/app"
	"cipherbet/internal/eventsink"
	"cipherbet/internal/kms"
	"cipherbet/internal/metrics"
)

const (
	flagAddr         = "addr"
	flagTransport    = "transport"
	flagMetricsAddr  = "metrics-addr"
	flagKafkaBrokers = "kafka-brokers"
	flagKafkaTopic   = "kafka-topic"
)

func startCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the ABCI application for a CometBFT node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v)
			if err != nil {
				return err
			}
			committee, err := kms.Load(committeePath(v), rand.Reader)
			if err != nil {
				return fmt.Errorf("load committee (run `%s kms init` first): %w", BinaryName, err)
			}

			m := metrics.New()
			sink := eventsink.Nop()
			if brokers := eventsink.ParseBrokers(v.GetString(flagKafkaBrokers)); len(brokers) > 0 {
				sink = eventsink.NewKafka(brokers, v.GetString(flagKafkaTopic))
				logger.Info("publishing events", "brokers", brokers, "topic", v.GetString(flagKafkaTopic))
			}
			defer func() { _ = sink.Close() }()

			a, err := app.New(v.GetString(flagHome), committee.PubKey, committee,
				app.WithLogger(logger), app.WithMetrics(m), app.WithSink(sink))
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			srv, err := server.NewServer(v.GetString(flagAddr), v.GetString(flagTransport), a)
			if err != nil {
				return fmt.Errorf("abci server: %w", err)
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("abci server start: %w", err)
			}
			defer func() { _ = srv.Stop() }()
			logger.Info("abci server listening", "addr", v.GetString(flagAddr), "transport", v.GetString(flagTransport))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)
			if addr := v.GetString(flagMetricsAddr); addr != "" {
				ms := m.Server(addr, func(context.Context) error {
					if !srv.IsRunning() {
						return errors.New("abci server stopped")
					}
					return nil
				})
				g.Go(func() error {
					logger.Info("metrics listening", "addr", addr)
					if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return ms.Shutdown(sctx)
				})
			}
			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down")
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().String(flagAddr, "tcp://127.0.0.1:26658", "ABCI listen address")
	cmd.Flags().String(flagTransport, "socket", "ABCI transport (socket|grpc)")
	cmd.Flags().String(flagMetricsAddr, ":9464", "Prometheus listen address, empty to disable")
	cmd.Flags().String(flagKafkaBrokers, "", "comma separated Kafka brokers for the event stream, empty to disable")
	cmd.Flags().String(flagKafkaTopic, "cipherbet.events", "Kafka topic for committed events")
	return cmd
}
