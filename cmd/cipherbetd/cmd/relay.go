package cmd

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"cipherbet/internal/kms"
	"cipherbet/internal/metrics"
	"cipherbet/internal/relayer"
)

const (
	flagRPC          = "rpc"
	flagPollInterval = "poll-interval"
	flagResubmit     = "resubmit-after"
	flagWorkers      = "workers"
	flagChainID      = "chain-id"
)

func relayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Answer outstanding decryption requests with the local committee",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v)
			if err != nil {
				return err
			}
			committee, err := kms.Load(committeePath(v), rand.Reader)
			if err != nil {
				return fmt.Errorf("load committee: %w", err)
			}
			node, err := relayer.NewRPCNode(v.GetString(flagRPC))
			if err != nil {
				return err
			}
			m := metrics.New()
			r := relayer.New(node, committee, relayer.Config{
				ChainID:       v.GetString(flagChainID),
				PollInterval:  v.GetDuration(flagPollInterval),
				ResubmitAfter: v.GetDuration(flagResubmit),
				Workers:       v.GetInt(flagWorkers),
			}, logger, m)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return r.Run(ctx) })
			if addr := v.GetString(flagMetricsAddr); addr != "" {
				ms := m.Server(addr, nil)
				g.Go(func() error {
					if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					return ms.Close()
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().String(flagRPC, "http://127.0.0.1:26657", "CometBFT RPC endpoint")
	cmd.Flags().Duration(flagPollInterval, 2*time.Second, "interval between polls of /requests/pending")
	cmd.Flags().Duration(flagResubmit, 30*time.Second, "resubmit a fulfillment still pending after this long")
	cmd.Flags().Int(flagWorkers, 4, "concurrent fulfillments per poll")
	cmd.Flags().String(flagChainID, "", "chain id to sign for, read from /params when empty")
	cmd.Flags().String(flagMetricsAddr, "", "Prometheus listen address, empty to disable")
	return cmd
}
