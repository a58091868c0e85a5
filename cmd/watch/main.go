package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwarvesf/escrow-backend/internal/client"
	"github.com/dwarvesf/escrow-backend/internal/model"
	"github.com/dwarvesf/escrow-backend/internal/poller"
	"github.com/dwarvesf/escrow-backend/internal/types/environments"
	"github.com/dwarvesf/escrow-backend/internal/utils/config"
	"github.com/dwarvesf/escrow-backend/internal/utils/logger"
)

type options struct {
	wallet          string
	baseURL         string
	interval        time.Duration
	idleRefresh     time.Duration
	exitWhenSettled bool
	debug           bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	appConfig := config.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the escrow transactions of a wallet until they settle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&opts.wallet, "wallet", "", "wallet address to follow")
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:"+appConfig.ApiServer.Port, "escrow-backend base url")
	cmd.Flags().DurationVar(&opts.interval, "interval", appConfig.Poller.Interval, "poll interval while transactions settle")
	cmd.Flags().DurationVar(&opts.idleRefresh, "idle-refresh", time.Minute, "how often to look again once everything has settled")
	cmd.Flags().BoolVar(&opts.exitWhenSettled, "exit-when-settled", false, "exit once no transaction is settling")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "log every poll")
	_ = cmd.MarkFlagRequired("wallet")

	return cmd
}

func runWatch(ctx context.Context, out io.Writer, opts *options) error {
	env := environments.Production
	if opts.debug {
		env = environments.Development
	}
	log := logger.New(env)
	defer log.Sync()

	settled := make(chan struct{}, 1)
	p := poller.New(
		client.New(opts.baseURL, opts.interval),
		opts.wallet,
		poller.WithInterval(opts.interval),
		poller.WithReadTimeout(opts.interval),
		poller.WithLogger(log),
		poller.OnChange(func(txs []model.Transaction) {
			render(out, txs)
			if !model.HasSettling(txs) {
				select {
				case settled <- struct{}{}:
				default:
				}
			}
		}),
		poller.OnError(func(err error) {
			fmt.Fprintf(out, "read failed: %v\n", err)
		}),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p.Start(ctx)
	defer p.Stop()

	refresh := time.NewTicker(opts.idleRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settled:
			if opts.exitWhenSettled {
				return nil
			}
		case <-refresh.C:
			p.Start(ctx)
		}
	}
}

func render(out io.Writer, txs []model.Transaction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TX HASH\tAMOUNT\tSTATUS\tUPDATED\n")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", tx.TxHash, tx.Amount, tx.Status, tx.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if len(txs) == 0 {
		fmt.Fprintf(w, "(no transactions)\t\t\t\n")
	}
	w.Flush()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
