package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/markjakearzadon/gridpay-terminal/internal/api"
	"github.com/markjakearzadon/gridpay-terminal/internal/config"
	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/pipeline"
	"github.com/markjakearzadon/gridpay-terminal/internal/terminal"
)

func collectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Take one card payment",
		Long: `Create a payment intent, wait for a card on the reader, process and
capture it, then record the transaction with the backend.`,
		RunE: runCollect,
	}

	cmd.Flags().String("amount", "", "Amount in major units, e.g. 5.00 (minimum 1.00)")
	cmd.Flags().String("email", "", "Receipt email (optional)")
	cmd.Flags().Duration("cancel-after", 0, "Cancel the card wait after this long")
	cmd.Flags().Duration("card-delay", 2*time.Second, "How long the simulated reader waits for a card")
	cmd.Flags().Bool("decline", false, "Make the simulated reader decline the card")
	cmd.Flags().Bool("auto-capture", false, "Make the simulated reader settle the payment itself")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runCollect(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	envFile, _ := cmd.Flags().GetString("env-file")
	config.LoadEnv(envFile)
	cfg, err := config.LoadTerminal()
	if err != nil {
		return err
	}

	amount, _ := cmd.Flags().GetString("amount")
	email, _ := cmd.Flags().GetString("email")
	cancelAfter, _ := cmd.Flags().GetDuration("cancel-after")
	cardDelay, _ := cmd.Flags().GetDuration("card-delay")
	decline, _ := cmd.Flags().GetBool("decline")
	autoCapture, _ := cmd.Flags().GetBool("auto-capture")

	req, err := pipeline.NewPaymentRequest(amount, cfg.Currency, cfg.ConnectedAccount, email)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	backend := api.NewClient(cfg.APIURL, cfg.ConnectionSecret)
	reader := terminal.NewSimulator(backend,
		terminal.WithCardDelay(cardDelay),
		terminal.WithDecline(decline),
		terminal.WithAutoCapture(autoCapture),
		terminal.WithLogger(logger),
	)
	if err := reader.Connect(ctx); err != nil {
		return fmt.Errorf("connect reader: %w", err)
	}

	refreshed := make(chan *models.Transaction, 1)
	ctrl := pipeline.NewController(pipeline.NewSession(cfg.ConnectedAccount, cfg.Currency), reader, backend,
		pipeline.WithLogger(logger),
		pipeline.WithRefresh(func(tx *models.Transaction) {
			select {
			case refreshed <- tx:
			default:
			}
		}),
		pipeline.WithStateObserver(func(st pipeline.Status) {
			logger.Debug().Str("state", string(st.State)).Bool("complete", st.Complete).Bool("error", st.HasError).Msg("Status")
		}),
	)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Charging %s %s (application fee %s)\n",
		req.Amount.StringFixed(2), cfg.Currency, formatMinor(req.ApplicationFeeAmount))

	if err := ctrl.Submit(ctx, req); err != nil {
		return err
	}
	if cancelAfter > 0 {
		time.AfterFunc(cancelAfter, func() {
			if err := ctrl.Cancel(context.Background()); err != nil {
				logger.Debug().Err(err).Msg("Nothing to cancel")
			}
		})
	}
	if err := ctrl.Wait(ctx); err != nil {
		return err
	}

	printLog(out, ctrl.Log().Snapshot())

	st := ctrl.Status()
	switch {
	case st.HasError:
		fmt.Fprintf(out, "\nPayment failed: %v\n", st.Err)
	case st.Complete:
		fmt.Fprintln(out, "\nPayment complete")
		if id := ctrl.Session().LastSuccessfulChargeID(); id != "" {
			fmt.Fprintf(out, "Charge: %s\n", id)
		}
	default:
		fmt.Fprintln(out, "\nPayment canceled")
	}

	select {
	case <-refreshed:
		payments, err := backend.PreviousPayments(ctx, cfg.ConnectedAccount)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to refresh previous payments")
			return nil
		}
		fmt.Fprintln(out)
		printPayments(out, payments)
	default:
	}
	return nil
}
