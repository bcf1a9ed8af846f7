package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/markjakearzadon/gridpay-terminal/internal/api"
	"github.com/markjakearzadon/gridpay-terminal/internal/config"
	"github.com/markjakearzadon/gridpay-terminal/internal/eventlog"
	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/money"
)

func paymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payments",
		Short: "List previous payments for the connected account",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			config.LoadEnv(envFile)
			cfg, err := config.LoadTerminal()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			payments, err := api.NewClient(cfg.APIURL, cfg.ConnectionSecret).PreviousPayments(ctx, cfg.ConnectedAccount)
			if err != nil {
				return fmt.Errorf("fetch previous payments: %w", err)
			}
			printPayments(cmd.OutOrStdout(), payments)
			return nil
		},
	}
}

func feeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Show the application fee for an amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, _ := cmd.Flags().GetString("amount")
			a, err := money.Parse(amount)
			if err != nil {
				return err
			}
			if err := money.Validate(a); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatMinor(money.ApplicationFee(money.ToMinor(a))))
			return nil
		},
	}
	cmd.Flags().String("amount", "", "Amount in major units")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func formatMinor(minor int64) string {
	return money.Format(minor)
}

func printPayments(w io.Writer, payments []models.PreviousPayment) {
	if len(payments) == 0 {
		fmt.Fprintln(w, "No previous payments")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tAMOUNT\tSTATUS\tCARD")
	for _, p := range payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t**** %s\n",
			time.Unix(p.Created, 0).UTC().Format("2006-01-02 15:04"),
			formatMinor(p.Amount),
			p.DisplayStatus(),
			p.PaymentMethodDetails.CardPresent.Last4,
		)
	}
	tw.Flush()
}

func printLog(w io.Writer, groups []eventlog.Group) {
	for _, g := range groups {
		fmt.Fprintln(w, g.Name)
		for _, e := range g.Events {
			line := fmt.Sprintf("  %-10s %s", e.Name, e.Description)
			if len(e.Metadata) > 0 {
				line += " " + formatMetadata(e.Metadata)
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
	}
}

func formatMetadata(md map[string]string) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + md[k]
	}
	return "{" + strings.Join(parts, " ") + "}"
}
