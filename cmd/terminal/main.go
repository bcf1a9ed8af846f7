package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "gridpay-terminal",
		Short:   "GridPay card terminal - take card payments through a reader",
		Version: Version,
	}
	rootCmd.PersistentFlags().Bool("debug", false, "Verbose logging")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file to load")

	rootCmd.AddCommand(collectCmd())
	rootCmd.AddCommand(paymentsCmd())
	rootCmd.AddCommand(feeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}
