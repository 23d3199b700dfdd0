package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ledger",
		Short:        "Share-based lending pools with flash loans",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("state-dir", "./data/state", "ledger state directory (LevelDB)")
	flags.String("program", "", "pool program id (hex address)")
	flags.Uint64("fee-numerator", 3, "flash loan fee numerator")
	flags.Uint64("fee-denominator", 1000, "flash loan fee denominator")
	flags.StringSlice("borrower", nil, "borrower program ids to register (comma-separated)")
	flags.String("rpc", "", "RPC URL used to read reserve token metadata")
	flags.Int("max-retries", 5, "maximum RPC retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInitCmd(),
		newFaucetCmd(),
		newCreateCmd(),
		newDepositCmd(),
		newWithdrawCmd(),
		newLendCmd(),
		newBalanceCmd(),
		newPoolsCmd(),
		newFeesCmd(),
		newReplayCmd(),
		newAggregateCmd(),
	)
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
