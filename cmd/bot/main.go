package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "bot",
		Short:         "PositionSentinel: periodic ETH position bot driven by StochRSI, MA21 and retracement levels",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), cfgPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default $CONFIG_PATH or configs/config.yaml)")

	cmd.AddCommand(
		newRunCmd(&cfgPath),
		newTickCmd(&cfgPath),
		newStatusCmd(&cfgPath),
	)
	return cmd
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the evaluation loop, control server and Telegram commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), *cfgPath)
		},
	}
}

func newTickCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single evaluation and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(cmd.Context(), *cfgPath, cmd.OutOrStdout())
		},
	}
}

func newStatusCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted position and recent journal trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(*cfgPath, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of journal trades to show")
	return cmd
}
