package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/safeplate/scout-cli/internal/scout"
)

var fulfillDelay time.Duration

var fulfillCmd = &cobra.Command{
	Use:   "fulfill",
	Short: "Research every pending restaurant request",
	Long:  "Drains the offline research queue oldest-first, pacing external calls so provider rate limits are respected. Failed requests stay queued for the next run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fulfill"); err != nil {
			return err
		}

		ctx := cmd.Context()
		s, st, err := initScout(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		delay := fulfillDelay
		if delay == 0 {
			delay = cfg.Fulfill.Delay()
		}

		stats, err := scout.NewDrainer(s, st, delay).Drain(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Fulfilled %d/%d requests (%d failed)\n", stats.Fulfilled, stats.Total, stats.Failed)
		return nil
	},
}

func init() {
	fulfillCmd.Flags().DurationVar(&fulfillDelay, "delay", 0, "pause between external calls (default from config)")
	rootCmd.AddCommand(fulfillCmd)
}
