package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/safeplate/scout-cli/internal/model"
	"github.com/safeplate/scout-cli/internal/scout"
	"github.com/safeplate/scout-cli/internal/seed"
)

func seedRequests(entries []seed.Entry) []model.PendingRequest {
	reqs := make([]model.PendingRequest, len(entries))
	for i, e := range entries {
		reqs[i] = model.PendingRequest{RestaurantName: e.Name, Location: e.Location}
	}
	return reqs
}

var (
	prepopulateFile  string
	prepopulateDelay time.Duration
	prepopulateQueue bool
)

var prepopulateCmd = &cobra.Command{
	Use:   "prepopulate",
	Short: "Seed the cache from a YAML or XLSX restaurant list",
	Long:  "Reads a seed list and researches every restaurant that is not already cached. With --queue the entries are enqueued for a later fulfill run instead of researched immediately.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := "fulfill"
		if prepopulateQueue {
			mode = "migrate"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		ctx := cmd.Context()
		entries, err := seed.Load(prepopulateFile)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Seed file has no entries")
			return nil
		}

		s, st, err := initScout(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		if prepopulateQueue {
			n, err := st.EnqueueRequestsBulk(ctx, seedRequests(entries))
			if err != nil {
				return err
			}
			fmt.Printf("Queued %d restaurants for the next fulfill run\n", n)
			return nil
		}

		delay := prepopulateDelay
		if delay == 0 {
			delay = cfg.Fulfill.Delay()
		}
		limiter := rate.NewLimiter(rate.Every(delay), 1)

		var done, skipped, failed int
		for _, e := range entries {
			if st != nil {
				cached, err := st.GetCached(ctx, e.Name, e.Location)
				if err == nil && cached != nil {
					skipped++
					continue
				}
			}

			if err := limiter.Wait(ctx); err != nil {
				return err
			}

			if _, err := s.Lookup(ctx, scout.LookupRequest{Name: e.Name, Location: e.Location}); err != nil {
				zap.L().Warn("prepopulate lookup failed, continuing",
					zap.String("name", e.Name),
					zap.String("location", e.Location),
					zap.Error(err),
				)
				failed++
				continue
			}
			done++
		}

		fmt.Printf("Prepopulated %d restaurants (%d already cached, %d failed)\n", done, skipped, failed)
		return nil
	},
}

func init() {
	prepopulateCmd.Flags().StringVar(&prepopulateFile, "file", "", "seed file (.yaml, .yml, or .xlsx)")
	prepopulateCmd.Flags().DurationVar(&prepopulateDelay, "delay", 0, "pause between external calls (default from config)")
	prepopulateCmd.Flags().BoolVar(&prepopulateQueue, "queue", false, "enqueue entries instead of researching now")
	prepopulateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(prepopulateCmd)
}
