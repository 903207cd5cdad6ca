package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safeplate/scout-cli/internal/extract"
	"github.com/safeplate/scout-cli/internal/scout"
)

var (
	lookupLocation string
	lookupMenuURL  string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup \"Restaurant Name\"",
	Short: "Run one celiac-safety lookup and print the result JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("lookup"); err != nil {
			return err
		}

		ctx := cmd.Context()
		s, st, err := initScout(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		result, err := s.Lookup(ctx, scout.LookupRequest{
			Name:     args[0],
			Location: lookupLocation,
			MenuURL:  lookupMenuURL,
		})
		if err != nil {
			var malformed *extract.MalformedResponseError
			if errors.As(err, &malformed) {
				zap.L().Error("model response could not be parsed", zap.String("preview", malformed.Preview))
			}
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupLocation, "location", "", "city or neighborhood context")
	lookupCmd.Flags().StringVar(&lookupMenuURL, "menu-url", "", "menu URL to analyze instead of the cached record")
	rootCmd.AddCommand(lookupCmd)
}
