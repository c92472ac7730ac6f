// Package cache provides the cache maintenance command for Echo
package cache

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/pipeline"
)

// Command creates and returns the cache command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the metadata and search caches",
	}

	cmd.AddCommand(purgeCommand(settings))
	cmd.AddCommand(clearCommand(settings))
	cmd.AddCommand(statsCommand(settings))

	return cmd
}

func purgeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.New(settings)
			if err != nil {
				return fmt.Errorf("failed to build enrichment pipeline: %w", err)
			}
			defer p.Close()

			responses, err := p.ResponseCache.ClearExpired()
			if err != nil {
				return err
			}
			searches, err := p.SearchCache.ClearExpired()
			if err != nil {
				return err
			}

			fmt.Printf("purged %d expired responses and %d expired searches\n", responses, searches)
			return nil
		},
	}
}

func clearCommand(settings *conf.Settings) *cobra.Command {
	var (
		responses bool
		searches  bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cache entries regardless of age",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Clearing everything is the sane default for a maintenance command.
			if !responses && !searches {
				responses, searches = true, true
			}

			p, err := pipeline.New(settings)
			if err != nil {
				return fmt.Errorf("failed to build enrichment pipeline: %w", err)
			}
			defer p.Close()

			if responses {
				if err := p.ResponseCache.Clear(); err != nil {
					return err
				}
				fmt.Println("response cache cleared")
			}
			if searches {
				if err := p.SearchCache.Clear(); err != nil {
					return err
				}
				fmt.Println("search cache cleared")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&responses, "responses", false, "Clear only the source response cache")
	cmd.Flags().BoolVar(&searches, "searches", false, "Clear only the identifier search cache")

	return cmd
}

func statsCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print search cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.New(settings)
			if err != nil {
				return fmt.Errorf("failed to build enrichment pipeline: %w", err)
			}
			defer p.Close()

			stats, err := p.SearchCache.Stats()
			if err != nil {
				return err
			}

			fmt.Printf("entries: %d\nexpired: %d\ntotal hits: %d\n",
				stats.Entries, stats.Expired, stats.TotalHits)
			return nil
		},
	}
}
