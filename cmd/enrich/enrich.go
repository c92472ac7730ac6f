// Package enrich provides the enrich command for Echo
package enrich

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/metadata"
	"github.com/echo-music/echo-server/internal/pipeline"
)

// Command creates and returns the enrich command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		artistID uint
		albumID  uint
		all      bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fetch metadata for library entities from the configured sources",
		Long: `Enrich fills artist biographies, artist images and album covers from the
enabled metadata sources. Populated fields are left alone unless --force is
given. Use --artist or --album for a single entity, or --all for the whole
library.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(settings, artistID, albumID, all, force)
		},
	}

	cmd.Flags().UintVar(&artistID, "artist", 0, "Enrich a single artist by ID")
	cmd.Flags().UintVar(&albumID, "album", 0, "Enrich a single album by ID")
	cmd.Flags().BoolVar(&all, "all", false, "Enrich every artist in the library")
	cmd.Flags().BoolVar(&force, "force", false, "Refresh fields that are already populated")
	cmd.MarkFlagsMutuallyExclusive("artist", "album", "all")

	return cmd
}

func runEnrich(settings *conf.Settings, artistID, albumID uint, all, force bool) error {
	if artistID == 0 && albumID == 0 && !all {
		return fmt.Errorf("nothing to do: pass --artist, --album or --all")
	}

	p, err := pipeline.New(settings)
	if err != nil {
		return fmt.Errorf("failed to build enrichment pipeline: %w", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case artistID != 0:
		result, err := p.Enricher.EnrichArtist(ctx, artistID, force)
		if err != nil {
			return err
		}
		printResult(result)
	case albumID != 0:
		result, err := p.Enricher.EnrichAlbum(ctx, albumID, force)
		if err != nil {
			return err
		}
		printResult(result)
	default:
		results, err := p.Enricher.EnrichAllArtists(ctx, force)
		if err != nil {
			return err
		}
		updated, failed := 0, 0
		for i := range results {
			if len(results[i].UpdatedFields) > 0 {
				updated++
			}
			if len(results[i].Errors) > 0 {
				failed++
			}
			printResult(&results[i])
		}
		fmt.Printf("enriched %d artists: %d updated, %d with source failures\n",
			len(results), updated, failed)
	}

	return nil
}

func printResult(r *metadata.EnrichmentResult) {
	if len(r.UpdatedFields) == 0 && len(r.Errors) == 0 {
		fmt.Printf("%s %d: up to date\n", r.EntityType, r.EntityID)
		return
	}
	if len(r.UpdatedFields) > 0 {
		fmt.Printf("%s %d: updated %s\n", r.EntityType, r.EntityID, strings.Join(r.UpdatedFields, ", "))
	}
	for _, e := range r.Errors {
		fmt.Printf("%s %d: %s\n", r.EntityType, r.EntityID, e)
	}
}
