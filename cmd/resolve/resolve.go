// Package resolve provides the resolve command for Echo
package resolve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/metadata"
	"github.com/echo-music/echo-server/internal/pipeline"
)

// Command creates and returns the resolve command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		artistID uint
		albumID  uint
		trackID  uint
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve missing canonical identifiers",
		Long: `Resolve searches the authoritative source for entities that lack a
canonical identifier. High-confidence matches are applied directly,
mid-confidence matches become review conflicts and the rest are ignored.
Requires enrichment.autosearch.enabled in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(settings, artistID, albumID, trackID, all)
		},
	}

	cmd.Flags().UintVar(&artistID, "artist", 0, "Resolve a single artist by ID")
	cmd.Flags().UintVar(&albumID, "album", 0, "Resolve a single album by ID")
	cmd.Flags().UintVar(&trackID, "track", 0, "Resolve a single track by ID")
	cmd.Flags().BoolVar(&all, "all", false, "Resolve every artist and album missing an identifier")
	cmd.MarkFlagsMutuallyExclusive("artist", "album", "track", "all")

	return cmd
}

func runResolve(settings *conf.Settings, artistID, albumID, trackID uint, all bool) error {
	if artistID == 0 && albumID == 0 && trackID == 0 && !all {
		return fmt.Errorf("nothing to do: pass --artist, --album, --track or --all")
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
		outcome, err := p.Resolver.ResolveArtist(ctx, artistID)
		if err != nil {
			return err
		}
		printOutcome("artist", artistID, outcome)
	case albumID != 0:
		outcome, err := p.Resolver.ResolveAlbum(ctx, albumID)
		if err != nil {
			return err
		}
		printOutcome("album", albumID, outcome)
	case trackID != 0:
		outcome, err := p.Resolver.ResolveTrack(ctx, trackID)
		if err != nil {
			return err
		}
		printOutcome("track", trackID, outcome)
	default:
		return resolveAll(ctx, p)
	}

	return nil
}

// resolveAll walks the library and resolves artists and albums with an empty
// identifier. Per-entity failures are reported and skipped so one bad record
// does not stop the sweep.
func resolveAll(ctx context.Context, p *pipeline.Pipeline) error {
	artists, err := p.Store.GetAllArtists()
	if err != nil {
		return err
	}

	actions := make(map[string]int)
	for i := range artists {
		if err := ctx.Err(); err != nil {
			return err
		}
		if artists[i].MusicBrainzID == "" {
			outcome, err := p.Resolver.ResolveArtist(ctx, artists[i].ID)
			if err != nil {
				fmt.Printf("artist %d: %v\n", artists[i].ID, err)
			} else {
				actions[outcome.Action]++
				printOutcome("artist", artists[i].ID, outcome)
			}
		}

		albums, err := p.Store.GetAlbumsByArtist(artists[i].ID)
		if err != nil {
			fmt.Printf("artist %d: %v\n", artists[i].ID, err)
			continue
		}
		for j := range albums {
			if albums[j].MusicBrainzID != "" {
				continue
			}
			outcome, err := p.Resolver.ResolveAlbum(ctx, albums[j].ID)
			if err != nil {
				fmt.Printf("album %d: %v\n", albums[j].ID, err)
				continue
			}
			actions[outcome.Action]++
			printOutcome("album", albums[j].ID, outcome)
		}
	}

	fmt.Printf("resolved: %d applied, %d for review, %d ignored, %d without results\n",
		actions[metadata.ActionAutoApplied], actions[metadata.ActionConflictCreated],
		actions[metadata.ActionIgnored], actions[metadata.ActionNoResults])
	return nil
}

func printOutcome(entityType string, id uint, o *metadata.ResolveOutcome) {
	switch o.Action {
	case metadata.ActionAutoApplied:
		fmt.Printf("%s %d: applied %s (%q, score %d)\n",
			entityType, id, o.TopMatch.ID, o.TopMatch.Name, o.TopMatch.Score)
	case metadata.ActionConflictCreated:
		fmt.Printf("%s %d: %d suggestions queued for review (best %q, score %d)\n",
			entityType, id, len(o.Suggestions), o.TopMatch.Name, o.TopMatch.Score)
	default:
		if o.Reason != "" {
			fmt.Printf("%s %d: %s (%s)\n", entityType, id, o.Action, o.Reason)
		} else {
			fmt.Printf("%s %d: %s\n", entityType, id, o.Action)
		}
	}
}
