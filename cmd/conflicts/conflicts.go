// Package conflicts provides the conflicts command for Echo
package conflicts

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/pipeline"
)

// resolvedBy recorded on conflicts closed from the command line.
const cliUser = "cli"

// Command creates and returns the conflicts command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Review and resolve metadata conflicts",
		Long: `Conflicts lists pending metadata suggestions and applies the reviewer's
decision. Accepting a conflict writes the suggested value to the entity,
rejecting or ignoring closes it without touching the entity.`,
	}

	cmd.AddCommand(listCommand(settings))
	cmd.AddCommand(decisionCommand(settings, "accept", "Apply the suggested value and close the conflict"))
	cmd.AddCommand(decisionCommand(settings, "reject", "Close the conflict without applying the suggestion"))
	cmd.AddCommand(decisionCommand(settings, "ignore", "Close the conflict and keep the current value"))

	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var filter datastore.ConflictFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List metadata conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(settings, filter)
		},
	}

	cmd.Flags().StringVar(&filter.Status, "status", datastore.ConflictPending, "Filter by status (pending, accepted, rejected, ignored); empty for all")
	cmd.Flags().StringVar(&filter.EntityType, "entity", "", "Filter by entity type (artist, album, track)")
	cmd.Flags().StringVar(&filter.Source, "source", "", "Filter by suggesting source")
	cmd.Flags().StringVar(&filter.Priority, "priority", "", "Filter by priority (low, medium, high)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of conflicts to list")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Number of conflicts to skip")

	return cmd
}

func runList(settings *conf.Settings, filter datastore.ConflictFilter) error {
	p, err := pipeline.New(settings)
	if err != nil {
		return fmt.Errorf("failed to build enrichment pipeline: %w", err)
	}
	defer p.Close()

	rows, total, err := p.Ledger.List(filter)
	if err != nil {
		return err
	}

	if total == 0 {
		fmt.Println("no conflicts found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENTITY\tFIELD\tCURRENT\tSUGGESTED\tSOURCE\tPRIORITY\tSTATUS")
	for i := range rows {
		c := &rows[i]
		fmt.Fprintf(w, "%d\t%s %d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.EntityType, c.EntityID, c.Field,
			truncate(c.CurrentValue, 40), truncate(c.SuggestedValue, 40),
			c.Source, c.Priority, c.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("%d of %d conflicts\n", len(rows), total)
	return nil
}

func decisionCommand(settings *conf.Settings, verb, short string) *cobra.Command {
	var resolvedBy string

	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid conflict id %q", args[0])
			}
			return runDecision(settings, verb, uint(id), resolvedBy)
		},
	}

	cmd.Flags().StringVar(&resolvedBy, "by", cliUser, "Reviewer recorded on the conflict")

	return cmd
}

func runDecision(settings *conf.Settings, verb string, id uint, resolvedBy string) error {
	p, err := pipeline.New(settings)
	if err != nil {
		return fmt.Errorf("failed to build enrichment pipeline: %w", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var status string
	switch verb {
	case "accept":
		status = datastore.ConflictAccepted
		err = p.Ledger.Accept(ctx, id, resolvedBy)
	case "reject":
		status = datastore.ConflictRejected
		err = p.Ledger.Reject(id, resolvedBy)
	case "ignore":
		status = datastore.ConflictIgnored
		err = p.Ledger.Ignore(id, resolvedBy)
	}
	if err != nil {
		return err
	}

	fmt.Printf("conflict %d %s\n", id, status)
	return nil
}

func truncate(s string, n int) string {
	if s == "" {
		return "-"
	}
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
