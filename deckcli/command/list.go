package command

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/kubedeck/kubedeck/kubedeck"
	"github.com/kubedeck/kubedeck/pkg/decklog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "lists registered clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context())
		},
	}
}

func runList(ctx context.Context) error {
	var summaries []kubedeck.Summary
	if err := newAPIClient().get(ctx, "/clusters", &summaries); err != nil {
		return err
	}

	logger := decklog.Logger(ctx)
	if len(summaries) == 0 {
		logger.Println("No clusters registered. Try `kubedeck add <kubeconfig>`.")
		return nil
	}

	w := tabwriter.NewWriter(logger, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCONTEXT\tSERVER\tSTATUS\tVERSION")
	for _, summary := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			summary.ID,
			summary.Name,
			summary.ContextName,
			summary.Server,
			statusWord(summary.Status),
			summary.Status.ServerVersion,
		)
	}
	return errors.WithStack(w.Flush())
}

func statusWord(status kubedeck.Status) string {
	switch {
	case status.LastRefresh.IsZero():
		return "unknown"
	case status.Online:
		return "online"
	default:
		return "offline"
	}
}
