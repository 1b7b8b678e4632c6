package command

import (
	"context"

	"github.com/kubedeck/kubedeck/pkg/decklog"
	"github.com/spf13/cobra"
)

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <cluster-id>",
		Short: "removes a registered cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), args[0])
		},
	}
}

func runRemove(ctx context.Context, id string) error {
	if err := newAPIClient().delete(ctx, "/clusters/"+id); err != nil {
		return err
	}
	decklog.Logger(ctx).Printf("Removed %s\n", id)
	return nil
}
