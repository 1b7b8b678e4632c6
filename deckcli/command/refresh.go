package command

import (
	"context"

	"github.com/kubedeck/kubedeck/kubedeck"
	"github.com/kubedeck/kubedeck/pkg/decklog"
	"github.com/spf13/cobra"
)

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [cluster-id]",
		Short: "refreshes cluster metadata (server version, event count)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runRefresh(cmd.Context(), args[0])
			}
			return runRefreshAll(cmd.Context())
		},
	}
}

func runRefresh(ctx context.Context, id string) error {
	var status kubedeck.Status
	var probeErr error
	decklog.Logger(ctx).WithSpinnerFuncPrint(func() {
		probeErr = newAPIClient().post(ctx, "/clusters/"+id+"/refresh", nil, &status)
	}, "Probing cluster "+id)
	if probeErr != nil {
		return probeErr
	}
	printStatus(ctx, id, status)
	return nil
}

func runRefreshAll(ctx context.Context) error {
	client := newAPIClient()
	var summaries []kubedeck.Summary
	if err := client.get(ctx, "/clusters", &summaries); err != nil {
		return err
	}

	logger := decklog.Logger(ctx)
	if len(summaries) == 0 {
		logger.Println("No clusters registered.")
		return nil
	}
	for _, summary := range summaries {
		var status kubedeck.Status
		if err := client.post(ctx, "/clusters/"+summary.ID+"/refresh", nil, &status); err != nil {
			logger.WarningPrintf("%s: %v\n", summary.Name, err)
			continue
		}
		printStatus(ctx, summary.Name, status)
	}
	return nil
}

func printStatus(ctx context.Context, label string, status kubedeck.Status) {
	logger := decklog.Logger(ctx)
	if !status.Online {
		logger.WarningPrintf("%s: offline\n", label)
		return
	}
	logger.Printf("%s: online, %s, %d events\n", label, status.ServerVersion, status.EventCount)
}
