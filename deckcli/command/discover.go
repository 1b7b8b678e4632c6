package command

import (
	"context"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/kubedeck/kubedeck/kubedeck"
	"github.com/kubedeck/kubedeck/pkg/decklog"
	"github.com/kubedeck/kubedeck/pkg/localclusters"
	"github.com/spf13/cobra"
)

type discoverOptions struct {
	doImport  bool
	exportDir string
}

func discoverCmd() *cobra.Command {
	opts := &discoverOptions{}

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "finds kind clusters on this machine",
		Long: heredoc.Doc(`
			Lists the kind clusters running on the local container runtime.
			With --import, each cluster's kubeconfig is exported into the
			kubedeck data directory and registered with the daemon.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd.Context(), opts)
		},
	}

	discoverCmd.Flags().BoolVar(
		&opts.doImport,
		"import",
		false,
		"register every discovered cluster with the daemon",
	)
	discoverCmd.Flags().StringVar(
		&opts.exportDir,
		"export-dir",
		filepath.Join(defaultDataDir(), "localclusters"),
		"directory receiving exported kubeconfig files",
	)
	return discoverCmd
}

func runDiscover(ctx context.Context, opts *discoverOptions) error {
	provider, err := localclusters.New(localclusters.Options{Dir: opts.exportDir})
	if err != nil {
		return err
	}

	logger := decklog.Logger(ctx)
	var names []string
	var listErr error
	logger.WithSpinnerFuncPrint(func() {
		names, listErr = provider.List()
	}, "Scanning for kind clusters")
	if listErr != nil {
		return listErr
	}

	if len(names) == 0 {
		logger.Println("No kind clusters found.")
		return nil
	}
	for _, name := range names {
		logger.Printf("kind cluster: %s\n", name)
	}
	if !opts.doImport {
		logger.Println("Run again with --import to register them.")
		return nil
	}

	client := newAPIClient()
	for _, name := range names {
		local, err := provider.Export(name)
		if err != nil {
			logger.WarningPrintf("%s: %v\n", name, err)
			continue
		}
		var result kubedeck.AddResult
		err = client.post(ctx, "/clusters",
			map[string]string{"path": local.KubeconfigPath}, &result)
		if err != nil {
			logger.WarningPrintf("%s: %v\n", name, err)
			continue
		}
		for _, summary := range result.Added {
			logger.Printf("Registered %s as %s\n", summary.Name, summary.ID)
		}
		for _, skipped := range result.Skipped {
			logger.WarningPrintf("Skipped context %s: %s\n", skipped.ContextName, skipped.Reason)
		}
	}
	return nil
}
