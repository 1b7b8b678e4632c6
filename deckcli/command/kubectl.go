package command

import (
	"context"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/kubedeck/kubedeck/kubedeck"
	"github.com/kubedeck/kubedeck/pkg/buildstamp"
	"github.com/kubedeck/kubedeck/pkg/cmdutil"
	"github.com/kubedeck/kubedeck/pkg/kubebin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func kubectlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kubectl <cluster-id> [-- args...]",
		Short: "runs kubectl matched to a cluster's version",
		Long: heredoc.Doc(`
			Runs kubectl against a registered cluster, using a binary
			matched to the cluster's server version (downloaded on first
			use) and the cluster's own kubeconfig. Everything after the
			cluster id is passed to kubectl unchanged.
		`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKubectl(cmd.Context(), args[0], args[1:])
		},
	}
}

func runKubectl(ctx context.Context, clusterID string, extraArgs []string) error {
	client := newAPIClient()
	var summary kubedeck.Summary
	if err := client.get(ctx, "/clusters/"+clusterID, &summary); err != nil {
		return err
	}

	version := summary.Status.ServerVersion
	if version == "" {
		// never refreshed; one probe gets us the version to match
		var status kubedeck.Status
		if err := client.post(ctx, "/clusters/"+clusterID+"/refresh", nil, &status); err == nil {
			version = status.ServerVersion
		}
	}

	stamp := buildstamp.Get()
	path := stamp.BundledKubectl()
	if version != "" {
		kubectl, err := kubebin.New(version, kubebin.Options{
			Dir:            filepath.Join(defaultDataDir(), "binaries", "kubectl"),
			BundledVersion: buildstamp.BundledKubectlVersion,
			BundledPath:    stamp.BundledKubectl(),
			ArtifactBase:   cmdOpts.ArtifactProvider().BaseURL(),
		})
		if err != nil {
			return err
		}
		path = kubectl.GetPath(ctx)
	}

	kubectlArgs := append([]string{"--context", summary.ContextName}, extraArgs...)
	run := cmdutil.CommandTTYEnv(
		[]string{"KUBECONFIG=" + summary.KubeconfigPath},
		path,
		kubectlArgs...,
	)
	return errors.WithStack(run.Run())
}
