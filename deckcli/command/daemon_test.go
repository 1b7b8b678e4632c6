package command

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

func (t *Suite) TestDaemonConfigDefaults() {
	req := t.Require()
	cmd := &cobra.Command{}
	opts := &daemonOptions{}
	registerDaemonFlags(cmd, opts)
	req.NoError(cmd.Flags().Set("data-dir", t.T().TempDir()))

	req.NoError(resolveDaemonConfig(cmd, opts))

	req.Equal(defaultRouterAddr, opts.routerAddr)
	req.Empty(opts.watchURL)
	req.Empty(opts.syncDirs)
	req.Zero(opts.refreshEvery)
}

func (t *Suite) TestDaemonConfigFileFillsUnsetValues() {
	req := t.Require()
	dataDir := t.T().TempDir()
	req.NoError(os.WriteFile(
		filepath.Join(dataDir, "config.yaml"),
		[]byte(""+
			"router-addr: 127.0.0.1:8888\n"+
			"watch-url: http://127.0.0.1:9999/watch\n"+
			"sync-dir:\n"+
			"  - /tmp/kubeconfigs\n"+
			"refresh-every: 2m\n"),
		0o644,
	))

	cmd := &cobra.Command{}
	opts := &daemonOptions{}
	registerDaemonFlags(cmd, opts)
	req.NoError(cmd.Flags().Set("data-dir", dataDir))

	req.NoError(resolveDaemonConfig(cmd, opts))

	req.Equal("127.0.0.1:8888", opts.routerAddr)
	req.Equal("http://127.0.0.1:9999/watch", opts.watchURL)
	req.Equal([]string{"/tmp/kubeconfigs"}, opts.syncDirs)
	req.Equal(2*time.Minute, opts.refreshEvery)
}

func (t *Suite) TestDaemonConfigEnvBeatsFileAndFlagBeatsEnv() {
	req := t.Require()
	dataDir := t.T().TempDir()
	req.NoError(os.WriteFile(
		filepath.Join(dataDir, "config.yaml"),
		[]byte(""+
			"router-addr: 127.0.0.1:8888\n"+
			"watch-url: http://file.invalid/watch\n"),
		0o644,
	))
	t.T().Setenv("KUBEDECK_ROUTER_ADDR", "127.0.0.1:7777")
	t.T().Setenv("KUBEDECK_WATCH_URL", "http://env.invalid/watch")

	cmd := &cobra.Command{}
	opts := &daemonOptions{}
	registerDaemonFlags(cmd, opts)
	req.NoError(cmd.Flags().Set("data-dir", dataDir))
	req.NoError(cmd.Flags().Set("watch-url", "http://flag.invalid/watch"))

	req.NoError(resolveDaemonConfig(cmd, opts))

	// the env var wins over config.yaml, and the explicit flag wins over
	// both
	req.Equal("127.0.0.1:7777", opts.routerAddr)
	req.Equal("http://flag.invalid/watch", opts.watchURL)
}

func (t *Suite) TestDaemonConfigRejectsMalformedFile() {
	req := t.Require()
	dataDir := t.T().TempDir()
	req.NoError(os.WriteFile(
		filepath.Join(dataDir, "config.yaml"),
		[]byte("router-addr: [unclosed\n"),
		0o644,
	))

	cmd := &cobra.Command{}
	opts := &daemonOptions{}
	registerDaemonFlags(cmd, opts)
	req.NoError(cmd.Flags().Set("data-dir", dataDir))

	req.Error(resolveDaemonConfig(cmd, opts))
}
