package command

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/joho/godotenv"
	"github.com/kubedeck/kubedeck/kubedeck"
	"github.com/kubedeck/kubedeck/pkg/kubestream"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const defaultRouterAddr = "127.0.0.1:5600"

type daemonOptions struct {
	dataDir      string
	routerAddr   string
	watchURL     string
	syncDirs     []string
	refreshEvery time.Duration
}

func daemonCmd() *cobra.Command {
	opts := &daemonOptions{}

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "runs the kubedeck control plane",
		Long: heredoc.Doc(`
			Runs the kubedeck control plane: the cluster registry with its
			per-cluster authenticating proxies, the single-origin cluster
			router, the multiplexed watch stream client, the kubeconfig
			directory sync, and the local command API that every other
			kubedeck verb (and the UI) talks to.

			Configuration is resolved from flags, KUBEDECK_* environment
			variables and an optional config.yaml in the data directory,
			in that order of precedence. A .env file in the working
			directory is loaded first when present.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolveDaemonConfig(cmd, opts); err != nil {
				return err
			}
			return runDaemon(cmd.Context(), opts)
		},
	}

	registerDaemonFlags(daemonCmd, opts)
	return daemonCmd
}

func registerDaemonFlags(cmd *cobra.Command, opts *daemonOptions) {
	cmd.Flags().StringVar(
		&opts.dataDir,
		"data-dir",
		defaultDataDir(),
		"directory holding the cluster db, managed kubeconfigs, icons and kubectl binaries",
	)
	cmd.Flags().StringVar(
		&opts.routerAddr,
		"router-addr",
		defaultRouterAddr,
		"address the cluster request router listens on",
	)
	cmd.Flags().StringVar(
		&opts.watchURL,
		"watch-url",
		"",
		"base URL of the upstream watch push endpoint; empty disables live streaming",
	)
	cmd.Flags().StringSliceVar(
		&opts.syncDirs,
		"sync-dir",
		nil,
		"directory to mirror kubeconfig files from (repeatable)",
	)
	cmd.Flags().DurationVar(
		&opts.refreshEvery,
		"refresh-every",
		0,
		"refresh all cluster metadata on this interval; 0 disables",
	)
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "kubedeck")
}

// resolveDaemonConfig layers flag < env < config file values into opts.
// Flags keep the highest precedence; env vars are KUBEDECK_DATA_DIR and
// friends; the file is an optional config.yaml inside the data dir.
func resolveDaemonConfig(cmd *cobra.Command, opts *daemonOptions) error {
	// developer convenience; a missing .env is the normal case
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("kubedeck")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"data-dir", "router-addr", "watch-url", "sync-dir", "refresh-every"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return errors.Wrapf(err, "Error binding flag %s", name)
		}
	}

	v.SetConfigFile(filepath.Join(v.GetString("data-dir"), "config.yaml"))
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return errors.Wrap(err, "Error reading config.yaml")
		}
	} else {
		logrus.Debugf("loaded config from %s", v.ConfigFileUsed())
	}

	opts.dataDir = v.GetString("data-dir")
	opts.routerAddr = v.GetString("router-addr")
	opts.watchURL = v.GetString("watch-url")
	opts.syncDirs = v.GetStringSlice("sync-dir")
	opts.refreshEvery = v.GetDuration("refresh-every")
	return nil
}

func runDaemon(ctx context.Context, opts *daemonOptions) error {
	if err := os.MkdirAll(opts.dataDir, 0755); err != nil {
		return errors.Wrap(err, "Error creating the data directory")
	}

	store, err := cmdOpts.StoreProvider().Open(opts.dataDir)
	if err != nil {
		return errors.Wrap(err, "Error opening the cluster store")
	}

	hub, err := kubedeck.New(kubedeck.Options{
		Store:        store,
		DataDir:      opts.dataDir,
		ArtifactBase: cmdOpts.ArtifactProvider().BaseURL(),
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logrus.WithError(err).Warn("hub shutdown was not clean")
		}
	}()

	if err := hub.LoadPersisted(ctx); err != nil {
		return err
	}

	streamClient := kubestream.NewClient(opts.watchURL, kubestream.Options{})
	streams := kubedeck.NewStreamManager(streamClient)
	api := kubedeck.NewAPI(hub, streams)
	router := kubedeck.NewRouter(hub)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return errors.Wrap(api.Start(groupCtx, cmdOpts.RootFlags().APIAddr), "command api failed")
	})
	group.Go(func() error {
		return errors.Wrap(serveRouter(groupCtx, router, opts.routerAddr), "cluster router failed")
	})
	if opts.watchURL != "" {
		group.Go(func() error {
			return errors.Wrap(streamClient.Run(groupCtx), "watch stream client failed")
		})
	} else {
		logrus.Info("watch streaming disabled: no watch url configured")
	}
	if len(opts.syncDirs) > 0 {
		syncer := kubedeck.NewSyncer(hub, kubedeck.SyncOptions{Dirs: opts.syncDirs})
		group.Go(func() error {
			return errors.Wrap(syncer.Run(groupCtx), "kubeconfig sync failed")
		})
	}
	if opts.refreshEvery > 0 {
		group.Go(func() error {
			return refreshLoop(groupCtx, hub, opts.refreshEvery)
		})
	}

	logrus.Infof("kubedeck daemon up: api on %s, router on %s, data in %s",
		cmdOpts.RootFlags().APIAddr, opts.routerAddr, opts.dataDir)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveRouter(ctx context.Context, router http.Handler, addr string) error {
	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Debug("router shutdown did not drain")
		}
	}()

	logrus.Infof("cluster router listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithStack(err)
	}
	return nil
}

func refreshLoop(ctx context.Context, hub *kubedeck.Hub, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := hub.RefreshAll(ctx); err != nil {
				logrus.WithError(err).Warn("periodic refresh failed")
			}
		}
	}
}
