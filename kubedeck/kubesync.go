package kubedeck

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bep/debounce"
	"github.com/pkg/errors"
	"github.com/radovskyb/watcher"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// A .deckignore in a synced directory excludes files from sync with
// gitignore patterns.
const ignoreFileName = ".deckignore"

type SyncOptions struct {
	// Dirs are watched, non-recursively, for kubeconfig files.
	Dirs []string

	// PollInterval is the directory polling cadence.
	PollInterval time.Duration

	// Settle batches bursts of file events into one resync.
	Settle time.Duration
}

// Syncer mirrors kubeconfig directories into the hub: files that show
// up get their contexts registered, files that disappear get their
// clusters removed.
type Syncer struct {
	hub       *Hub
	dirs      []string
	poll      time.Duration
	debounced func(func())
}

func NewSyncer(hub *Hub, opts SyncOptions) *Syncer {
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Settle == 0 {
		opts.Settle = 500 * time.Millisecond
	}
	return &Syncer{
		hub:       hub,
		dirs:      opts.Dirs,
		poll:      opts.PollInterval,
		debounced: debounce.New(opts.Settle),
	}
}

// Run performs an initial sync and then watches until the context is
// canceled.
func (s *Syncer) Run(ctx context.Context) error {
	if len(s.dirs) == 0 {
		return nil
	}

	w := watcher.New()
	w.FilterOps(watcher.Create, watcher.Write, watcher.Remove, watcher.Rename, watcher.Move)
	for _, dir := range s.dirs {
		if err := w.Add(dir); err != nil {
			logrus.WithError(err).Warnf("cannot watch kubeconfig dir %s", dir)
		}
	}

	s.resync(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				w.Close()
				return
			case event := <-w.Event:
				logrus.Debugf("kubeconfig sync event: %s", event)
				s.debounced(func() { s.resync(ctx) })
			case err := <-w.Error:
				logrus.WithError(err).Debug("kubeconfig sync watcher error")
			case <-w.Closed:
				return
			}
		}
	}()

	if err := w.Start(s.poll); err != nil {
		return errors.Wrap(err, "could not start the kubeconfig sync watcher")
	}
	return nil
}

// resync reconciles the hub against the current directory contents.
// Registration is idempotent, so re-adding unchanged files is cheap.
func (s *Syncer) resync(ctx context.Context) {
	seen := map[string]struct{}{}
	for _, dir := range s.dirs {
		for _, path := range s.scanDir(dir) {
			seen[path] = struct{}{}
			if _, err := s.hub.Add(ctx, path); err != nil {
				// not every file in a synced dir is a kubeconfig
				logrus.WithError(err).Debugf("sync skipped %s", path)
			}
		}
	}

	for _, summary := range s.hub.List() {
		if !s.underSyncDir(summary.KubeconfigPath) {
			continue
		}
		if _, ok := seen[summary.KubeconfigPath]; ok {
			continue
		}
		if err := s.hub.Remove(ctx, summary.ID); err != nil {
			logrus.WithError(err).Warnf("sync could not remove cluster %s", summary.ID)
			continue
		}
		logrus.Infof("sync removed cluster %s: %s is gone", summary.ID, summary.KubeconfigPath)
	}
}

func (s *Syncer) scanDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logrus.WithError(err).Debugf("cannot read kubeconfig dir %s", dir)
		return nil
	}
	matcher := s.ignoreMatcher(dir)

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if matcher != nil && matcher.MatchesPath(name) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths
}

func (s *Syncer) ignoreMatcher(dir string) *ignore.GitIgnore {
	matcher, err := ignore.CompileIgnoreFile(filepath.Join(dir, ignoreFileName))
	if err != nil {
		return nil
	}
	return matcher
}

func (s *Syncer) underSyncDir(path string) bool {
	return lo.Contains(s.dirs, filepath.Dir(path))
}
