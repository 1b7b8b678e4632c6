package kubebin

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/kubedeck/kubedeck/goutil/fileutil"
	"github.com/kubedeck/kubedeck/pkg/semver"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Kubectl provisions one kubectl release. Construct one per cluster
// with New; instances for the same release coordinate through the
// version directory's file lock, which also covers independent desktop
// processes racing on first launch.
type Kubectl struct {
	version     string
	dir         string
	path        string
	bundled     bool
	bundledPath string

	fs           afero.Fs
	client       *http.Client
	artifactBase string
	skipVerify   bool
}

type Options struct {
	// Dir is the tool cache root, typically <app-data>/binaries/kubectl.
	// Each release lives in its own subdirectory under it.
	Dir string

	// BundledVersion and BundledPath identify the kubectl shipped with
	// the application. A cluster resolving to the bundled version is
	// served the bundled binary directly, and the bundled path is the
	// fallback whenever provisioning fails.
	BundledVersion string
	BundledPath    string

	// ArtifactBase overrides DefaultArtifactBase.
	ArtifactBase string

	// SkipVerify opts out of the etag integrity check on cached
	// binaries. Existence is still required.
	SkipVerify bool

	Fs         afero.Fs
	HTTPClient *http.Client
}

// New resolves the kubectl release for a cluster's reported server
// version. An unparseable version is the one error New reports; the
// cluster should be refreshed before provisioning is retried.
func New(clusterVersion string, opts Options) (*Kubectl, error) {
	version, err := ResolveVersion(clusterVersion)
	if err != nil {
		return nil, err
	}

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.ArtifactBase == "" {
		opts.ArtifactBase = DefaultArtifactBase
	}

	k := &Kubectl{
		version:      version,
		bundledPath:  opts.BundledPath,
		fs:           opts.Fs,
		client:       opts.HTTPClient,
		artifactBase: opts.ArtifactBase,
		skipVerify:   opts.SkipVerify,
	}
	if opts.BundledPath != "" && sameRelease(version, opts.BundledVersion) {
		k.bundled = true
		k.path = opts.BundledPath
		k.dir = filepath.Dir(opts.BundledPath)
	} else {
		k.dir = filepath.Join(opts.Dir, version)
		k.path = filepath.Join(k.dir, binaryName())
	}
	return k, nil
}

// sameRelease compares release strings semantically, so a stamped
// "v1.25.4" matches a resolved "1.25.4".
func sameRelease(a, b string) bool {
	cmp, err := semver.Compare(strings.TrimPrefix(a, "v"), strings.TrimPrefix(b, "v"))
	if err != nil {
		return a == b
	}
	return cmp == 0
}

// Version is the resolved kubectl release, not the cluster version it
// was resolved from.
func (k *Kubectl) Version() string { return k.version }

// Path is where the binary lives once ensured. Prefer GetPath, which
// also ensures.
func (k *Kubectl) Path() string { return k.path }

// BinDir is the directory holding the binary and its shell init
// snippets.
func (k *Kubectl) BinDir() string { return k.dir }

// GetPath ensures the binary and returns its path. It never fails:
// when provisioning does not produce a usable binary, the bundled
// kubectl path is returned instead.
func (k *Kubectl) GetPath(ctx context.Context) string {
	if err := k.EnsureKubectl(ctx); err != nil {
		logrus.WithError(err).Warnf("falling back to bundled kubectl for %s", k.version)
		return k.bundledPath
	}
	if !k.bundled {
		if err := k.WriteInitScripts(); err != nil {
			logrus.WithError(err).Warnf("could not write shell init scripts for kubectl %s", k.version)
		}
	}
	return k.path
}

// EnsureKubectl checks the cached binary for this release and repairs
// or downloads it as needed. The whole check-repair-download step runs
// under the version directory's file lock: concurrent callers for the
// same release serialize, callers for different releases proceed
// independently.
func (k *Kubectl) EnsureKubectl(ctx context.Context) error {
	if k.bundled {
		return nil
	}
	if err := k.fs.MkdirAll(k.dir, 0755); err != nil {
		return errors.Wrapf(err, "could not create %s", k.dir)
	}

	fileLock := flock.New(filepath.Join(k.dir, ".lock"))
	locked, err := fileLock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return errors.Wrapf(err, "could not acquire lock for kubectl %s", k.version)
	}
	if !locked {
		return errors.Errorf("could not acquire lock for kubectl %s", k.version)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logrus.WithError(err).Warnf("failed to release lock for kubectl %s", k.version)
		}
	}()

	if k.checkBinary(ctx) {
		return nil
	}
	return k.download(ctx)
}

// checkBinary reports whether the cached binary can be used as is. A
// binary that exists passes when verification is skipped, when its MD5
// matches the artifact's etag, or when the etag probe itself fails. A
// real mismatch removes the stale binary so the caller downloads a
// fresh copy.
func (k *Kubectl) checkBinary(ctx context.Context) bool {
	exists, err := afero.Exists(k.fs, k.path)
	if err != nil || !exists {
		return false
	}
	if k.skipVerify {
		return true
	}

	etag, err := k.remoteEtag(ctx)
	if err != nil {
		logrus.WithError(err).Debugf("etag probe failed, assuming kubectl %s is valid", k.version)
		return true
	}
	sum, err := fileutil.MD5(k.fs, k.path)
	if err != nil {
		logrus.WithError(err).Warnf("could not hash cached kubectl %s", k.version)
		return false
	}
	if sum == etag {
		return true
	}

	logrus.Warnf("cached kubectl %s does not match the remote artifact, deleting it", k.version)
	if err := k.fs.Remove(k.path); err != nil {
		logrus.WithError(err).Warnf("could not delete stale kubectl at %s", k.path)
	}
	return false
}
