package kubedeck

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/imdario/mergo"
	"github.com/kubedeck/kubedeck/goutil/errorutil"
	"github.com/kubedeck/kubedeck/pkg/buildstamp"
	"github.com/kubedeck/kubedeck/pkg/clusterstore"
	"github.com/kubedeck/kubedeck/pkg/deckmetrics"
	"github.com/kubedeck/kubedeck/pkg/kubebin"
	"github.com/kubedeck/kubedeck/pkg/kubeconfig"
	"github.com/kubedeck/kubedeck/pkg/nodeshell"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

type Options struct {
	// Store persists cluster records. Required.
	Store clusterstore.Store

	// DataDir is the app-data root; icons, pasted kubeconfigs and
	// provisioned binaries live under it.
	DataDir string

	// BinaryDir overrides <DataDir>/binaries/kubectl as the kubectl
	// cache. Empty alongside an empty DataDir disables provisioning.
	BinaryDir string

	// BundledKubectlVersion and BundledKubectlPath override the
	// build-stamped bundled binary.
	BundledKubectlVersion string
	BundledKubectlPath    string

	// ArtifactBase overrides the kubectl artifact host.
	ArtifactBase string

	Fs         afero.Fs
	HTTPClient *http.Client
}

// Hub is the cluster registry. It owns the id-keyed arena of live
// cluster contexts, the durable record store beneath them, and the
// session token every proxied request must carry. All operations are
// idempotent per id and serialized per id, never across ids.
type Hub struct {
	store          clusterstore.Store
	fs             afero.Fs
	httpClient     *http.Client
	dataDir        string
	binaryDir      string
	artifactBase   string
	bundledVersion string
	bundledPath    string
	token          string

	mu       sync.RWMutex
	clusters map[string]*Cluster
	locks    *idLock
}

func New(opts Options) (*Hub, error) {
	if opts.Store == nil {
		return nil, errors.New("hub requires a cluster store")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.BinaryDir == "" && opts.DataDir != "" {
		opts.BinaryDir = filepath.Join(opts.DataDir, "binaries", "kubectl")
	}
	if opts.BundledKubectlVersion == "" {
		opts.BundledKubectlVersion = buildstamp.BundledKubectlVersion
	}
	if opts.BundledKubectlPath == "" {
		opts.BundledKubectlPath = buildstamp.Get().BundledKubectl()
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	return &Hub{
		store:          opts.Store,
		fs:             opts.Fs,
		httpClient:     opts.HTTPClient,
		dataDir:        opts.DataDir,
		binaryDir:      opts.BinaryDir,
		artifactBase:   opts.ArtifactBase,
		bundledVersion: opts.BundledKubectlVersion,
		bundledPath:    opts.BundledKubectlPath,
		token:          token,
		clusters:       map[string]*Cluster{},
		locks:          newIDLock(),
	}, nil
}

// Token is the session token proxied requests must present in
// AuthHeader. It never leaves the local machine.
func (h *Hub) Token() string {
	return h.token
}

// LoadPersisted rebuilds the in-memory arena from the record store.
// Proxies are not started; they come up on first activation.
func (h *Hub) LoadPersisted(ctx context.Context) error {
	records, err := h.store.ListClusters()
	if err != nil {
		return errors.WithStack(err)
	}
	h.mu.Lock()
	for _, record := range records {
		h.clusters[record.ID] = newCluster(record, h.token)
	}
	count := len(h.clusters)
	h.mu.Unlock()

	deckmetrics.SetClustersRegistered(count)
	logrus.Infof("restored %d registered clusters", count)
	return nil
}

// Add registers every usable context of the kubeconfig at path.
// Records keep pointing at the file, so later credential rotations in
// it are picked up. Contexts already registered from the same file are
// skipped.
func (h *Hub) Add(ctx context.Context, path string) (*AddResult, error) {
	cfg, err := kubeconfig.LoadFile(path)
	if err != nil {
		return nil, errorutil.CombinedError(err, errUserKubeconfigUnreadable)
	}
	return h.register(ctx, cfg, path)
}

// AddContent registers every usable context of a pasted kubeconfig
// document. Each context is written to its own file under the app-data
// dir, since there is no source file to point back at.
func (h *Hub) AddContent(ctx context.Context, raw []byte) (*AddResult, error) {
	cfg, err := kubeconfig.Load(raw)
	if err != nil {
		return nil, errorutil.CombinedError(err, errUserKubeconfigUnreadable)
	}
	return h.register(ctx, cfg, "")
}

const reasonAlreadyRegistered = "already registered"

func (h *Hub) register(ctx context.Context, cfg *clientcmdapi.Config, sourcePath string) (*AddResult, error) {
	splits := kubeconfig.Split(cfg)
	if len(splits) == 0 {
		return nil, errors.WithStack(errNoUsableContexts)
	}

	result := &AddResult{}
	for _, split := range splits {
		if split.Err != nil {
			result.Skipped = append(result.Skipped, SkippedContext{split.ContextName, split.Err.Error()})
			continue
		}
		if err := kubeconfig.Validate(split.Config); err != nil {
			result.Skipped = append(result.Skipped, SkippedContext{split.ContextName, err.Error()})
			continue
		}
		if sourcePath != "" && h.isRegistered(sourcePath, split.ContextName) {
			result.Skipped = append(result.Skipped, SkippedContext{split.ContextName, reasonAlreadyRegistered})
			continue
		}

		record, err := h.buildRecord(split, sourcePath)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedContext{split.ContextName, err.Error()})
			continue
		}
		if err := h.store.StoreCluster(record); err != nil {
			return result, errors.WithStack(err)
		}
		cluster := newCluster(record, h.token)
		h.mu.Lock()
		h.clusters[record.ID] = cluster
		h.mu.Unlock()
		result.Added = append(result.Added, cluster.Summary())
		logrus.Infof("registered cluster %s (context %s)", record.ID, record.ContextName)
	}

	h.publishClusterCount()
	if len(result.Added) == 0 {
		// Re-adding a fully registered file is a no-op, not a failure;
		// the sync watcher does it on every pass.
		allKnown := len(result.Skipped) > 0 && lo.EveryBy(result.Skipped, func(skip SkippedContext) bool {
			return skip.Reason == reasonAlreadyRegistered
		})
		if !allKnown {
			return result, errors.WithStack(errNoUsableContexts)
		}
	}
	return result, nil
}

func (h *Hub) buildRecord(split kubeconfig.SplitResult, sourcePath string) (*clusterstore.Record, error) {
	id := newClusterID()
	path := sourcePath
	if path == "" {
		path = filepath.Join(h.dataDir, "kubeconfigs", id)
		if err := kubeconfig.WriteToFile(split.Config, path); err != nil {
			return nil, err
		}
	}
	server, err := kubeconfig.Server(split.Config, split.ContextName)
	if err != nil {
		return nil, err
	}
	return &clusterstore.Record{
		ID:             id,
		ContextName:    split.ContextName,
		KubeconfigPath: path,
		Server:         server,
	}, nil
}

func (h *Hub) isRegistered(path, contextName string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cluster := range h.clusters {
		record := cluster.Record()
		if record.KubeconfigPath == path && record.ContextName == contextName {
			return true
		}
	}
	return false
}

// Get returns the live context for id, or ErrClusterNotFound.
func (h *Hub) Get(id string) (*Cluster, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cluster, ok := h.clusters[id]
	if !ok {
		return nil, errors.Wrapf(ErrClusterNotFound, "cluster %s", id)
	}
	return cluster, nil
}

// List returns every registered cluster ordered by registration time.
func (h *Hub) List() []Summary {
	h.mu.RLock()
	clusters := lo.Values(h.clusters)
	h.mu.RUnlock()

	summaries := lo.Map(clusters, func(cluster *Cluster, _ int) Summary {
		return cluster.Summary()
	})
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Remove deregisters a cluster: proxy stopped, record dropped, arena
// entry deleted. Removing an unknown id is a no-op.
func (h *Hub) Remove(ctx context.Context, id string) error {
	release := h.locks.lock(id)
	defer release()

	h.mu.Lock()
	cluster, ok := h.clusters[id]
	delete(h.clusters, id)
	h.mu.Unlock()

	var record clusterstore.Record
	if ok {
		record = cluster.Record()
		cluster.StopProxy(ctx)
	}
	if err := h.store.RemoveCluster(id); err != nil {
		return errors.WithStack(err)
	}
	if ok {
		h.removeManagedKubeconfig(record.KubeconfigPath)
		logrus.Infof("removed cluster %s (context %s)", id, record.ContextName)
	}
	h.publishClusterCount()
	return nil
}

// removeManagedKubeconfig deletes kubeconfig files the hub wrote
// itself. Files the user pointed us at are left alone.
func (h *Hub) removeManagedKubeconfig(path string) {
	if h.dataDir == "" {
		return
	}
	managed := filepath.Join(h.dataDir, "kubeconfigs") + string(os.PathSeparator)
	if !strings.HasPrefix(path, managed) {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debugf("could not remove managed kubeconfig %s", path)
	}
}

// Refresh probes the cluster, caches the fresh status and provisions
// the kubectl release matching the reported server version.
func (h *Hub) Refresh(ctx context.Context, id string) (Status, error) {
	release := h.locks.lock(id)
	defer release()

	cluster, err := h.Get(id)
	if err != nil {
		return Status{}, err
	}
	status, err := cluster.Refresh(ctx)
	if err != nil {
		deckmetrics.CountClusterRefreshError(id)
		logrus.WithError(err).Warnf("refresh for cluster %s failed", id)
		return status, errorutil.CombinedError(err, errUserClusterUnreachable)
	}
	if status.ServerVersion != "" {
		h.provisionKubectl(ctx, id, status.ServerVersion)
	}
	return status, nil
}

// RefreshAll refreshes every registered cluster in parallel. Probe
// failures are reported through metrics and logs, not as an error;
// only a broken hub state fails the call.
func (h *Hub) RefreshAll(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, summary := range h.List() {
		id := summary.ID
		group.Go(func() error {
			if _, err := h.Refresh(groupCtx, id); err != nil {
				logrus.WithError(err).Debugf("refresh for cluster %s failed", id)
			}
			return nil
		})
	}
	return group.Wait()
}

// Activate starts the cluster's proxy and persists the bound port so
// the next daemon run tries the same one.
func (h *Hub) Activate(ctx context.Context, id string) (Summary, error) {
	release := h.locks.lock(id)
	defer release()

	cluster, err := h.Get(id)
	if err != nil {
		return Summary{}, err
	}
	if _, err := cluster.StartProxy(ctx); err != nil {
		return Summary{}, err
	}
	record := cluster.Record()
	if err := h.store.StoreCluster(&record); err != nil {
		return Summary{}, errors.WithStack(err)
	}
	return cluster.Summary(), nil
}

// Stop stops the cluster's proxy and nothing else; the registration
// stays.
func (h *Hub) Stop(ctx context.Context, id string) error {
	release := h.locks.lock(id)
	defer release()

	cluster, err := h.Get(id)
	if err != nil {
		return err
	}
	cluster.StopProxy(ctx)
	return nil
}

// SavePreferences merges a partial preference patch into the stored
// record. The live proxy context is torn down so the next access runs
// with the new preferences.
func (h *Hub) SavePreferences(ctx context.Context, id string, patch clusterstore.Preferences) (Summary, error) {
	release := h.locks.lock(id)
	defer release()

	cluster, err := h.Get(id)
	if err != nil {
		return Summary{}, err
	}
	record, err := h.reloadRecord(id)
	if err != nil {
		return Summary{}, err
	}
	if err := mergo.Merge(&record.Preferences, patch, mergo.WithOverride); err != nil {
		return Summary{}, errors.WithStack(err)
	}
	if err := h.applyRecord(ctx, cluster, record); err != nil {
		return Summary{}, err
	}
	return cluster.Summary(), nil
}

// SetIcon stores a custom icon for the cluster and records its path on
// the preferences.
func (h *Hub) SetIcon(ctx context.Context, id string, filename string, content io.Reader) (Summary, error) {
	release := h.locks.lock(id)
	defer release()

	cluster, err := h.Get(id)
	if err != nil {
		return Summary{}, err
	}
	record, err := h.reloadRecord(id)
	if err != nil {
		return Summary{}, err
	}
	iconPath, err := h.storeIcon(record, filename, content)
	if err != nil {
		return Summary{}, err
	}
	record.Preferences.IconPath = iconPath
	if err := h.applyRecord(ctx, cluster, record); err != nil {
		return Summary{}, err
	}
	return cluster.Summary(), nil
}

// ResetIcon removes the custom icon and clears its preference.
func (h *Hub) ResetIcon(ctx context.Context, id string) (Summary, error) {
	release := h.locks.lock(id)
	defer release()

	cluster, err := h.Get(id)
	if err != nil {
		return Summary{}, err
	}
	record, err := h.reloadRecord(id)
	if err != nil {
		return Summary{}, err
	}
	h.removeIcon(record.Preferences.IconPath)
	record.Preferences.IconPath = ""
	if err := h.applyRecord(ctx, cluster, record); err != nil {
		return Summary{}, err
	}
	return cluster.Summary(), nil
}

// reloadRecord fetches the stored record, which is the source of truth
// for mutations; the in-memory copy may be behind another writer.
func (h *Hub) reloadRecord(id string) (*clusterstore.Record, error) {
	record, err := h.store.ReloadCluster(id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if record == nil {
		return nil, errors.Wrapf(ErrClusterNotFound, "cluster %s", id)
	}
	return record, nil
}

func (h *Hub) applyRecord(ctx context.Context, cluster *Cluster, record *clusterstore.Record) error {
	if err := h.store.StoreCluster(record); err != nil {
		return errors.WithStack(err)
	}
	cluster.StopProxy(ctx)
	cluster.setRecord(record)
	return nil
}

// KubectlFor builds the provisioner handle for a reported cluster
// version, bound to the hub's binary cache and bundled fallback.
func (h *Hub) KubectlFor(clusterVersion string) (*kubebin.Kubectl, error) {
	return kubebin.New(clusterVersion, kubebin.Options{
		Dir:            h.binaryDir,
		BundledVersion: h.bundledVersion,
		BundledPath:    h.bundledPath,
		ArtifactBase:   h.artifactBase,
		Fs:             h.fs,
		HTTPClient:     h.httpClient,
	})
}

func (h *Hub) provisionKubectl(ctx context.Context, id, clusterVersion string) {
	if h.binaryDir == "" {
		return
	}
	k, err := h.KubectlFor(clusterVersion)
	if err != nil {
		logrus.WithError(err).Warnf("cannot resolve kubectl for cluster %s version %s", id, clusterVersion)
		return
	}
	logrus.Debugf("kubectl %s for cluster %s at %s", k.Version(), id, k.GetPath(ctx))
}

// ShellManager builds the debug session manager for one cluster,
// wired to its clientset, kubeconfig and the kubectl release matching
// its last reported server version.
func (h *Hub) ShellManager(ctx context.Context, id string) (*nodeshell.Manager, error) {
	cluster, err := h.Get(id)
	if err != nil {
		return nil, err
	}
	record := cluster.Record()

	restConfig, err := cluster.RESTConfig()
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	kubectlPath := h.bundledPath
	if version := cluster.Status().ServerVersion; version != "" && h.binaryDir != "" {
		if k, resolveErr := h.KubectlFor(version); resolveErr == nil {
			kubectlPath = k.GetPath(ctx)
		}
	}

	return nodeshell.NewManager(nodeshell.Options{
		Clientset:      clientset,
		KubectlPath:    kubectlPath,
		KubeconfigPath: record.KubeconfigPath,
		Image:          record.Preferences.NodeShellImage,
	}), nil
}

// Close stops every proxy in parallel and closes the record store.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.RLock()
	clusters := lo.Values(h.clusters)
	h.mu.RUnlock()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, cluster := range clusters {
		cluster := cluster
		group.Go(func() error {
			cluster.StopProxy(groupCtx)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return errors.WithStack(h.store.Close())
}

func (h *Hub) publishClusterCount() {
	h.mu.RLock()
	count := len(h.clusters)
	h.mu.RUnlock()
	deckmetrics.SetClustersRegistered(count)
}
