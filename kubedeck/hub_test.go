package kubedeck

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kubedeck/kubedeck/pkg/clusterstore"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	if opts.Store == nil {
		opts.Store = clusterstore.NewMemoryStore()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	hub, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(ctx)
	})
	return hub
}

func writeKubeconfig(t *testing.T, dir, filename, server string, contextNames ...string) string {
	t.Helper()
	cfg := clientcmdapi.NewConfig()
	for _, name := range contextNames {
		clusterName := name + "-cluster"
		userName := name + "-user"
		cfg.Clusters[clusterName] = &clientcmdapi.Cluster{Server: server}
		cfg.AuthInfos[userName] = &clientcmdapi.AuthInfo{Token: "test-token"}
		cfg.Contexts[name] = &clientcmdapi.Context{Cluster: clusterName, AuthInfo: userName}
	}
	cfg.CurrentContext = contextNames[0]
	path := filepath.Join(dir, filename)
	require.NoError(t, clientcmd.WriteToFile(*cfg, path))
	return path
}

// newFakeAPIServer stands in for a cluster API server: a version
// endpoint and a cluster-wide event list.
func newFakeAPIServer(t *testing.T, eventItems int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"major":"1","minor":"16","gitVersion":"v1.16.2","platform":"linux/amd64"}`)
	})
	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		payload := `{"kind":"EventList","apiVersion":"v1","metadata":{},"items":[`
		for i := 0; i < eventItems; i++ {
			if i > 0 {
				payload += ","
			}
			payload += fmt.Sprintf(`{"metadata":{"name":"event-%d","namespace":"default"}}`, i)
		}
		payload += `]}`
		fmt.Fprint(w, payload)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestAddRegistersEachContext(t *testing.T) {
	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "clusters.yaml", "https://one.example:6443", "prod", "staging")

	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.Added, 2)
	assert.Empty(t, result.Skipped)

	// splits come out ordered by context name
	assert.Equal(t, "prod", result.Added[0].ContextName)
	assert.Equal(t, "staging", result.Added[1].ContextName)
	for _, summary := range result.Added {
		assert.Equal(t, path, summary.KubeconfigPath)
		assert.Equal(t, "https://one.example:6443", summary.Server)
		assert.NotEmpty(t, summary.ID)
	}
	assert.Len(t, hub.List(), 2)
}

func TestAddSkipsInvalidContextsButKeepsSiblings(t *testing.T) {
	hub := newTestHub(t, Options{})
	dir := t.TempDir()
	path := writeKubeconfig(t, dir, "mixed.yaml", "https://one.example:6443", "good")

	// append a context referencing a cluster the document does not define
	cfg, err := clientcmd.LoadFromFile(path)
	require.NoError(t, err)
	cfg.Contexts["broken"] = &clientcmdapi.Context{Cluster: "missing", AuthInfo: "missing-user"}
	require.NoError(t, clientcmd.WriteToFile(*cfg, path))

	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	assert.Equal(t, "good", result.Added[0].ContextName)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "broken", result.Skipped[0].ContextName)
}

func TestAddSameFileTwiceIsIdempotent(t *testing.T) {
	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", "https://one.example:6443", "prod")

	_, err := hub.Add(context.Background(), path)
	require.NoError(t, err)

	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, reasonAlreadyRegistered, result.Skipped[0].Reason)
	assert.Len(t, hub.List(), 1)
}

func TestAddUnreadableKubeconfig(t *testing.T) {
	hub := newTestHub(t, Options{})

	_, err := hub.Add(context.Background(), filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestAddContentWritesManagedKubeconfig(t *testing.T) {
	dataDir := t.TempDir()
	hub := newTestHub(t, Options{DataDir: dataDir, BinaryDir: filepath.Join(dataDir, "bin")})
	path := writeKubeconfig(t, t.TempDir(), "pasted.yaml", "https://one.example:6443", "prod")
	raw, err := afero.ReadFile(afero.NewOsFs(), path)
	require.NoError(t, err)

	result, err := hub.AddContent(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, result.Added, 1)

	managed := result.Added[0].KubeconfigPath
	assert.Equal(t, filepath.Join(dataDir, "kubeconfigs", result.Added[0].ID), managed)
	reloaded, err := clientcmd.LoadFromFile(managed)
	require.NoError(t, err)
	assert.Contains(t, reloaded.Contexts, "prod")

	// removing the cluster removes the managed file too
	require.NoError(t, hub.Remove(context.Background(), result.Added[0].ID))
	_, err = clientcmd.LoadFromFile(managed)
	assert.Error(t, err)
}

func TestGetUnknownCluster(t *testing.T) {
	hub := newTestHub(t, Options{})

	_, err := hub.Get("never-registered")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClusterNotFound))
}

func TestRemoveUnknownClusterIsNoOp(t *testing.T) {
	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", "https://one.example:6443", "prod")
	_, err := hub.Add(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, hub.Remove(context.Background(), "never-registered"))
	require.NoError(t, hub.Remove(context.Background(), "never-registered"))
	assert.Len(t, hub.List(), 1)
}

func TestActivatePersistsBoundPort(t *testing.T) {
	upstream := newFakeAPIServer(t, 0)
	store := clusterstore.NewMemoryStore()
	hub := newTestHub(t, Options{Store: store})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", upstream.URL, "prod")
	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)
	id := result.Added[0].ID

	summary, err := hub.Activate(context.Background(), id)
	require.NoError(t, err)
	require.NotZero(t, summary.Port)

	record, err := store.ReloadCluster(id)
	require.NoError(t, err)
	assert.Equal(t, summary.Port, record.Port)

	// activating again keeps the same port
	again, err := hub.Activate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, summary.Port, again.Port)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", summary.Port))
	require.NoError(t, err)
	_ = conn.Close()
}

func TestRefreshProbesVersionAndEventCount(t *testing.T) {
	upstream := newFakeAPIServer(t, 3)
	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", upstream.URL, "prod")
	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)

	status, err := hub.Refresh(context.Background(), result.Added[0].ID)
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Equal(t, "v1.16.2", status.ServerVersion)
	assert.Equal(t, 3, status.EventCount)
	assert.False(t, status.LastRefresh.IsZero())

	cluster, err := hub.Get(result.Added[0].ID)
	require.NoError(t, err)
	assert.True(t, cluster.Summary().Status.Online)
}

func TestRefreshUnreachableClusterReportsOffline(t *testing.T) {
	upstream := newFakeAPIServer(t, 0)
	serverURL := upstream.URL
	upstream.Close()

	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", serverURL, "prod")
	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)

	status, err := hub.Refresh(context.Background(), result.Added[0].ID)
	require.Error(t, err)
	assert.False(t, status.Online)
	assert.Empty(t, status.ServerVersion)
}

func TestSavePreferencesMergesPartialPatch(t *testing.T) {
	upstream := newFakeAPIServer(t, 0)
	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", upstream.URL, "prod")
	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)
	id := result.Added[0].ID

	summary, err := hub.SavePreferences(context.Background(), id, clusterstore.Preferences{CustomName: "money-maker"})
	require.NoError(t, err)
	assert.Equal(t, "money-maker", summary.Name)

	// a later patch leaves earlier fields alone
	summary, err = hub.SavePreferences(context.Background(), id, clusterstore.Preferences{NodeShellImage: "busybox:1.36"})
	require.NoError(t, err)
	assert.Equal(t, "money-maker", summary.Preferences.CustomName)
	assert.Equal(t, "busybox:1.36", summary.Preferences.NodeShellImage)
}

func TestSavePreferencesTearsDownProxy(t *testing.T) {
	upstream := newFakeAPIServer(t, 0)
	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", upstream.URL, "prod")
	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)
	id := result.Added[0].ID

	_, err = hub.Activate(context.Background(), id)
	require.NoError(t, err)
	cluster, err := hub.Get(id)
	require.NoError(t, err)
	require.NotNil(t, cluster.server)

	_, err = hub.SavePreferences(context.Background(), id, clusterstore.Preferences{CustomName: "renamed"})
	require.NoError(t, err)
	assert.Nil(t, cluster.server)
}

func TestSetAndResetIcon(t *testing.T) {
	upstream := newFakeAPIServer(t, 0)
	dataDir := t.TempDir()
	hub := newTestHub(t, Options{DataDir: dataDir, BinaryDir: filepath.Join(dataDir, "bin")})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", upstream.URL, "prod")
	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)
	id := result.Added[0].ID

	summary, err := hub.SetIcon(context.Background(), id, "logo.png", bytes.NewReader([]byte("png-bytes")))
	require.NoError(t, err)
	iconPath := summary.Preferences.IconPath
	require.NotEmpty(t, iconPath)
	assert.Equal(t, filepath.Join(dataDir, "icons"), filepath.Dir(iconPath))

	content, err := afero.ReadFile(afero.NewOsFs(), iconPath)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(content))

	summary, err = hub.ResetIcon(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, summary.Preferences.IconPath)
	exists, err := afero.Exists(afero.NewOsFs(), iconPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoadPersistedRebuildsArena(t *testing.T) {
	store := clusterstore.NewMemoryStore()
	require.NoError(t, store.StoreCluster(&clusterstore.Record{
		ID:             "restored-1",
		ContextName:    "prod",
		KubeconfigPath: "/tmp/kubeconfig.yaml",
	}))
	require.NoError(t, store.StoreCluster(&clusterstore.Record{
		ID:             "restored-2",
		ContextName:    "staging",
		KubeconfigPath: "/tmp/kubeconfig.yaml",
	}))

	hub := newTestHub(t, Options{Store: store})
	require.NoError(t, hub.LoadPersisted(context.Background()))
	assert.Len(t, hub.List(), 2)

	cluster, err := hub.Get("restored-1")
	require.NoError(t, err)
	assert.Equal(t, "prod", cluster.Record().ContextName)
}

func TestInstallFeatureRejectsUnknownName(t *testing.T) {
	upstream := newFakeAPIServer(t, 0)
	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", upstream.URL, "prod")
	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)

	err = hub.InstallFeature(context.Background(), result.Added[0].ID, "no-such-feature")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownFeature))
}

func TestFeatureNamesAreSorted(t *testing.T) {
	assert.Equal(t, []string{"ingress", "metrics-stack"}, FeatureNames())
}

func TestShellManagerUsesClusterPreferences(t *testing.T) {
	upstream := newFakeAPIServer(t, 0)
	hub := newTestHub(t, Options{})
	path := writeKubeconfig(t, t.TempDir(), "one.yaml", upstream.URL, "prod")
	result, err := hub.Add(context.Background(), path)
	require.NoError(t, err)
	id := result.Added[0].ID

	_, err = hub.SavePreferences(context.Background(), id, clusterstore.Preferences{NodeShellImage: "alpine:3.18"})
	require.NoError(t, err)

	manager, err := hub.ShellManager(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, manager)
}
