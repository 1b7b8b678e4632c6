package kubebin

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// artifactHost fakes the release host: HEAD answers with the body's MD5
// as a quoted ETag, GET serves the body. Ensure tests run on the real
// filesystem because the version directory lock needs a real fd.
type artifactHost struct {
	*httptest.Server

	mu        sync.Mutex
	bodies    map[string]string
	downloads map[string]int
	requests  int
	headFails bool
	getDelay  time.Duration
}

func newArtifactHost(t *testing.T) *artifactHost {
	t.Helper()
	h := &artifactHost{
		bodies:    map[string]string{},
		downloads: map[string]int{},
	}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.requests++
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		var body string
		var known bool
		if len(parts) == 5 {
			body, known = h.bodies[strings.TrimPrefix(parts[0], "v")]
		}
		headFails, getDelay := h.headFails, h.getDelay
		h.mu.Unlock()

		if !known {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch r.Method {
		case http.MethodHead:
			if headFails {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("ETag", etagFor(body))
		case http.MethodGet:
			time.Sleep(getDelay)
			h.mu.Lock()
			h.downloads[strings.TrimPrefix(parts[0], "v")]++
			h.mu.Unlock()
			w.Header().Set("ETag", etagFor(body))
			io.WriteString(w, body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(h.Server.Close)
	return h
}

func etagFor(body string) string {
	sum := md5.Sum([]byte(body))
	return fmt.Sprintf("%q", hex.EncodeToString(sum[:]))
}

func (h *artifactHost) serve(version, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bodies[version] = body
}

func (h *artifactHost) downloadCount(version string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.downloads[version]
}

func (h *artifactHost) requestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests
}

func newTestKubectl(t *testing.T, clusterVersion string, host *artifactHost, opts Options) *Kubectl {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.ArtifactBase = host.URL
	k, err := New(clusterVersion, opts)
	require.NoError(t, err)
	return k
}

func seedBinary(t *testing.T, k *Kubectl, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(k.BinDir(), 0755))
	require.NoError(t, os.WriteFile(k.Path(), []byte(body), 0755))
}

func TestEnsureDownloadsMissingBinary(t *testing.T) {
	host := newArtifactHost(t)
	host.serve("1.16.7", "kubectl release 1.16.7")
	k := newTestKubectl(t, "1.16.2", host, Options{})

	require.NoError(t, k.EnsureKubectl(context.Background()))

	body, err := os.ReadFile(k.Path())
	require.NoError(t, err)
	assert.Equal(t, "kubectl release 1.16.7", string(body))

	info, err := os.Stat(k.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.Equal(t, 1, host.downloadCount("1.16.7"))
}

func TestValidBinarySkipsDownload(t *testing.T) {
	host := newArtifactHost(t)
	host.serve("1.16.7", "kubectl release 1.16.7")
	k := newTestKubectl(t, "1.16.2", host, Options{})
	seedBinary(t, k, "kubectl release 1.16.7")

	require.NoError(t, k.EnsureKubectl(context.Background()))
	assert.Equal(t, 0, host.downloadCount("1.16.7"))
}

func TestMismatchedBinaryIsReplaced(t *testing.T) {
	host := newArtifactHost(t)
	host.serve("1.16.7", "kubectl release 1.16.7")
	k := newTestKubectl(t, "1.16.2", host, Options{})
	seedBinary(t, k, "truncated partial write")

	require.NoError(t, k.EnsureKubectl(context.Background()))

	body, err := os.ReadFile(k.Path())
	require.NoError(t, err)
	assert.Equal(t, "kubectl release 1.16.7", string(body))
	assert.Equal(t, 1, host.downloadCount("1.16.7"))
}

func TestProbeFailureKeepsLocalBinary(t *testing.T) {
	host := newArtifactHost(t)
	host.serve("1.16.7", "kubectl release 1.16.7")
	host.headFails = true
	k := newTestKubectl(t, "1.16.2", host, Options{})
	seedBinary(t, k, "locally modified build")

	require.NoError(t, k.EnsureKubectl(context.Background()))

	body, err := os.ReadFile(k.Path())
	require.NoError(t, err)
	assert.Equal(t, "locally modified build", string(body))
	assert.Equal(t, 0, host.downloadCount("1.16.7"))
}

func TestSkipVerifyNeverProbes(t *testing.T) {
	host := newArtifactHost(t)
	host.serve("1.16.7", "kubectl release 1.16.7")
	k := newTestKubectl(t, "1.16.2", host, Options{SkipVerify: true})
	seedBinary(t, k, "locally modified build")

	require.NoError(t, k.EnsureKubectl(context.Background()))
	assert.Equal(t, 0, host.requestCount())
}

func TestConcurrentEnsureSameVersionDownloadsOnce(t *testing.T) {
	host := newArtifactHost(t)
	host.serve("1.16.7", "kubectl release 1.16.7")
	host.getDelay = 50 * time.Millisecond

	dir := t.TempDir()
	// Distinct cluster versions resolving to the same release share one
	// version directory.
	k1 := newTestKubectl(t, "1.16.2", host, Options{Dir: dir})
	k2 := newTestKubectl(t, "1.16.9", host, Options{Dir: dir})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, k := range []*Kubectl{k1, k2} {
		wg.Add(1)
		go func(i int, k *Kubectl) {
			defer wg.Done()
			errs[i] = k.EnsureKubectl(context.Background())
		}(i, k)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, host.downloadCount("1.16.7"))
}

func TestConcurrentEnsureDifferentVersions(t *testing.T) {
	host := newArtifactHost(t)
	host.serve("1.16.7", "kubectl release 1.16.7")
	host.serve("1.17.3", "kubectl release 1.17.3")
	host.getDelay = 50 * time.Millisecond

	dir := t.TempDir()
	k1 := newTestKubectl(t, "1.16.2", host, Options{Dir: dir})
	k2 := newTestKubectl(t, "1.17.1", host, Options{Dir: dir})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, k := range []*Kubectl{k1, k2} {
		wg.Add(1)
		go func(i int, k *Kubectl) {
			defer wg.Done()
			errs[i] = k.EnsureKubectl(context.Background())
		}(i, k)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, host.downloadCount("1.16.7"))
	assert.Equal(t, 1, host.downloadCount("1.17.3"))
}

func TestGetPathFallsBackToBundled(t *testing.T) {
	host := newArtifactHost(t)
	k := newTestKubectl(t, "1.99.0", host, Options{
		BundledVersion: "1.18.0",
		BundledPath:    "/app/resources/kubectl",
	})

	path := k.GetPath(context.Background())
	assert.Equal(t, "/app/resources/kubectl", path)
}

func TestBundledVersionServedDirectly(t *testing.T) {
	host := newArtifactHost(t)
	k := newTestKubectl(t, "1.18.4", host, Options{
		BundledVersion: "1.18.0",
		BundledPath:    "/app/resources/kubectl",
	})

	assert.Equal(t, "/app/resources/kubectl", k.GetPath(context.Background()))
	assert.Equal(t, "1.18.0", k.Version())
	assert.Equal(t, 0, host.requestCount())
}

func TestBundledStampWithVPrefixStillMatches(t *testing.T) {
	host := newArtifactHost(t)
	k := newTestKubectl(t, "1.18.4", host, Options{
		BundledVersion: "v1.18.0",
		BundledPath:    "/app/resources/kubectl",
	})

	assert.Equal(t, "/app/resources/kubectl", k.GetPath(context.Background()))
	assert.Equal(t, 0, host.requestCount())
}

func TestNewRejectsUnparseableClusterVersion(t *testing.T) {
	_, err := New("development", Options{Dir: t.TempDir()})
	assert.Error(t, err)
}
