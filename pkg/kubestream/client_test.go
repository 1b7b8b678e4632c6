package kubestream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream stands in for the watch endpoint and the resource
// version refresh api behind it.
type fakeUpstream struct {
	*httptest.Server

	mu        sync.Mutex
	conns     []*upstreamConn
	attempts  int
	refreshes map[string]int
	sequence  []string
	refuse    bool
}

type upstreamConn struct {
	apis  []string
	lines chan string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{refreshes: map[string]int{}}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api-kube-watch" {
			u.handleWatch(w, r)
			return
		}
		if r.URL.Query().Get("limit") != "" {
			u.mu.Lock()
			u.refreshes[r.URL.Path]++
			u.sequence = append(u.sequence, "refresh "+r.URL.Path)
			u.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"metadata":{"resourceVersion":"12345"}}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(u.Server.Close)
	return u
}

func (u *fakeUpstream) handleWatch(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.attempts++
	u.sequence = append(u.sequence, "watch")
	refuse := u.refuse
	conn := &upstreamConn{apis: r.URL.Query()["api"], lines: make(chan string, 32)}
	if !refuse {
		u.conns = append(u.conns, conn)
	}
	u.mu.Unlock()

	if refuse {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()

	for {
		select {
		case line, ok := <-conn.lines:
			if !ok {
				return
			}
			io.WriteString(w, line+"\n")
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (u *fakeUpstream) connCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.conns)
}

func (u *fakeUpstream) attemptCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attempts
}

func (u *fakeUpstream) refreshCount(api string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.refreshes[api]
}

func (u *fakeUpstream) setRefuse(refuse bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.refuse = refuse
}

func (u *fakeUpstream) waitForConn(t *testing.T, n int) *upstreamConn {
	t.Helper()
	require.Eventually(t, func() bool { return u.connCount() >= n }, 3*time.Second, 10*time.Millisecond,
		"upstream never saw connection %d", n)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conns[n-1]
}

func (u *fakeUpstream) sequenceSnapshot() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string{}, u.sequence...)
}

func startTestClient(t *testing.T, u *fakeUpstream) *Client {
	t.Helper()
	client := NewClient(u.URL, Options{
		Debounce:        10 * time.Millisecond,
		RetryDelay:      20 * time.Millisecond,
		MaxRetries:      2,
		RefreshInterval: time.Hour,
		StreamEndSettle: 50 * time.Millisecond,
	})
	runClient(t, client)
	return client
}

// runClient starts Run and blocks until the client accepts
// connections, so a Subscribe directly after it cannot outrun the run
// loop.
func runClient(t *testing.T, client *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = client.Run(ctx) }()
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.runCtx != nil
	}, time.Second, time.Millisecond)
}

func TestConnectionCarriesUnionQuery(t *testing.T) {
	u := newFakeUpstream(t)
	client := startTestClient(t, u)
	pods := newRecordingStore("/api/v1/pods")
	deployments := newRecordingStore("/apis/apps/v1/deployments")

	unsubscribe := client.Subscribe(pods, deployments)
	conn := u.waitForConn(t, 1)
	assert.Equal(t, []string{"/api/v1/pods", "/apis/apps/v1/deployments"}, conn.apis)

	unsubscribe()
	require.Eventually(t, func() bool { return client.State() == StateDisconnected },
		3*time.Second, 10*time.Millisecond)
	assert.Empty(t, client.ActiveAPIs())
}

func TestSubscriptionChangeReconnectsWithNewQuery(t *testing.T) {
	u := newFakeUpstream(t)
	client := startTestClient(t, u)
	pods := newRecordingStore("/api/v1/pods")

	client.Subscribe(pods)
	conn := u.waitForConn(t, 1)
	assert.Equal(t, []string{"/api/v1/pods"}, conn.apis)

	deployments := newRecordingStore("/apis/apps/v1/deployments")
	client.Subscribe(deployments)
	conn = u.waitForConn(t, 2)
	assert.Equal(t, []string{"/api/v1/pods", "/apis/apps/v1/deployments"}, conn.apis)
}

func TestEventDeliveryIsExactMatch(t *testing.T) {
	u := newFakeUpstream(t)
	client := startTestClient(t, u)
	pods := newRecordingStore("/api/v1/pods")
	deployments := newRecordingStore("/apis/apps/v1/deployments")
	client.Subscribe(pods, deployments)
	conn := u.waitForConn(t, 1)

	conn.lines <- `{"type":"ADDED","url":"/api/v1/pods","object":{"metadata":{"name":"web-1","namespace":"default","resourceVersion":"101"}}}`

	require.Eventually(t, func() bool { return pods.eventCount() == 1 },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, deployments.eventCount())

	// version bookkeeping ran before fan-out, in both buckets
	assert.Equal(t, "101", pods.Resource().ResourceVersion("default"))
	assert.Equal(t, "101", pods.Resource().ResourceVersion(""))
	assert.Equal(t, "", deployments.Resource().ResourceVersion(""))
}

func TestStreamEndRefreshesOnceThenReconnectsOnce(t *testing.T) {
	u := newFakeUpstream(t)
	client := startTestClient(t, u)
	pods := newRecordingStore("/api/v1/pods")
	deployments := newRecordingStore("/apis/apps/v1/deployments")
	client.Subscribe(pods, deployments)
	conn := u.waitForConn(t, 1)

	// both control lines land inside one settle window
	conn.lines <- `{"type":"STREAM_END","url":"/api/v1/pods"}`
	conn.lines <- `{"type":"STREAM_END","url":"/apis/apps/v1/deployments"}`

	u.waitForConn(t, 2)
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 2, u.connCount(), "expected exactly one reconnect")
	assert.Equal(t, 1, u.refreshCount("/api/v1/pods"))
	assert.Equal(t, 1, u.refreshCount("/apis/apps/v1/deployments"))
	assert.Equal(t, "12345", pods.Resource().ResourceVersion(""))

	// refreshes complete before the stream reconnects
	sequence := u.sequenceSnapshot()
	require.Equal(t, "watch", sequence[0])
	assert.Equal(t, "watch", sequence[len(sequence)-1])
	assert.Contains(t, sequence[1:len(sequence)-1], "refresh /api/v1/pods")
	assert.Contains(t, sequence[1:len(sequence)-1], "refresh /apis/apps/v1/deployments")
}

func TestRetryBudgetExhaustionAndRevival(t *testing.T) {
	u := newFakeUpstream(t)
	u.setRefuse(true)
	client := startTestClient(t, u)
	pods := newRecordingStore("/api/v1/pods")

	client.Subscribe(pods)

	// initial attempt plus MaxRetries retries, then the client rests
	require.Eventually(t, func() bool { return u.attemptCount() == 3 },
		3*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 3, u.attemptCount())
	assert.Equal(t, StateDisconnected, client.State())

	// a subscription change restores the budget
	deployments := newRecordingStore("/apis/apps/v1/deployments")
	client.Subscribe(deployments)
	require.Eventually(t, func() bool { return u.attemptCount() >= 4 },
		3*time.Second, 10*time.Millisecond)

	// so does a manual reconnect once the upstream is healthy again
	u.setRefuse(false)
	client.Reconnect()
	u.waitForConn(t, 1)
	require.Eventually(t, func() bool { return client.State() == StateConnected },
		3*time.Second, 10*time.Millisecond)
}

func TestPeriodicReconnectBoundsConnectionLifetime(t *testing.T) {
	u := newFakeUpstream(t)
	client := NewClient(u.URL, Options{
		Debounce:        10 * time.Millisecond,
		RetryDelay:      20 * time.Millisecond,
		MaxRetries:      2,
		RefreshInterval: 80 * time.Millisecond,
		StreamEndSettle: 50 * time.Millisecond,
	})
	runClient(t, client)

	client.Subscribe(newRecordingStore("/api/v1/pods"))
	u.waitForConn(t, 1)
	u.waitForConn(t, 2)
}
