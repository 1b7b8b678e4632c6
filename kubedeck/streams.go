package kubedeck

import (
	"sync"

	"github.com/kubedeck/kubedeck/pkg/kubestream"
	"github.com/kubedeck/kubedeck/pkg/typeid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// StreamManager owns the daemon's watch subscriptions: one mirror
// store per subscribed api path, the refcounted subscription handles
// the command API hands out, and the shared stream client underneath.
// Cluster identity lives in the api paths themselves; the router
// resolves them, so one client connection spans every cluster.
type StreamManager struct {
	client *kubestream.Client

	mu     sync.Mutex
	stores map[string]*kubestream.MirrorStore
	refs   map[string]int
	subs   map[string]streamSubscription
}

type streamSubscription struct {
	api     string
	release func()
}

func NewStreamManager(client *kubestream.Client) *StreamManager {
	return &StreamManager{
		client: client,
		stores: map[string]*kubestream.MirrorStore{},
		refs:   map[string]int{},
		subs:   map[string]streamSubscription{},
	}
}

// Subscribe opens a handle on one api path, creating the mirror store
// on first use, and returns the handle id plus the store it reads.
func (m *StreamManager) Subscribe(api string) (string, *kubestream.MirrorStore) {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.stores[api]
	if !ok {
		store = kubestream.NewMirrorStore(api)
		m.stores[api] = store
	}
	release := m.client.Subscribe(store)
	m.refs[api]++

	id := typeid.New("sub").String()
	m.subs[id] = streamSubscription{api: api, release: release}
	return id, store
}

// Unsubscribe releases one handle. The last handle on an api drops its
// mirror store, and the api leaves the next upstream query.
func (m *StreamManager) Unsubscribe(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return errors.Wrapf(ErrSubscriptionNotFound, "subscription %s", id)
	}
	delete(m.subs, id)
	sub.release()

	m.refs[sub.api]--
	if m.refs[sub.api] <= 0 {
		delete(m.refs, sub.api)
		delete(m.stores, sub.api)
	}
	return nil
}

// Store returns the mirror store for an api path, if any handle holds
// it open.
func (m *StreamManager) Store(api string) (*kubestream.MirrorStore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, ok := m.stores[api]
	return store, ok
}

// Subscriptions maps handle ids to their api paths.
func (m *StreamManager) Subscriptions() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.MapValues(m.subs, func(sub streamSubscription, _ string) string {
		return sub.api
	})
}

// ActiveAPIs reports the union query the stream client is carrying.
func (m *StreamManager) ActiveAPIs() []string {
	return m.client.ActiveAPIs()
}

// State reports the stream client's connection state.
func (m *StreamManager) State() kubestream.State {
	return m.client.State()
}
