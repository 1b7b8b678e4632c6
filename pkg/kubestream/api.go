// Package kubestream maintains the process-wide multiplexed watch
// connection: one upstream stream carrying change events for the union
// of all currently subscribed resource collections, with debounced
// resubscription, bounded reconnect and stream-end recovery.
package kubestream

import (
	"encoding/json"
	"sync"
)

// EventType discriminates the JSON lines pushed by the upstream.
type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"

	// StreamEnd is a control line: the upstream truncated the named
	// resource's event history and the client must refresh its cursor
	// before resuming.
	StreamEnd EventType = "STREAM_END"
)

// Event is one line of the upstream stream. URL names the subscribed
// collection the event belongs to; Object is the changed object for
// change events and empty for control lines.
type Event struct {
	Type   EventType       `json:"type"`
	URL    string          `json:"url"`
	Object json.RawMessage `json:"object,omitempty"`
}

// objectMeta is the slice of an event object the client itself reads.
type objectMeta struct {
	Metadata struct {
		Name            string `json:"name"`
		Namespace       string `json:"namespace"`
		ResourceVersion string `json:"resourceVersion"`
	} `json:"metadata"`
}

// Store mirrors one resource collection for a consumer. The stream
// client delivers an event only to stores registered for exactly that
// collection, never as a broadcast.
type Store interface {
	// Resource is the handle the store watches through.
	Resource() *Resource
	// Update applies one change event. The client calls it from the
	// connection goroutine, one event at a time.
	Update(Event)
}

const clusterWide = ""

// Resource is the client-side handle for one watched collection,
// identified by its api path (for example "/api/v1/pods", or a
// namespaced "/api/v1/namespaces/kube-system/pods"). It owns the
// resource version bookkeeping for the collection.
type Resource struct {
	api string

	mu       sync.Mutex
	versions map[string]string
}

func NewResource(api string) *Resource {
	return &Resource{api: api, versions: map[string]string{}}
}

// API returns the collection's api path as used in the upstream query.
func (r *Resource) API() string { return r.api }

// recordVersion advances the namespace bucket and the cluster-wide
// bucket. Change events go through here before fan-out so stores
// always observe a current cursor.
func (r *Resource) recordVersion(namespace, resourceVersion string) {
	if resourceVersion == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if namespace != clusterWide {
		r.versions[namespace] = resourceVersion
	}
	r.versions[clusterWide] = resourceVersion
}

// ResourceVersion returns the last version seen for a namespace, or
// the cluster-wide cursor for the empty namespace.
func (r *Resource) ResourceVersion(namespace string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions[namespace]
}
