package kubestream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func podEvent(eventType EventType, namespace, name, resourceVersion string) Event {
	object, _ := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"name":            name,
			"namespace":       namespace,
			"resourceVersion": resourceVersion,
		},
	})
	return Event{Type: eventType, URL: "/api/v1/pods", Object: object}
}

func TestMirrorStoreTracksObjects(t *testing.T) {
	store := NewMirrorStore("/api/v1/pods")

	store.Update(podEvent(Added, "default", "web-1", "1"))
	store.Update(podEvent(Added, "kube-system", "dns-1", "2"))
	assert.Equal(t, 2, store.Len())

	store.Update(podEvent(Modified, "default", "web-1", "3"))
	assert.Equal(t, 2, store.Len())

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 2)
	// stable (namespace, name) order
	assert.Contains(t, string(snapshot[0]), "web-1")
	assert.Contains(t, string(snapshot[1]), "dns-1")

	store.Update(podEvent(Deleted, "default", "web-1", "4"))
	assert.Equal(t, 1, store.Len())
}

func TestMirrorStoreListeners(t *testing.T) {
	store := NewMirrorStore("/api/v1/pods")
	events, cancel := store.Listen(4)

	store.Update(podEvent(Added, "default", "web-1", "1"))
	event := <-events
	assert.Equal(t, Added, event.Type)

	cancel()
	store.Update(podEvent(Added, "default", "web-2", "2"))
	_, open := <-events
	assert.False(t, open, "canceled listener channel should be closed")

	// canceling twice is safe
	cancel()
}

func TestMirrorStoreDropsUnreadableObjects(t *testing.T) {
	store := NewMirrorStore("/api/v1/pods")
	store.Update(Event{Type: Added, URL: "/api/v1/pods", Object: json.RawMessage(`{`)})
	assert.Equal(t, 0, store.Len())
}
