package kubestream

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// MirrorStore keeps an in-process mirror of one resource collection
// and tails its change events out to listeners. The API layer serves
// snapshots from it and feeds the events channel into the SSE stream.
type MirrorStore struct {
	resource *Resource

	mu        sync.RWMutex
	objects   map[string]json.RawMessage
	listeners map[chan Event]struct{}
}

var _ Store = (*MirrorStore)(nil)

func NewMirrorStore(api string) *MirrorStore {
	return &MirrorStore{
		resource:  NewResource(api),
		objects:   map[string]json.RawMessage{},
		listeners: map[chan Event]struct{}{},
	}
}

func (s *MirrorStore) Resource() *Resource { return s.resource }

// Update applies one change event to the mirror, then hands it to the
// listeners. A listener that cannot keep up loses events rather than
// stalling the stream.
func (s *MirrorStore) Update(event Event) {
	var meta objectMeta
	if err := json.Unmarshal(event.Object, &meta); err != nil {
		logrus.WithError(err).Debugf("dropping %s event with unreadable object for %s", event.Type, s.resource.API())
		return
	}
	key := meta.Metadata.Namespace + "/" + meta.Metadata.Name

	// Sends stay under the lock so a concurrent Listen cancel cannot
	// close a channel mid-send.
	s.mu.Lock()
	defer s.mu.Unlock()
	switch event.Type {
	case Added, Modified:
		s.objects[key] = event.Object
	case Deleted:
		delete(s.objects, key)
	}
	for listener := range s.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

// Snapshot returns the mirrored objects in stable (namespace, name)
// order.
func (s *MirrorStore) Snapshot() []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	objects := make([]json.RawMessage, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, s.objects[key])
	}
	return objects
}

// Len is the number of mirrored objects.
func (s *MirrorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Listen registers a change event tail. The cancel function removes
// the listener and closes the channel.
func (s *MirrorStore) Listen(buffer int) (<-chan Event, func()) {
	events := make(chan Event, buffer)
	s.mu.Lock()
	s.listeners[events] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return events, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, events)
			s.mu.Unlock()
			close(events)
		})
	}
}
