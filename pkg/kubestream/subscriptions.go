package kubestream

import (
	"sort"
	"sync"
)

// subscriptions refcounts the stores interested in the stream. The
// union of collections with a positive count is the upstream query;
// a collection leaves the query exactly when its count reaches zero.
type subscriptions struct {
	mu     sync.Mutex
	stores map[Store]int
	counts map[*Resource]int
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		stores: map[Store]int{},
		counts: map[*Resource]int{},
	}
}

// add registers the stores and returns a release undoing exactly this
// call. Calling the release more than once has no further effect, so
// counts never go negative.
func (s *subscriptions) add(stores ...Store) (release func()) {
	s.mu.Lock()
	for _, store := range stores {
		s.stores[store]++
		s.counts[store.Resource()]++
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, store := range stores {
				if s.stores[store]--; s.stores[store] <= 0 {
					delete(s.stores, store)
				}
				resource := store.Resource()
				if s.counts[resource]--; s.counts[resource] <= 0 {
					delete(s.counts, resource)
				}
			}
		})
	}
}

// activeAPIs returns the query set: every api path with a positive
// count, deduplicated and sorted so identical sets compare equal.
func (s *subscriptions) activeAPIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]struct{}{}
	apis := make([]string, 0, len(s.counts))
	for resource := range s.counts {
		if _, ok := seen[resource.API()]; ok {
			continue
		}
		seen[resource.API()] = struct{}{}
		apis = append(apis, resource.API())
	}
	sort.Strings(apis)
	return apis
}

// storesFor returns the subscribed stores registered for exactly this
// collection.
func (s *subscriptions) storesFor(api string) []Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Store
	for store := range s.stores {
		if store.Resource().API() == api {
			matched = append(matched, store)
		}
	}
	return matched
}

// resourcesFor returns the distinct handles registered for this
// collection.
func (s *subscriptions) resourcesFor(api string) []*Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Resource
	for resource := range s.counts {
		if resource.API() == api {
			matched = append(matched, resource)
		}
	}
	return matched
}
