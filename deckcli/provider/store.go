package provider

import (
	"path/filepath"

	"github.com/kubedeck/kubedeck/pkg/clusterstore"
)

// StoreProvider opens the cluster record store for a data directory.
type StoreProvider interface {
	Open(dataDir string) (clusterstore.Store, error)
}

// SQLiteStoreProvider is the default: records live in
// <data-dir>/kubedeck.db.
type SQLiteStoreProvider struct{}

var _ StoreProvider = (*SQLiteStoreProvider)(nil)

func (p *SQLiteStoreProvider) Open(dataDir string) (clusterstore.Store, error) {
	return clusterstore.NewSQLiteStore(filepath.Join(dataDir, "kubedeck.db"))
}

// MemoryStoreProvider keeps records for the process lifetime only.
type MemoryStoreProvider struct{}

var _ StoreProvider = (*MemoryStoreProvider)(nil)

func (p *MemoryStoreProvider) Open(dataDir string) (clusterstore.Store, error) {
	return clusterstore.NewMemoryStore(), nil
}
