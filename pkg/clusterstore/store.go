package clusterstore

import (
	"time"

	"github.com/kubedeck/kubedeck/goutil"
)

// Record is the durable half of a registered cluster: everything the hub
// needs to rebuild a live proxy context after a restart. The hub's in-memory
// map is a cache over this store.
type Record struct {
	ID             string      `json:"id"`
	ContextName    string      `json:"contextName"`
	KubeconfigPath string      `json:"kubeconfigPath"`
	Server         string      `json:"server"`
	Preferences    Preferences `json:"preferences"`
	Port           int         `json:"port"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Preferences are the user-editable knobs on a cluster. Saving them tears
// down the live proxy context so the next access picks them up.
type Preferences struct {
	CustomName      string   `json:"customName,omitempty"`
	IconPath        string   `json:"iconPath,omitempty"`
	WorkspaceID     string   `json:"workspaceId,omitempty"`
	HiddenResources []string `json:"hiddenResources,omitempty"`
	NodeShellImage  string   `json:"nodeShellImage,omitempty"`
}

// Name returns what the UI should call this cluster.
func (r *Record) Name() string {
	return goutil.Coalesce(r.Preferences.CustomName, r.ContextName)
}

// Store persists cluster records. Operations are atomic per id; this is the
// sole source of truth across process restarts.
type Store interface {
	// StoreCluster inserts or replaces the record with the same id.
	StoreCluster(record *Record) error

	// ReloadCluster returns the stored record, or (nil, nil) when the id is
	// unknown.
	ReloadCluster(id string) (*Record, error)

	// RemoveCluster drops the record. Removing an unknown id is a no-op.
	RemoveCluster(id string) error

	// ListClusters returns all records ordered by creation time.
	ListClusters() ([]*Record, error)

	Close() error
}
