// Package kubedeck is the cluster hub: the registry of known clusters,
// their authenticating reverse proxies, request routing between them,
// and the local command API the UI talks to.
package kubedeck

import (
	"time"

	"github.com/google/uuid"
	"github.com/kubedeck/kubedeck/pkg/clusterstore"
)

// newClusterID mints a registry id. Ids double as routing subdomain
// labels, so they must stay valid RFC 1123 labels; hyphenated lowercase
// UUIDs are.
func newClusterID() string {
	return uuid.NewString()
}

// Status is the runtime-only view of a cluster: rebuilt by Refresh,
// never persisted.
type Status struct {
	Online        bool      `json:"online"`
	ServerVersion string    `json:"serverVersion,omitempty"`
	EventCount    int       `json:"eventCount"`
	LastRefresh   time.Time `json:"lastRefresh,omitempty"`
}

// Summary is the API shape of one registered cluster: the persisted
// record plus the runtime status.
type Summary struct {
	ID             string                   `json:"id"`
	Name           string                   `json:"name"`
	ContextName    string                   `json:"contextName"`
	KubeconfigPath string                   `json:"kubeconfigPath"`
	Server         string                   `json:"server,omitempty"`
	Port           int                      `json:"port,omitempty"`
	Preferences    clusterstore.Preferences `json:"preferences"`
	Status         Status                   `json:"status"`
	CreatedAt      time.Time                `json:"createdAt"`
}

func summarize(record *clusterstore.Record, status Status) Summary {
	return Summary{
		ID:             record.ID,
		Name:           record.Name(),
		ContextName:    record.ContextName,
		KubeconfigPath: record.KubeconfigPath,
		Server:         record.Server,
		Port:           record.Port,
		Preferences:    record.Preferences,
		Status:         status,
		CreatedAt:      record.CreatedAt,
	}
}

// SkippedContext reports one context of an added kubeconfig that was
// not registered, and why. Valid sibling contexts are unaffected.
type SkippedContext struct {
	ContextName string `json:"contextName"`
	Reason      string `json:"reason"`
}

// AddResult is the outcome of registering a kubeconfig document.
type AddResult struct {
	Added   []Summary        `json:"added"`
	Skipped []SkippedContext `json:"skipped,omitempty"`
}
