// Package kubebin provisions versioned kubectl binaries for registered
// clusters: it resolves a compatible release for a cluster's reported
// server version, keeps an integrity-checked copy in the shared binary
// directory, and falls back to the binary bundled with the application
// whenever provisioning cannot produce a usable one.
package kubebin

import (
	_ "embed"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed versions.yaml
var versionsYAML []byte

// versionTable maps a cluster's <major>.<minor> to the pinned kubectl
// release known to work against it.
var versionTable = mustLoadVersionTable()

func mustLoadVersionTable() map[string]string {
	table := map[string]string{}
	if err := yaml.Unmarshal(versionsYAML, &table); err != nil {
		panic(errors.Wrap(err, "malformed embedded kubectl version table"))
	}
	return table
}

var clusterVersionRegex = regexp.MustCompile(`^(\d+\.\d+)(.*)$`)

// ResolveVersion picks the kubectl release for a cluster's self-reported
// server version. Minor versions present in the table resolve to their
// pinned release; anything else resolves to the cluster's version
// verbatim, which may name an artifact the host never published. The
// bundled-binary fallback in GetPath covers that case.
func ResolveVersion(clusterVersion string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(clusterVersion), "v")
	parts := clusterVersionRegex.FindStringSubmatch(trimmed)
	if parts == nil {
		return "", errors.Errorf("cannot parse cluster version %q", clusterVersion)
	}
	if pinned, ok := versionTable[parts[1]]; ok {
		return pinned, nil
	}
	return parts[1] + parts[2], nil
}
