// Package localclusters discovers kind clusters running on this
// machine and exports their kubeconfigs so they can be registered like
// any other cluster.
package localclusters

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"sigs.k8s.io/kind/pkg/cluster"
	"sigs.k8s.io/kind/pkg/log"
)

// Cluster is one discovered local cluster, ready for registration.
type Cluster struct {
	Name           string `json:"name"`
	ContextName    string `json:"contextName"`
	KubeconfigPath string `json:"kubeconfigPath"`
}

// runtime is the part of the kind provider the discovery needs.
type runtime interface {
	List() ([]string, error)
	KubeConfig(name string, internal bool) (string, error)
}

type Options struct {
	// Dir receives the exported kubeconfig files.
	Dir string

	// Runtime overrides the autodetected kind provider.
	Runtime runtime

	Fs afero.Fs
}

type Provider struct {
	dir  string
	kind runtime
	fs   afero.Fs
}

func New(opts Options) (*Provider, error) {
	if opts.Runtime == nil {
		nodeProvider, err := cluster.DetectNodeProvider()
		if err != nil {
			return nil, errors.Wrap(err, "no container runtime for local clusters found")
		}
		opts.Runtime = cluster.NewProvider(nodeProvider, cluster.ProviderWithLogger(log.NoopLogger{}))
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &Provider{
		dir:  opts.Dir,
		kind: opts.Runtime,
		fs:   opts.Fs,
	}, nil
}

// List returns the names of the kind clusters on this machine, sorted.
func (p *Provider) List() ([]string, error) {
	names, err := p.kind.List()
	if err != nil {
		return nil, errors.Wrap(err, "could not list local clusters")
	}
	sort.Strings(names)
	return names, nil
}

// Export writes the kubeconfig of one kind cluster under the provider
// directory and describes the result. kind names its contexts
// kind-<cluster>, which is what registration will see.
func (p *Provider) Export(name string) (*Cluster, error) {
	config, err := p.kind.KubeConfig(name, false)
	if err != nil {
		return nil, errors.Wrapf(err, "could not export kubeconfig for local cluster %s", name)
	}
	if err := p.fs.MkdirAll(p.dir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	path := filepath.Join(p.dir, fmt.Sprintf("kind-%s.yaml", name))
	if err := afero.WriteFile(p.fs, path, []byte(config), 0600); err != nil {
		return nil, errors.Wrapf(err, "could not write kubeconfig for local cluster %s", name)
	}
	logrus.Debugf("exported kubeconfig for local cluster %s to %s", name, path)
	return &Cluster{
		Name:           name,
		ContextName:    "kind-" + name,
		KubeconfigPath: path,
	}, nil
}
