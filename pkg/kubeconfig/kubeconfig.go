package kubeconfig

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
	"k8s.io/client-go/tools/clientcmd/api/latest"
)

var (
	ErrNoContexts     = errors.New("kubeconfig has no contexts")
	ErrInvalidContext = errors.New("kubeconfig context is not usable")
)

// Load parses a kubeconfig document. The document may contain any number of
// contexts; use Split to break it apart.
func Load(raw []byte) (*api.Config, error) {
	cfg, err := clientcmd.Load(raw)
	if err != nil {
		return nil, errors.Wrap(err, "Error parsing kubeconfig")
	}
	return cfg, nil
}

// LoadFile parses the kubeconfig at path.
func LoadFile(path string) (*api.Config, error) {
	cfg, err := clientcmd.LoadFromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Error loading kubeconfig from %s", path)
	}
	return cfg, nil
}

// SplitResult is one context carved out of a multi-context kubeconfig. Err is
// set when the context references clusters or users the document does not
// define; its siblings are unaffected.
type SplitResult struct {
	ContextName string
	Config      *api.Config
	Err         error
}

// Split breaks a possibly multi-context config into standalone single-context
// configs, one per context, ordered by context name. Each split keeps only
// the cluster and user its context references.
func Split(cfg *api.Config) []SplitResult {
	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]SplitResult, 0, len(names))
	for _, name := range names {
		single := cfg.DeepCopy()
		single.CurrentContext = name
		err := api.MinifyConfig(single)
		if err != nil {
			results = append(results, SplitResult{
				ContextName: name,
				Err:         errors.Wrapf(ErrInvalidContext, "context %q: %v", name, err),
			})
			continue
		}
		results = append(results, SplitResult{ContextName: name, Config: single})
	}
	return results
}

// Validate checks that a single-context config is structurally usable: the
// context must exist and reference a cluster with a server address and a
// user entry. It does not contact the server.
func Validate(cfg *api.Config) error {
	if len(cfg.Contexts) == 0 {
		return errors.WithStack(ErrNoContexts)
	}
	if err := clientcmd.ConfirmUsable(*cfg, cfg.CurrentContext); err != nil {
		return errors.Wrapf(ErrInvalidContext, "context %q: %v", cfg.CurrentContext, err)
	}
	return nil
}

// Encode serializes a config in the stable v1 kubeconfig format.
func Encode(cfg *api.Config) ([]byte, error) {
	encoded, err := runtime.Encode(latest.Codec, cfg)
	return encoded, errors.Wrap(err, "Error encoding kubeconfig")
}

// WriteToFile stores a config at path, creating parent directories as needed.
// Kubeconfigs carry credentials so the file is not group readable.
func WriteToFile(cfg *api.Config, path string) error {
	if index := strings.LastIndex(path, "/"); index != -1 {
		dir := path[:index+1]
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0744); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return errors.Wrapf(clientcmd.WriteToFile(*cfg, path), "Error writing kubeconfig to %s", path)
}

// ClientConfig builds a deferred client config for one context of the
// kubeconfig at path.
func ClientConfig(path, contextName string) clientcmd.ClientConfig {
	rules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: path}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: contextName}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)
}

// RESTConfig resolves the rest.Config for one context of the kubeconfig at
// path. This is the authentication handle everything else derives from.
func RESTConfig(path, contextName string) (*rest.Config, error) {
	restConfig, err := ClientConfig(path, contextName).ClientConfig()
	if err != nil {
		return nil, errors.Wrapf(err, "Error building rest config for context %q", contextName)
	}
	return restConfig, nil
}

// Server returns the API server URL the named context points at.
func Server(cfg *api.Config, contextName string) (string, error) {
	kubeContext, ok := cfg.Contexts[contextName]
	if !ok {
		return "", errors.Errorf("No kube context named \"%s\" found", contextName)
	}
	cluster, ok := cfg.Clusters[kubeContext.Cluster]
	if !ok {
		return "", errors.Errorf("No cluster named \"%s\" found", kubeContext.Cluster)
	}
	return cluster.Server, nil
}

// Namespace returns the default namespace of the named context, or "default"
// when the context does not set one.
func Namespace(cfg *api.Config, contextName string) string {
	if kubeContext, ok := cfg.Contexts[contextName]; ok && kubeContext.Namespace != "" {
		return kubeContext.Namespace
	}
	return "default"
}

// ContextNames returns the names of the contexts in the config. The slice may
// be empty.
func ContextNames(cfg *api.Config) []string {
	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
