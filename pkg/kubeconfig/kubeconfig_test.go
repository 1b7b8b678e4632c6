package kubeconfig

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multiContextConfig = `
apiVersion: v1
kind: Config
clusters:
- name: prod
  cluster:
    server: https://prod.example.com:6443
- name: staging
  cluster:
    server: https://staging.example.com:6443
contexts:
- name: prod-admin
  context:
    cluster: prod
    user: admin
    namespace: platform
- name: staging-admin
  context:
    cluster: staging
    user: admin
- name: broken
  context:
    cluster: missing
    user: admin
users:
- name: admin
  user:
    token: sekret
current-context: prod-admin
`

func TestSplit(t *testing.T) {
	cfg, err := Load([]byte(multiContextConfig))
	require.NoError(t, err)

	results := Split(cfg)
	require.Len(t, results, 3)

	// Ordered by context name
	assert.Equal(t, "broken", results[0].ContextName)
	assert.Equal(t, "prod-admin", results[1].ContextName)
	assert.Equal(t, "staging-admin", results[2].ContextName)

	// The context pointing at an undefined cluster fails alone
	assert.True(t, errors.Is(results[0].Err, ErrInvalidContext))
	assert.Nil(t, results[0].Config)

	for _, result := range results[1:] {
		require.NoError(t, result.Err)
		require.NotNil(t, result.Config)
		assert.Equal(t, result.ContextName, result.Config.CurrentContext)
		// Minified: exactly the referenced cluster and user survive
		assert.Len(t, result.Config.Contexts, 1)
		assert.Len(t, result.Config.Clusters, 1)
		assert.Len(t, result.Config.AuthInfos, 1)
		assert.NoError(t, Validate(result.Config))
	}
}

func TestValidateRejectsEmptyServer(t *testing.T) {
	cfg, err := Load([]byte(`
apiVersion: v1
kind: Config
clusters:
- name: nowhere
  cluster: {}
contexts:
- name: nowhere-ctx
  context:
    cluster: nowhere
    user: nobody
users:
- name: nobody
  user: {}
current-context: nowhere-ctx
`))
	require.NoError(t, err)
	assert.True(t, errors.Is(Validate(cfg), ErrInvalidContext))
}

func TestServerAndNamespace(t *testing.T) {
	cfg, err := Load([]byte(multiContextConfig))
	require.NoError(t, err)

	server, err := Server(cfg, "prod-admin")
	require.NoError(t, err)
	assert.Equal(t, "https://prod.example.com:6443", server)

	_, err = Server(cfg, "nope")
	assert.Error(t, err)

	assert.Equal(t, "platform", Namespace(cfg, "prod-admin"))
	assert.Equal(t, "default", Namespace(cfg, "staging-admin"))
	assert.Equal(t, "default", Namespace(cfg, "nope"))
}

func TestWriteAndReload(t *testing.T) {
	cfg, err := Load([]byte(multiContextConfig))
	require.NoError(t, err)

	split := Split(cfg)[1] // prod-admin
	require.NoError(t, split.Err)

	path := filepath.Join(t.TempDir(), "kubeconfigs", "cluster-1")
	require.NoError(t, WriteToFile(split.Config, path))

	reloaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "prod-admin", reloaded.CurrentContext)
	assert.Equal(t, []string{"prod-admin"}, ContextNames(reloaded))

	restConfig, err := RESTConfig(path, "prod-admin")
	require.NoError(t, err)
	assert.Equal(t, "https://prod.example.com:6443", restConfig.Host)
	assert.Equal(t, "sekret", restConfig.BearerToken)
}
