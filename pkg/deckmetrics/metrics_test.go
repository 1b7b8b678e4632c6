package deckmetrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	CountProxyRequest("cluster-a")
	CountProxyRequest("cluster-a")
	CountStreamReconnect()
	SetStreamConnected(true)
	CountDownload("1.16.7", "ok")
	AddShellSession()
	RemoveShellSession()
	SetClustersRegistered(3)
	CountClusterRefreshError("cluster-b")

	handler := Handler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `kubedeck_proxy_requests_total{cluster="cluster-a"} 2`), body)
	assert.True(t, strings.Contains(body, "kubedeck_watch_connected 1"), body)
	assert.True(t, strings.Contains(body, "kubedeck_clusters_registered 3"), body)
	assert.True(t, strings.Contains(body, "kubedeck_shell_sessions_active 0"), body)
}
