package kubedeck

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kubedeck/kubedeck/pkg/clusterstore"
	"github.com/kubedeck/kubedeck/pkg/kubeconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Cluster is the live proxy context of one registered cluster: the
// auth handle derived from its kubeconfig, the token-checking proxy
// handler, the bound proxy server when one is running, and the cached
// runtime status. Everything here is rebuilt from the stored record
// after a restart or a preference change.
type Cluster struct {
	mu     sync.Mutex
	record *clusterstore.Record
	token  string

	restConfig *rest.Config
	handler    http.Handler
	server     *http.Server
	listener   net.Listener
	status     Status
}

func newCluster(record *clusterstore.Record, token string) *Cluster {
	return &Cluster{record: record, token: token}
}

func (c *Cluster) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.ID
}

// Record returns a copy of the persisted record.
func (c *Cluster) Record() clusterstore.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.record
}

func (c *Cluster) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return summarize(c.record, c.status)
}

// Status returns the cached runtime status from the last refresh.
func (c *Cluster) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RESTConfig returns the cluster's auth handle, building it on first
// use.
func (c *Cluster) RESTConfig() (*rest.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restConfigLocked()
}

// setRecord swaps the persisted record in and drops the derived auth
// handle and handler so the next access rebuilds them. The caller stops
// the proxy first.
func (c *Cluster) setRecord(record *clusterstore.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = record
	c.restConfig = nil
	c.handler = nil
}

func (c *Cluster) restConfigLocked() (*rest.Config, error) {
	if c.restConfig != nil {
		return c.restConfig, nil
	}
	restConfig, err := kubeconfig.RESTConfig(c.record.KubeconfigPath, c.record.ContextName)
	if err != nil {
		return nil, errors.Wrapf(errProxyNotConfigured, "cluster %s: %v", c.record.ID, err)
	}
	c.restConfig = restConfig
	return restConfig, nil
}

func (c *Cluster) handlerLocked() (http.Handler, error) {
	if c.handler != nil {
		return c.handler, nil
	}
	restConfig, err := c.restConfigLocked()
	if err != nil {
		return nil, err
	}
	handler, err := newProxyHandler(restConfig, c.record.ID, c.token)
	if err != nil {
		return nil, err
	}
	c.handler = handler
	return handler, nil
}

// Handler returns the token-checking proxy handler so the router can
// dispatch in-process without requiring a bound port.
func (c *Cluster) Handler() (http.Handler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlerLocked()
}

// StartProxy binds the proxy server on the loopback interface and
// reports the bound port. A previously assigned port is reused when
// still free; otherwise any free port is taken. Starting a running
// proxy returns the current port.
func (c *Cluster) StartProxy(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return c.record.Port, nil
	}

	handler, err := c.handlerLocked()
	if err != nil {
		return 0, err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", c.record.Port))
	if err != nil && c.record.Port != 0 {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return 0, errors.Wrapf(err, "could not bind proxy for cluster %s", c.record.ID)
	}

	server := &http.Server{Handler: handler}
	clusterID := c.record.ID
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logrus.WithError(serveErr).Warnf("proxy server for cluster %s stopped", clusterID)
		}
	}()

	c.server = server
	c.listener = listener
	c.record.Port = listener.Addr().(*net.TCPAddr).Port
	logrus.Debugf("proxy for cluster %s listening on 127.0.0.1:%d", clusterID, c.record.Port)
	return c.record.Port, nil
}

// StopProxy drains the proxy briefly, then closes it so in-flight
// requests cannot outlive the cluster context. Stopping a stopped
// proxy is a no-op.
func (c *Cluster) StopProxy(ctx context.Context) {
	c.mu.Lock()
	server := c.server
	clusterID := c.record.ID
	c.server = nil
	c.listener = nil
	c.mu.Unlock()
	if server == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Debugf("proxy shutdown for cluster %s did not drain", clusterID)
	}
	_ = server.Close()
}

// Refresh probes the cluster and rebuilds the cached status:
// reachability, reported server version and the cluster-wide event
// count. The status is returned even when the probe fails; the error
// says why it failed.
func (c *Cluster) Refresh(ctx context.Context) (Status, error) {
	c.mu.Lock()
	restConfig, err := c.restConfigLocked()
	c.mu.Unlock()

	status := Status{LastRefresh: time.Now()}
	if err != nil {
		c.setStatus(status)
		return status, err
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		c.setStatus(status)
		return status, errors.WithStack(err)
	}
	serverVersion, err := discoveryClient.ServerVersion()
	if err != nil {
		c.setStatus(status)
		return status, errors.Wrap(err, "cluster version probe failed")
	}
	status.Online = true
	status.ServerVersion = serverVersion.GitVersion

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err == nil {
		events, listErr := clientset.CoreV1().Events(metav1.NamespaceAll).List(ctx, metav1.ListOptions{Limit: 1000})
		if listErr == nil {
			status.EventCount = len(events.Items)
			if events.RemainingItemCount != nil {
				status.EventCount += int(*events.RemainingItemCount)
			}
		} else {
			logrus.WithError(listErr).Debugf("event count probe for cluster %s failed", c.ID())
		}
	}

	c.setStatus(status)
	return status, nil
}

func (c *Cluster) setStatus(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}
