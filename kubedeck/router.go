package kubedeck

import (
	"net"
	"net/http"
	"strings"
)

// Router is the single origin in front of every cluster proxy. It
// resolves which cluster a request is for, strips the routing prefix
// and dispatches to that cluster's handler in-process.
//
// Two addressing forms are understood:
//
//	http://127.0.0.1:<port>/<cluster-id>/api/v1/pods   (loopback, path form)
//	http://<cluster-id>.kubedeck.local/api/v1/pods     (subdomain form)
type Router struct {
	hub *Hub
}

func NewRouter(hub *Hub) *Router {
	return &Router{hub: hub}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clusterID, upstreamPath := splitClusterRequest(r)
	if clusterID == "" {
		writeJSONError(w, http.StatusNotFound, "no cluster addressed by this request")
		return
	}
	cluster, err := rt.hub.Get(clusterID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "cluster "+clusterID+" is not registered")
		return
	}
	handler, err := cluster.Handler()
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "cluster "+clusterID+" has no usable connection")
		return
	}

	r.URL.Path = upstreamPath
	handler.ServeHTTP(w, r)
}

// splitClusterRequest extracts the cluster id. Loopback hosts carry it
// as the first path segment and the segment is stripped before the
// internal forward; any other host carries it as the leading subdomain
// label with the path untouched.
func splitClusterRequest(r *http.Request) (clusterID, upstreamPath string) {
	host := r.Host
	if splitHost, _, err := net.SplitHostPort(host); err == nil {
		host = splitHost
	}

	ip := net.ParseIP(host)
	loopback := host == "localhost" || (ip != nil && ip.IsLoopback())
	if !loopback {
		label, _, found := strings.Cut(host, ".")
		if !found || label == "" {
			return "", r.URL.Path
		}
		return label, r.URL.Path
	}

	trimmed := strings.TrimPrefix(r.URL.Path, "/")
	segment, rest, _ := strings.Cut(trimmed, "/")
	if segment == "" {
		return "", r.URL.Path
	}
	return segment, "/" + rest
}
