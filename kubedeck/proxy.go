package kubedeck

import (
	"encoding/json"
	"net/http"

	"github.com/kubedeck/kubedeck/pkg/deckmetrics"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-password/password"
	"k8s.io/client-go/rest"
	"k8s.io/kubectl/pkg/proxy"
)

// AuthHeader carries the hub session token on every proxied request.
// The token is minted per daemon run and handed only to local callers,
// so a stray process cannot ride an open proxy port.
const AuthHeader = "X-Kubedeck-Authorization"

func newSessionToken() (string, error) {
	token, err := password.Generate(64, 10, 0, false, true)
	return token, errors.Wrap(err, "could not generate the proxy session token")
}

// newProxyHandler wraps the upstream-authenticating kubectl proxy
// handler for one cluster with the hub's token check and request
// accounting.
func newProxyHandler(restConfig *rest.Config, clusterID, token string) (http.Handler, error) {
	upstream, err := proxy.NewProxyHandler("/", nil, restConfig, 0, false)
	if err != nil {
		return nil, errors.Wrapf(err, "could not build proxy handler for cluster %s", clusterID)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(AuthHeader) != token {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid session token")
			return
		}
		deckmetrics.CountProxyRequest(clusterID)
		upstream.ServeHTTP(w, r)
	}), nil
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
