package command

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/kubedeck/kubedeck/deckcli/command/mock"
	"github.com/kubedeck/kubedeck/deckcli/flags"
	"github.com/kubedeck/kubedeck/goutil/errorutil"
	"github.com/kubedeck/kubedeck/kubedeck"
)

// pointClientAt aims the package-level command options at a fake daemon.
func pointClientAt(addr string) {
	cmdOpts = &mock.MockCmdOptions{
		RootCMDFlags: &flags.RootCmdFlags{APIAddr: addr},
	}
}

func (t *Suite) TestAPIClientRoundTrip() {
	req := t.Require()
	ctx := context.Background()

	var postedContentType string
	mux := http.NewServeMux()
	mux.HandleFunc("/clusters", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[{"id":"c1","name":"prod","contextName":"prod"}]`)
		case http.MethodPost:
			postedContentType = r.Header.Get("Content-Type")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"added":[{"id":"c1","name":"prod","contextName":"prod"}]}`)
		}
	})
	mux.HandleFunc("/clusters/c1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	pointClientAt(strings.TrimPrefix(server.URL, "http://"))

	client := newAPIClient()

	var summaries []kubedeck.Summary
	req.NoError(client.get(ctx, "/clusters", &summaries))
	req.Len(summaries, 1)
	req.Equal("prod", summaries[0].Name)

	var result kubedeck.AddResult
	req.NoError(client.post(ctx, "/clusters", map[string]string{"path": "/tmp/kc"}, &result))
	req.Equal("application/json", postedContentType)
	req.Len(result.Added, 1)

	req.NoError(client.delete(ctx, "/clusters/c1"))
}

func (t *Suite) TestAPIClientSurfacesDaemonError() {
	req := t.Require()
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"cluster nope is not registered"}`)
		},
	))
	defer server.Close()
	pointClientAt(strings.TrimPrefix(server.URL, "http://"))

	err := newAPIClient().get(context.Background(), "/clusters/nope", nil)
	req.Error(err)
	req.Equal("cluster nope is not registered", errorutil.GetUserErrorMessage(err))
}

func (t *Suite) TestAPIClientWhenDaemonIsDown() {
	req := t.Require()
	// nothing listens on port 1
	pointClientAt("127.0.0.1:1")

	err := newAPIClient().get(context.Background(), "/clusters", nil)
	req.Error(err)
	req.Contains(errorutil.GetUserErrorMessage(err), "kubedeck daemon")
}

func (t *Suite) TestAPIErrorMessageFallsBackToStatus() {
	resp := &http.Response{
		Status: "500 Internal Server Error",
		Body:   io.NopCloser(strings.NewReader("plain text, not json")),
	}
	t.Require().Equal(
		"the daemon answered 500 Internal Server Error",
		apiErrorMessage(resp),
	)
}
