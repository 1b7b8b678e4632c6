package kubedeck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kubedeck/kubedeck/goutil/errorutil"
	"github.com/kubedeck/kubedeck/pkg/buildstamp"
	"github.com/kubedeck/kubedeck/pkg/clusterstore"
	"github.com/kubedeck/kubedeck/pkg/deckmetrics"
	"github.com/kubedeck/kubedeck/pkg/nodeshell"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// API is the local command surface the UI talks to: cluster CRUD and
// lifecycle, watch subscriptions with their SSE fan-out, the shell
// websocket endpoint, metrics and version. It binds to the loopback
// interface only.
type API struct {
	hub     *Hub
	streams *StreamManager
	echo    *echo.Echo
}

func NewAPI(hub *Hub, streams *StreamManager) *API {
	api := &API{hub: hub, streams: streams}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = api.errorHandler

	e.GET("/clusters", api.listClusters)
	e.POST("/clusters", api.addCluster)
	e.GET("/clusters/:id", api.getCluster)
	e.DELETE("/clusters/:id", api.removeCluster)
	e.POST("/clusters/:id/refresh", api.refreshCluster)
	e.POST("/clusters/:id/activate", api.activateCluster)
	e.POST("/clusters/:id/stop", api.stopCluster)
	e.PATCH("/clusters/:id/preferences", api.savePreferences)
	e.PUT("/clusters/:id/icon", api.setIcon)
	e.DELETE("/clusters/:id/icon", api.resetIcon)
	e.GET("/clusters/:id/features", api.listFeatures)
	e.POST("/clusters/:id/features/:name", api.installFeature)
	e.DELETE("/clusters/:id/features/:name", api.uninstallFeature)
	e.GET("/clusters/:id/shell", api.openShell)
	e.GET("/subscriptions", api.listSubscriptions)
	e.POST("/subscriptions", api.subscribe)
	e.DELETE("/subscriptions/:sid", api.unsubscribe)
	e.GET("/events", api.events)
	e.GET("/snapshot", api.snapshot)
	e.GET("/metrics", echo.WrapHandler(deckmetrics.Handler()))
	e.GET("/version", api.version)

	api.echo = e
	return api
}

// Handler exposes the routed handler, mainly for tests.
func (a *API) Handler() http.Handler {
	return a.echo
}

// Start serves the API on addr until the context is canceled.
func (a *API) Start(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.echo.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Debug("command api shutdown did not drain")
		}
	}()

	logrus.Infof("command api listening on %s", addr)
	if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "command api server failed")
	}
	return nil
}

// errorHandler renders every handler error as {"error": …}, preferring
// the user-facing half of combined errors and mapping the hub
// sentinels to their status codes.
func (a *API) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
	}
	switch {
	case errors.Is(err, ErrClusterNotFound), errors.Is(err, ErrSubscriptionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrUnknownFeature), errors.Is(err, errNoUsableContexts):
		code = http.StatusBadRequest
	}

	msg := err.Error()
	if userMsg := errorutil.GetUserErrorMessage(err); userMsg != "" {
		msg = userMsg
	}
	if jsonErr := c.JSON(code, map[string]string{"error": msg}); jsonErr != nil {
		logrus.WithError(jsonErr).Debug("could not write error response")
	}
}

func (a *API) listClusters(c echo.Context) error {
	return c.JSON(http.StatusOK, a.hub.List())
}

type addClusterRequest struct {
	// Path registers a kubeconfig file in place.
	Path string `json:"path"`

	// Content registers a pasted kubeconfig document.
	Content string `json:"content"`
}

func (a *API) addCluster(c echo.Context) error {
	var req addClusterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var result *AddResult
	var err error
	switch {
	case req.Path != "":
		result, err = a.hub.Add(c.Request().Context(), req.Path)
	case req.Content != "":
		result, err = a.hub.AddContent(c.Request().Context(), []byte(req.Content))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "either path or content is required")
	}
	if err != nil {
		if result != nil && len(result.Skipped) > 0 {
			// the per-context reasons are more useful than one message
			return c.JSON(http.StatusBadRequest, result)
		}
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (a *API) getCluster(c echo.Context) error {
	cluster, err := a.hub.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cluster.Summary())
}

func (a *API) removeCluster(c echo.Context) error {
	if err := a.hub.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) refreshCluster(c echo.Context) error {
	status, err := a.hub.Refresh(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrClusterNotFound) {
		return err
	}
	// a failed probe still answers with the offline status
	return c.JSON(http.StatusOK, status)
}

func (a *API) activateCluster(c echo.Context) error {
	summary, err := a.hub.Activate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (a *API) stopCluster(c echo.Context) error {
	if err := a.hub.Stop(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) savePreferences(c echo.Context) error {
	var patch clusterstore.Preferences
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid preference patch")
	}
	summary, err := a.hub.SavePreferences(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (a *API) setIcon(c echo.Context) error {
	file, err := c.FormFile("icon")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field icon is required")
	}
	content, err := file.Open()
	if err != nil {
		return errors.Wrap(err, "could not read the uploaded icon")
	}
	defer content.Close()

	summary, err := a.hub.SetIcon(c.Request().Context(), c.Param("id"), file.Filename, content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (a *API) resetIcon(c echo.Context) error {
	summary, err := a.hub.ResetIcon(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (a *API) listFeatures(c echo.Context) error {
	features, err := a.hub.ListFeatures(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, features)
}

func (a *API) installFeature(c echo.Context) error {
	if err := a.hub.InstallFeature(c.Request().Context(), c.Param("id"), c.Param("name")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) uninstallFeature(c echo.Context) error {
	if err := a.hub.UninstallFeature(c.Request().Context(), c.Param("id"), c.Param("name")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

var shellUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the listener is loopback-only; cross-origin pages cannot reach it
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (a *API) openShell(c echo.Context) error {
	manager, err := a.hub.ShellManager(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	conn, err := shellUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "could not upgrade the shell socket")
	}
	a.runShell(c.Request().Context(), manager, conn, c.QueryParam("node"))
	return nil
}

// runShell drives one debug session over an upgraded socket and always
// finishes with the close code the session outcome maps to.
func (a *API) runShell(ctx context.Context, manager *nodeshell.Manager, conn *websocket.Conn, node string) {
	defer conn.Close()

	session, err := manager.Open(ctx, node)
	if err == nil {
		err = session.Attach(conn)
	}

	code := nodeshell.CloseCodeForError(err)
	var reason string
	switch code {
	case nodeshell.ClosePodNotReady:
		reason = "node shell pod failed to start"
	case nodeshell.CloseSessionFailed:
		reason = "session failed"
	}
	if err != nil {
		logrus.WithError(err).Warnf("debug session ended with close code %d", code)
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

type subscribeRequest struct {
	API string `json:"api"`
}

func (a *API) subscribe(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !strings.HasPrefix(req.API, "/") {
		return echo.NewHTTPError(http.StatusBadRequest, "api must be an absolute resource path")
	}
	id, _ := a.streams.Subscribe(req.API)
	return c.JSON(http.StatusCreated, map[string]string{"id": id, "api": req.API})
}

func (a *API) unsubscribe(c echo.Context) error {
	if err := a.streams.Unsubscribe(c.Param("sid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) listSubscriptions(c echo.Context) error {
	return c.JSON(http.StatusOK, a.streams.Subscriptions())
}

// events tails a subscribed resource as server-sent events until the
// client goes away.
func (a *API) events(c echo.Context) error {
	apiPath := c.QueryParam("api")
	if apiPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "api query parameter is required")
	}
	store, ok := a.streams.Store(apiPath)
	if !ok {
		return errors.Wrapf(ErrSubscriptionNotFound, "api %s", apiPath)
	}

	events, cancel := store.Listen(64)
	defer cancel()

	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set("Cache-Control", "no-cache")
	response.WriteHeader(http.StatusOK)
	response.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, open := <-events:
			if !open {
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(response, "data: %s\n\n", payload); err != nil {
				return nil
			}
			response.Flush()
		}
	}
}

func (a *API) snapshot(c echo.Context) error {
	apiPath := c.QueryParam("api")
	if apiPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "api query parameter is required")
	}
	store, ok := a.streams.Store(apiPath)
	if !ok {
		return errors.Wrapf(ErrSubscriptionNotFound, "api %s", apiPath)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": store.Snapshot()})
}

func (a *API) version(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": buildstamp.Get().Version()})
}
