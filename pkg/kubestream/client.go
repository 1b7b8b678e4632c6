package kubestream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/cenkalti/backoff/v4"
	"github.com/kubedeck/kubedeck/pkg/deckmetrics"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// State of the multiplexed watch connection. Error and StreamEnded are
// pass-through states: the client records them, runs the matching
// recovery and settles back on Disconnected before the next attempt.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateConnected    State = "Connected"
	StateError        State = "Error"
	StateStreamEnded  State = "StreamEnded"
)

type Options struct {
	// WatchPath is the server-push endpoint under the base URL.
	WatchPath string

	// Debounce is the settle delay applied to subscription changes
	// before the query is recomputed and the stream reconnected.
	Debounce time.Duration

	// RetryDelay and MaxRetries bound reconnect attempts after stream
	// errors. A successful connect restores the full budget; an
	// exhausted budget leaves the client Disconnected until the next
	// subscription change or Reconnect call.
	RetryDelay time.Duration
	MaxRetries uint64

	// RefreshInterval bounds the lifetime of any single connection.
	RefreshInterval time.Duration

	// StreamEndSettle coalesces stream-end control lines arriving
	// together into one refresh per collection and a single reconnect.
	StreamEndSettle time.Duration

	HTTPClient *http.Client
}

// Client multiplexes every subscribed resource collection over one
// upstream connection. At most one connection is live at any time;
// all transitions serialize through the client's mutex and stale
// connections identify themselves by generation.
type Client struct {
	baseURL string
	opts    Options
	client  *http.Client
	subs    *subscriptions

	debounced func(func())

	mu         sync.Mutex
	state      State
	generation int
	cancel     context.CancelFunc
	retryTimer *time.Timer
	retry      backoff.BackOff
	runCtx     context.Context
	connQuery  string
}

func NewClient(baseURL string, opts Options) *Client {
	if opts.WatchPath == "" {
		opts.WatchPath = "/api-kube-watch"
	}
	if opts.Debounce == 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 10
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = 5 * time.Minute
	}
	if opts.StreamEndSettle == 0 {
		opts.StreamEndSettle = 100 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		opts:      opts,
		client:    opts.HTTPClient,
		subs:      newSubscriptions(),
		debounced: debounce.New(opts.Debounce),
		state:     StateDisconnected,
		retry:     backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.RetryDelay), opts.MaxRetries),
	}
}

// Subscribe registers stores for delivery and adds their collections
// to the upstream query. The returned function undoes exactly this
// call; a collection leaves the query when its last subscriber is
// gone.
func (c *Client) Subscribe(stores ...Store) (unsubscribe func()) {
	release := c.subs.add(stores...)
	c.debounced(c.onSubscriptionsSettled)
	return func() {
		release()
		c.debounced(c.onSubscriptionsSettled)
	}
}

// ActiveAPIs is the current query set.
func (c *Client) ActiveAPIs() []string {
	return c.subs.activeAPIs()
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnect forces a fresh connection with the current query and
// restores the retry budget.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry.Reset()
	c.startLocked("manual reconnect")
}

// Run supervises the stream until ctx is canceled. Subscriptions made
// earlier connect immediately; later ones connect through the
// debounced settle path.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	if len(c.subs.activeAPIs()) > 0 {
		c.startLocked("start")
	}
	c.mu.Unlock()

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.generation++
			if c.cancel != nil {
				c.cancel()
				c.cancel = nil
			}
			if c.retryTimer != nil {
				c.retryTimer.Stop()
				c.retryTimer = nil
			}
			c.setStateLocked(StateDisconnected)
			c.runCtx = nil
			c.mu.Unlock()
			return nil
		case <-ticker.C:
			c.mu.Lock()
			if c.state == StateConnected {
				c.startLocked("periodic refresh")
			}
			c.mu.Unlock()
		}
	}
}

// onSubscriptionsSettled runs after the debounce window. It reconnects
// only when the settled query differs from the live connection's, so a
// subscribe immediately undone inside the window is a no-op.
func (c *Client) onSubscriptionsSettled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := strings.Join(c.subs.activeAPIs(), "\n")
	if c.state == StateConnected && query == c.connQuery {
		return
	}
	if query == "" && c.state == StateDisconnected {
		return
	}
	c.retry.Reset()
	c.startLocked("subscription change")
}

// startLocked supersedes any live connection and, when the query is
// non-empty and the client is running, launches a new one. Callers
// hold c.mu.
func (c *Client) startLocked(reason string) {
	c.generation++
	gen := c.generation

	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	apis := c.subs.activeAPIs()
	c.connQuery = strings.Join(apis, "\n")
	if len(apis) == 0 || c.runCtx == nil {
		c.setStateLocked(StateDisconnected)
		return
	}

	connCtx, cancel := context.WithCancel(c.runCtx)
	c.cancel = cancel
	c.setStateLocked(StateConnecting)
	if gen > 1 {
		deckmetrics.CountStreamReconnect()
	}
	logrus.Debugf("watch stream connecting (%s), %d collections", reason, len(apis))

	go c.connect(connCtx, gen, apis)
}

// connState is the per-connection stream-end bookkeeping.
type connState struct {
	mu      sync.Mutex
	ended   map[string]struct{}
	pending bool
}

func (c *Client) connect(ctx context.Context, gen int, apis []string) {
	resp, err := c.dial(ctx, apis)
	if err != nil {
		c.connectionFailed(gen, err)
		return
	}
	defer resp.Body.Close()

	if !c.markConnected(gen) {
		return
	}

	conn := &connState{ended: map[string]struct{}{}}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(line, conn, gen)
	}

	err = scanner.Err()
	if err == nil {
		err = errors.New("upstream closed the stream")
	}
	c.connectionFailed(gen, err)
}

func (c *Client) dial(ctx context.Context, apis []string) (*http.Response, error) {
	query := url.Values{}
	for _, api := range apis {
		query.Add("api", api)
	}
	watchURL := c.baseURL + c.opts.WatchPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "watch stream dial failed")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("watch stream dial failed with status %v", resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) markConnected(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.setStateLocked(StateConnected)
	c.retry.Reset()
	return true
}

func (c *Client) handleLine(line []byte, conn *connState, gen int) {
	var event Event
	if err := json.Unmarshal(line, &event); err != nil {
		logrus.WithError(err).Debug("dropping unparseable watch stream line")
		return
	}

	switch event.Type {
	case StreamEnd:
		c.onStreamEnd(conn, gen, event.URL)
	case Added, Modified, Deleted:
		c.deliver(event)
	default:
		logrus.Debugf("dropping watch stream event of unknown type %q", event.Type)
	}
}

// deliver records the object's resource version on the owning handles,
// then fans the event out to the stores registered for exactly this
// collection.
func (c *Client) deliver(event Event) {
	stores := c.subs.storesFor(event.URL)
	if len(stores) == 0 {
		return
	}

	var meta objectMeta
	if err := json.Unmarshal(event.Object, &meta); err == nil {
		for _, resource := range c.subs.resourcesFor(event.URL) {
			resource.recordVersion(meta.Metadata.Namespace, meta.Metadata.ResourceVersion)
		}
	}
	for _, store := range stores {
		store.Update(event)
	}
}

// onStreamEnd collects the collection and arms the settle timer once;
// every stream-end line landing inside the window joins the same
// refresh-and-reconnect cycle.
func (c *Client) onStreamEnd(conn *connState, gen int, api string) {
	conn.mu.Lock()
	conn.ended[api] = struct{}{}
	armed := conn.pending
	conn.pending = true
	conn.mu.Unlock()

	if armed {
		return
	}
	time.AfterFunc(c.opts.StreamEndSettle, func() {
		c.finishStreamEnd(conn, gen)
	})
}

// finishStreamEnd refreshes each ended collection's resource version,
// then reconnects the whole stream exactly once.
func (c *Client) finishStreamEnd(conn *connState, gen int) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateStreamEnded)
	ctx := c.runCtx
	c.mu.Unlock()

	conn.mu.Lock()
	apis := lo.Keys(conn.ended)
	conn.mu.Unlock()
	sort.Strings(apis)

	for _, api := range apis {
		logrus.Debugf("stream ended for %s, refreshing resource version", api)
		for _, resource := range c.subs.resourcesFor(api) {
			if err := c.refreshResource(ctx, resource); err != nil {
				logrus.WithError(err).Warnf("could not refresh resource version for %s", api)
			}
		}
	}

	c.mu.Lock()
	if gen == c.generation {
		c.startLocked("stream end")
	}
	c.mu.Unlock()
}

// refreshResource asks the upstream for the collection's current
// resource version so the next connection does not resume from a
// cursor the upstream already truncated.
func (c *Client) refreshResource(ctx context.Context, resource *Resource) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	refreshURL := c.baseURL + resource.API() + "?limit=1"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, refreshURL, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "resource version refresh for %s failed", resource.API())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("resource version refresh for %s failed with status %v", resource.API(), resp.StatusCode)
	}
	var list struct {
		Metadata struct {
			ResourceVersion string `json:"resourceVersion"`
		} `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return errors.Wrapf(err, "resource version refresh for %s returned an unreadable list", resource.API())
	}
	resource.recordVersion(clusterWide, list.Metadata.ResourceVersion)
	return nil
}

func (c *Client) connectionFailed(gen int, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.setStateLocked(StateError)
	if c.cancel != nil {
		// release the dead connection's context from the run context
		c.cancel()
		c.cancel = nil
	}

	next := c.retry.NextBackOff()
	if next == backoff.Stop {
		logrus.WithError(cause).Warn("watch stream retry budget exhausted, staying disconnected")
		c.setStateLocked(StateDisconnected)
		return
	}
	logrus.WithError(cause).Debugf("watch stream disconnected, retrying in %s", next)
	c.setStateLocked(StateDisconnected)
	c.retryTimer = time.AfterFunc(next, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen == c.generation {
			c.startLocked("retry")
		}
	})
}

func (c *Client) setStateLocked(next State) {
	if c.state == next {
		return
	}
	logrus.Debugf("watch stream %s -> %s", c.state, next)
	c.state = next
	deckmetrics.SetStreamConnected(next == StateConnected)
}
