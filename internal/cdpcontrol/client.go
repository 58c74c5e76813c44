package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"session with given id not found",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

// skippedSchemes are page targets that are never user content.
var skippedSchemes = []string{"devtools://", "chrome-extension://"}

type tabSession struct {
	info      PageInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
	bound     bool   // Runtime enabled and mutation binding added on sessionID
}

// Client drives page targets of one browser over CDP.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu   sync.Mutex
	cdp  *rawCDP
	tabs map[target.ID]*tabSession

	tabLocksMu sync.Mutex
	tabLocks   map[target.ID]*sync.Mutex

	// routes maps CDP session IDs to targets for event delivery. It has its
	// own lock because it is read from the WebSocket read loop.
	routesMu sync.RWMutex
	routes   map[string]target.ID
	pages    map[target.ID]*Page
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		tabLocks:    make(map[target.ID]*sync.Mutex),
		routes:      make(map[string]target.ID),
		pages:       make(map[target.ID]*Page),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.cdp.registerEventHandler("Runtime.bindingCalled", c.handleBindingCalled)
	c.cdp.registerEventHandler("Runtime.executionContextsCleared", c.handleContextsCleared)

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for targetID, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach cleanup failed", "target_id", targetID, "error", err)
				}
				cancel()
				session.sessionID = ""
				session.bound = false
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)

	// Every in-page observer is tied to a session that is now gone.
	c.routesMu.Lock()
	c.routes = make(map[string]target.ID)
	pages := make([]*Page, 0, len(c.pages))
	for _, p := range c.pages {
		pages = append(pages, p)
	}
	c.routesMu.Unlock()
	for _, p := range pages {
		p.reset()
	}
}

// ListPages returns every user page target, sorted by tab id.
func (c *Client) ListPages(ctx context.Context) ([]PageInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list pages failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	pages := make([]PageInfo, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s != nil {
			pages = append(pages, s.info)
		}
	}
	c.mu.Unlock()

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].TabID < pages[j].TabID
	})
	slog.Debug("cdpcontrol list pages", "count", len(pages))
	return pages, nil
}

// TabURL returns the current URL of a tab straight from the browser.
func (c *Client) TabURL(ctx context.Context, tabID string) (string, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return "", newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	info, err := cdp.getTargetInfo(ctx, tabID)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no target") {
			return "", newError(CodeTabNotFound, "tab not found: "+tabID, err)
		}
		return "", newError(CodeCDPUnavailable, "target info failed", err)
	}
	return info.URL, nil
}

// ProbeFocus reports the window hosting a tab and whether the tab is visible
// and focused.
func (c *Client) ProbeFocus(ctx context.Context, tabID string) (FocusState, error) {
	var out FocusState
	if err := c.evalOnTab(ctx, tabID, jsProbeFocus(), &out); err != nil {
		return FocusState{}, err
	}

	windowID, err := c.WindowForTab(ctx, tabID)
	if err != nil {
		return FocusState{}, err
	}
	out.WindowID = windowID
	return out, nil
}

// WindowForTab returns the browser window hosting a tab.
func (c *Client) WindowForTab(ctx context.Context, tabID string) (browser.WindowID, error) {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return 0, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	windowID, err := cdp.getWindowForTarget(ctx, tabID)
	if err != nil {
		return 0, newError(CodeCDPUnavailable, "window lookup failed", err)
	}
	return windowID, nil
}

func (c *Client) evalOnTab(ctx context.Context, tabID, js string, out any) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return newError(CodeValidation, "tab id is required", nil)
	}

	lock := c.tabLock(target.ID(tabID))
	lock.Lock()
	defer lock.Unlock()

	// First attempt.
	session, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		slog.Debug("cdpcontrol tab resolve failed", "tab_id", tabID, "error", err)
	} else {
		err = c.evalOnSession(ctx, session, tabID, js, out)
	}
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	// Retry after recovery.
	slog.Warn("cdpcontrol eval retry after transient failure", "tab_id", tabID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else {
		if syncErr := c.refreshTabs(ctx); syncErr != nil {
			slog.Warn("cdpcontrol tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
		}
	}

	session, err = c.resolveTabSession(ctx, tabID)
	if err != nil {
		return err
	}
	return c.evalOnSession(ctx, session, tabID, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, targetID, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	// Ensure we have a session attached to this target.
	sessionID, err := c.ensureSession(ctx, cdp, session, targetID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Debug("cdpcontrol eval failed", "target_id", targetID, "error", err)
		// Reset session so a fresh attach happens on retry.
		c.dropSession(session)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, targetID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	session.sessionID = sid
	session.bound = false

	c.routesMu.Lock()
	c.routes[sid] = target.ID(targetID)
	c.routesMu.Unlock()

	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

// ensureBinding enables Runtime events on the tab's session and installs the
// mutation binding. It is a no-op once done for the current session.
func (c *Client) ensureBinding(ctx context.Context, tabID string) error {
	session, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sid, err := c.ensureSession(ctx, cdp, session, tabID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.bound && session.sessionID == sid {
		return nil
	}
	if err := cdp.enableRuntime(ctx, sid); err != nil {
		return newError(CodeEvalFailure, "enable runtime failed", err)
	}
	if err := cdp.addBinding(ctx, sid, mutationBinding); err != nil {
		return newError(CodeEvalFailure, "add binding failed", err)
	}
	session.bound = true
	slog.Debug("cdpcontrol mutation binding installed", "tab_id", tabID, "session_id", sid)
	return nil
}

func (c *Client) dropSession(session *tabSession) {
	session.mu.Lock()
	sid := session.sessionID
	session.sessionID = ""
	session.bound = false
	session.mu.Unlock()

	if sid == "" {
		return
	}
	c.routesMu.Lock()
	delete(c.routes, sid)
	c.routesMu.Unlock()
}

func (c *Client) resolveTabSession(ctx context.Context, tabID string) (*tabSession, error) {
	if session, found := c.lookupTabSession(tabID); found {
		return session, nil
	}

	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}

	if session, found := c.lookupTabSession(tabID); found {
		return session, nil
	}
	return nil, newError(CodeTabNotFound, "tab not found: "+tabID, nil)
}

func (c *Client) lookupTabSession(tabID string) (*tabSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(tabID)]
	return session, session != nil
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncTabsLocked(ctx)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	expected := make(map[target.ID]PageInfo)
	for _, t := range targets {
		if t.Type != "page" || skippedPage(t.URL) {
			continue
		}
		expected[t.TargetID] = PageInfo{
			TabID: string(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
		}
	}

	for targetID, session := range c.tabs {
		if _, ok := expected[targetID]; ok {
			continue
		}
		if session != nil {
			c.dropSession(session)
		}
		delete(c.tabs, targetID)
	}

	for targetID, info := range expected {
		session := c.tabs[targetID]
		if session != nil {
			session.info = info
			continue
		}
		c.tabs[targetID] = &tabSession{info: info}
	}

	// Prune tab locks for tabs no longer present.
	c.tabLocksMu.Lock()
	for id := range c.tabLocks {
		if _, ok := c.tabs[id]; !ok {
			delete(c.tabLocks, id)
		}
	}
	c.tabLocksMu.Unlock()

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "pages", len(c.tabs))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil && c.cdp.connected()
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(targetID target.ID) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[targetID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[targetID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeTabNotFound, CodeValidation:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

func skippedPage(url string) bool {
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}
