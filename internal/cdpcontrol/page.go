package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/tab_titler/internal/resolver"
)

const pageEventBuffer = 32

// Page is one tab seen through the client. It implements resolver.Page.
type Page struct {
	client *Client
	tabID  target.ID
	events chan resolver.PageEvent
}

// Page returns the page handle for a tab and starts routing its Runtime
// events. Call Close when the tab is no longer monitored.
func (c *Client) Page(tabID string) *Page {
	id := target.ID(tabID)

	c.routesMu.Lock()
	defer c.routesMu.Unlock()
	if p, ok := c.pages[id]; ok {
		return p
	}
	p := &Page{
		client: c,
		tabID:  id,
		events: make(chan resolver.PageEvent, pageEventBuffer),
	}
	c.pages[id] = p
	return p
}

// OpenPage is Page for callers that only know resolver.Page. The returned
// func closes the page.
func (c *Client) OpenPage(tabID string) (resolver.Page, func()) {
	p := c.Page(tabID)
	return p, p.Close
}

// Close stops event routing for the page.
func (p *Page) Close() {
	c := p.client
	c.routesMu.Lock()
	if c.pages[p.tabID] == p {
		delete(c.pages, p.tabID)
	}
	c.routesMu.Unlock()
}

func (p *Page) TabID() string { return string(p.tabID) }

func (p *Page) Events() <-chan resolver.PageEvent { return p.events }

func (p *Page) QueryText(ctx context.Context, selector string) (string, bool, error) {
	var out TextResult
	if err := p.client.evalOnTab(ctx, string(p.tabID), jsQueryText(selector), &out); err != nil {
		return "", false, err
	}
	return out.Text, out.Found, nil
}

func (p *Page) SetTitle(ctx context.Context, title string) error {
	return p.client.evalOnTab(ctx, string(p.tabID), jsSetTitle(title), nil)
}

func (p *Page) Observe(ctx context.Context, selector string, attributes []string) (bool, error) {
	if err := p.client.ensureBinding(ctx, string(p.tabID)); err != nil {
		return false, err
	}
	var out ObserveResult
	if err := p.client.evalOnTab(ctx, string(p.tabID), jsObserve(selector, attributes), &out); err != nil {
		return false, err
	}
	return out.Attached, nil
}

// emit never blocks the CDP read loop. A full buffer drops mutation batches;
// a reset evicts the oldest queued event instead so it is never lost.
func (p *Page) emit(ev resolver.PageEvent) {
	select {
	case p.events <- ev:
		return
	default:
	}
	if !ev.Reset {
		slog.Warn("page event dropped, buffer full", "tab_id", p.tabID)
		return
	}
	select {
	case <-p.events:
	default:
	}
	select {
	case p.events <- ev:
	default:
		slog.Warn("page reset dropped, buffer full", "tab_id", p.tabID)
	}
}

func (p *Page) reset() {
	p.emit(resolver.PageEvent{Reset: true})
}

func (c *Client) pageForSession(sessionID string) *Page {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	id, ok := c.routes[sessionID]
	if !ok {
		return nil
	}
	return c.pages[id]
}

func (c *Client) handleBindingCalled(sessionID string, params json.RawMessage) {
	var ev runtime.EventBindingCalled
	if err := json.Unmarshal(params, &ev); err != nil || ev.Name != mutationBinding {
		return
	}
	p := c.pageForSession(sessionID)
	if p == nil {
		return
	}

	var batch []resolver.Mutation
	if err := json.Unmarshal([]byte(ev.Payload), &batch); err != nil {
		slog.Warn("cdpcontrol mutation payload invalid", "tab_id", p.tabID, "error", err)
		return
	}
	p.emit(resolver.PageEvent{Mutations: batch})
}

func (c *Client) handleContextsCleared(sessionID string, _ json.RawMessage) {
	p := c.pageForSession(sessionID)
	if p == nil {
		return
	}
	slog.Debug("cdpcontrol page contexts cleared", "tab_id", p.tabID)
	p.reset()
}
