// Package controller wires host events, the focus tracker and the per-tab
// title resolvers together.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"

	"github.com/dgnsrekt/tab_titler/internal/cdpcontrol"
	"github.com/dgnsrekt/tab_titler/internal/focus"
	"github.com/dgnsrekt/tab_titler/internal/hostevents"
	"github.com/dgnsrekt/tab_titler/internal/messaging"
	"github.com/dgnsrekt/tab_titler/internal/relay"
	"github.com/dgnsrekt/tab_titler/internal/resolver"
)

// PageSource opens the page handle of a tab. The returned func releases it.
type PageSource interface {
	OpenPage(tabID string) (resolver.Page, func())
}

// URLSource resolves a tab's current URL.
type URLSource interface {
	TabURL(ctx context.Context, tabID string) (string, error)
}

// WindowSource resolves a window's active tab.
type WindowSource interface {
	ActiveTab(ctx context.Context, windowID browser.WindowID) (string, error)
}

// Host joins a URL source and a window source into a focus.Host.
type Host struct {
	URLs    URLSource
	Windows WindowSource
}

func (h Host) TabURL(ctx context.Context, tabID string) (string, error) {
	return h.URLs.TabURL(ctx, tabID)
}

func (h Host) ActiveTab(ctx context.Context, windowID browser.WindowID) (string, error) {
	return h.Windows.ActiveTab(ctx, windowID)
}

// Options configures a Service.
type Options struct {
	Origin   string
	Resolver resolver.Config
}

// FocusChange is the published form of a focus.Change.
type FocusChange struct {
	Previous string    `json:"previous,omitempty"`
	Current  string    `json:"current,omitempty"`
	Reason   string    `json:"reason"`
	Notified bool      `json:"notified"`
	At       time.Time `json:"at"`
}

// Status is the service-wide view served by the API.
type Status struct {
	Origin          string            `json:"origin"`
	TrackedTab      string            `json:"tracked_tab,omitempty"`
	MonitoredTabs   []resolver.Status `json:"monitored_tabs"`
	Receivers       int               `json:"receivers"`
	SSEClients      int               `json:"sse_clients"`
	LastFocusChange *FocusChange      `json:"last_focus_change,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
}

type monitoredTab struct {
	url    string
	res    *resolver.Resolver
	cancel context.CancelFunc
	done   chan struct{}
}

// Service runs the focus tracker and one title resolver per monitored tab.
type Service struct {
	origin    string
	cfg       resolver.Config
	pages     PageSource
	selectors resolver.SelectorSource
	router    *messaging.Router
	broker    *relay.Broker
	tracker   *focus.Tracker
	startedAt time.Time

	mu         sync.RWMutex
	tabs       map[string]*monitoredTab
	lastChange *FocusChange
}

func NewService(opts Options, host focus.Host, pages PageSource, sel resolver.SelectorSource, router *messaging.Router, broker *relay.Broker) *Service {
	s := &Service{
		origin:    opts.Origin,
		cfg:       opts.Resolver,
		pages:     pages,
		selectors: sel,
		router:    router,
		broker:    broker,
		startedAt: time.Now(),
		tabs:      make(map[string]*monitoredTab),
	}
	s.tracker = focus.NewTracker(opts.Origin, host, router, s.onFocusChange)
	return s
}

// Run consumes host events until ctx is done or events is closed, then stops
// every resolver.
func (s *Service) Run(ctx context.Context, events <-chan hostevents.Event) error {
	defer s.stopAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, ev hostevents.Event) {
	switch ev.Kind {
	case hostevents.KindTabOpened, hostevents.KindTabNavigated:
		// Start resolvers first so a tab tracked by this event already has
		// an inbox.
		s.supervise(ctx, ev.TabID, ev.URL)
		s.tracker.Handle(ctx, ev)
	case hostevents.KindTabClosed:
		s.tracker.Handle(ctx, ev)
		s.stop(ev.TabID, "tab closed")
	default:
		s.tracker.Handle(ctx, ev)
	}
}

// supervise starts or stops the resolver of a tab according to its URL.
func (s *Service) supervise(ctx context.Context, tabID, url string) {
	if !focus.MatchesOrigin(url, s.origin) {
		s.stop(tabID, "left origin")
		return
	}

	s.mu.Lock()
	if mt, ok := s.tabs[tabID]; ok {
		mt.url = url
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.start(ctx, tabID, url)
}

func (s *Service) start(ctx context.Context, tabID, url string) {
	page, release := s.pages.OpenPage(tabID)
	inbox, unregister := s.router.Register(tabID)
	res := resolver.New(tabID, page, s.selectors, inbox, s.cfg, s.onTitleApplied)

	runCtx, cancel := context.WithCancel(ctx)
	mt := &monitoredTab{url: url, res: res, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.tabs[tabID] = mt
	s.mu.Unlock()

	go func() {
		defer close(mt.done)
		defer release()
		defer unregister()
		if err := res.Run(runCtx); err != nil {
			slog.Error("title resolver failed", "tab_id", tabID, "error", err)
		}
	}()
	slog.Info("monitoring tab", "tab_id", tabID, "url", url)
}

func (s *Service) stop(tabID, reason string) {
	s.mu.Lock()
	mt, ok := s.tabs[tabID]
	if ok {
		delete(s.tabs, tabID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	mt.cancel()
	<-mt.done
	slog.Info("stopped monitoring tab", "tab_id", tabID, "reason", reason)
}

func (s *Service) stopAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.tabs))
	for id := range s.tabs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		s.stop(id, "shutdown")
	}
}

func (s *Service) onFocusChange(c focus.Change) {
	fc := &FocusChange{
		Previous: c.Previous,
		Current:  c.Current,
		Reason:   c.Reason,
		Notified: c.Notified,
		At:       time.Now(),
	}
	s.mu.Lock()
	s.lastChange = fc
	s.mu.Unlock()

	if err := s.broker.PublishJSON(relay.FeedFocus, fc); err != nil {
		slog.Warn("focus event not published", "error", err)
	}
}

func (s *Service) onTitleApplied(st resolver.Status) {
	slog.Info("tab title applied", "tab_id", st.TabID, "source", st.Source, "title", resolver.TrimmedTitle(st.Title))
	if err := s.broker.PublishJSON(relay.FeedTitle, st); err != nil {
		slog.Warn("title event not published", "error", err)
	}
}

// Status returns the service-wide status.
func (s *Service) Status() Status {
	s.mu.RLock()
	out := Status{
		Origin:        s.origin,
		TrackedTab:    s.tracker.Tracked(),
		MonitoredTabs: make([]resolver.Status, 0, len(s.tabs)),
		StartedAt:     s.startedAt,
	}
	for _, mt := range s.tabs {
		out.MonitoredTabs = append(out.MonitoredTabs, mt.res.Status())
	}
	if s.lastChange != nil {
		fc := *s.lastChange
		out.LastFocusChange = &fc
	}
	s.mu.RUnlock()

	sort.Slice(out.MonitoredTabs, func(i, j int) bool {
		return out.MonitoredTabs[i].TabID < out.MonitoredTabs[j].TabID
	})
	out.Receivers = s.router.Receivers()
	out.SSEClients = s.broker.ClientCount()
	return out
}

// TabStatus returns the resolver status of a monitored tab.
func (s *Service) TabStatus(tabID string) (resolver.Status, error) {
	mt, err := s.lookup(tabID)
	if err != nil {
		return resolver.Status{}, err
	}
	return mt.res.Status(), nil
}

// TriggerPass asks the tab's resolver for one extra pass.
func (s *Service) TriggerPass(tabID string) error {
	mt, err := s.lookup(tabID)
	if err != nil {
		return err
	}
	mt.res.Trigger()
	slog.Debug("manual pass requested", "tab_id", tabID)
	return nil
}

// NotifyBlur delivers a focus-loss message to the tab as if it had lost
// focus.
func (s *Service) NotifyBlur(tabID string) error {
	if _, err := s.lookup(tabID); err != nil {
		return err
	}
	tabID = strings.TrimSpace(tabID)
	if err := s.router.Send(tabID, messaging.TabBlurred()); err != nil {
		if errors.Is(err, messaging.ErrNoReceiver) {
			return &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab is not listening: " + tabID, Cause: err}
		}
		return err
	}
	return nil
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) lookup(tabID string) (*monitoredTab, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return nil, err
	}
	tabID = strings.TrimSpace(tabID)
	s.mu.RLock()
	mt, ok := s.tabs[tabID]
	s.mu.RUnlock()
	if !ok {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab is not monitored: " + tabID}
	}
	return mt, nil
}
