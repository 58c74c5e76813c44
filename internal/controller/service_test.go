package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/browser"

	"github.com/dgnsrekt/tab_titler/internal/cdpcontrol"
	"github.com/dgnsrekt/tab_titler/internal/hostevents"
	"github.com/dgnsrekt/tab_titler/internal/messaging"
	"github.com/dgnsrekt/tab_titler/internal/relay"
	"github.com/dgnsrekt/tab_titler/internal/resolver"
	"github.com/dgnsrekt/tab_titler/internal/selectors"
)

const origin = "https://gemini.google.com"

type fakePage struct {
	mu     sync.Mutex
	texts  map[string]string
	titles chan string
	events chan resolver.PageEvent
}

func newFakePage() *fakePage {
	return &fakePage{
		texts:  map[string]string{},
		titles: make(chan string, 16),
		events: make(chan resolver.PageEvent, 4),
	}
}

func (p *fakePage) setText(sel, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[sel] = text
}

func (p *fakePage) QueryText(_ context.Context, sel string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.texts[sel]
	return text, ok, nil
}

func (p *fakePage) SetTitle(_ context.Context, title string) error {
	p.titles <- title
	return nil
}

func (p *fakePage) Observe(context.Context, string, []string) (bool, error) { return false, nil }

func (p *fakePage) Events() <-chan resolver.PageEvent { return p.events }

type fakePages struct {
	mu       sync.Mutex
	pages    map[string]*fakePage
	released map[string]int
}

func newFakePages() *fakePages {
	return &fakePages{pages: map[string]*fakePage{}, released: map[string]int{}}
}

func (f *fakePages) page(tabID string) *fakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[tabID]
	if !ok {
		p = newFakePage()
		f.pages[tabID] = p
	}
	return p
}

func (f *fakePages) OpenPage(tabID string) (resolver.Page, func()) {
	return f.page(tabID), func() {
		f.mu.Lock()
		f.released[tabID]++
		f.mu.Unlock()
	}
}

func (f *fakePages) releasedCount(tabID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[tabID]
}

type fakeHost struct {
	mu     sync.Mutex
	urls   map[string]string
	active map[browser.WindowID]string
}

func (h *fakeHost) TabURL(_ context.Context, tabID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	url, ok := h.urls[tabID]
	if !ok {
		return "", errors.New("no such tab")
	}
	return url, nil
}

func (h *fakeHost) ActiveTab(_ context.Context, windowID browser.WindowID) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tabID, ok := h.active[windowID]
	if !ok {
		return "", hostevents.ErrNoActiveTab
	}
	return tabID, nil
}

type harness struct {
	svc    *Service
	pages  *fakePages
	host   *fakeHost
	broker *relay.Broker
	events chan hostevents.Event
	done   chan struct{}
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := selectors.NewStore("")
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	h := &harness{
		pages:  newFakePages(),
		host:   &fakeHost{urls: map[string]string{}, active: map[browser.WindowID]string{}},
		broker: relay.NewBroker(),
		events: make(chan hostevents.Event, 16),
		done:   make(chan struct{}),
	}
	opts := Options{
		Origin: origin,
		Resolver: resolver.Config{
			StartupDelay:  time.Hour,
			ObserverDelay: time.Hour,
			ObserverRetry: time.Hour,
		},
	}
	h.svc = NewService(opts, Host{URLs: h.host, Windows: h.host}, h.pages, store, messaging.NewRouter(), h.broker)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.svc.Run(ctx, h.events)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) open(tabID, url string) {
	h.host.mu.Lock()
	h.host.urls[tabID] = url
	h.host.mu.Unlock()
	h.events <- hostevents.Event{Kind: hostevents.KindTabOpened, TabID: tabID, URL: url}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitTitle(t *testing.T, p *fakePage) string {
	t.Helper()
	select {
	case title := <-p.titles:
		return title
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a title write")
		return ""
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var coded *cdpcontrol.CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("error = %v; want *cdpcontrol.CodedError", err)
	}
	if coded.Code != code {
		t.Fatalf("code = %q; want %q", coded.Code, code)
	}
}

func TestServiceMonitorsOnlyOriginTabs(t *testing.T) {
	h := newHarness(t)
	h.open("g1", origin+"/app/abc")
	h.open("x1", "https://example.com/")

	eventually(t, "g1 monitored", func() bool {
		_, err := h.svc.TabStatus("g1")
		return err == nil
	})
	_, err := h.svc.TabStatus("x1")
	assertCode(t, err, cdpcontrol.CodeTabNotFound)

	st := h.svc.Status()
	if st.Origin != origin || len(st.MonitoredTabs) != 1 || st.MonitoredTabs[0].TabID != "g1" {
		t.Fatalf("Status() = %+v", st)
	}
	if st.Receivers != 1 {
		t.Fatalf("Receivers = %d; want 1", st.Receivers)
	}
}

func TestServiceStopsResolverWhenTabLeavesOrigin(t *testing.T) {
	h := newHarness(t)
	h.open("g1", origin+"/app")
	eventually(t, "g1 monitored", func() bool { _, err := h.svc.TabStatus("g1"); return err == nil })

	h.events <- hostevents.Event{Kind: hostevents.KindTabNavigated, TabID: "g1", URL: "https://example.com/"}
	eventually(t, "g1 released", func() bool { return h.pages.releasedCount("g1") == 1 })
	if _, err := h.svc.TabStatus("g1"); err == nil {
		t.Fatal("g1 should no longer be monitored")
	}

	h.open("g2", origin+"/app")
	eventually(t, "g2 monitored", func() bool { _, err := h.svc.TabStatus("g2"); return err == nil })
	h.events <- hostevents.Event{Kind: hostevents.KindTabClosed, TabID: "g2"}
	eventually(t, "g2 released", func() bool { return h.pages.releasedCount("g2") == 1 })
}

func TestServiceBlurUpdatesPreviousTabTitle(t *testing.T) {
	h := newHarness(t)
	set := selectors.Default()
	h.pages.page("a").setText(set.SelectedTitle.Primary(), "Chat A")

	_, feed := h.broker.Subscribe()
	h.open("a", origin+"/app/a")
	h.open("b", origin+"/app/b")
	h.events <- hostevents.Event{Kind: hostevents.KindActiveTabChanged, TabID: "a", WindowID: 1}
	eventually(t, "a tracked", func() bool { return h.svc.Status().TrackedTab == "a" })

	h.events <- hostevents.Event{Kind: hostevents.KindActiveTabChanged, TabID: "b", WindowID: 1}
	if got := waitTitle(t, h.pages.page("a")); got != "Chat A" {
		t.Fatalf("title = %q; want %q", got, "Chat A")
	}
	eventually(t, "b tracked", func() bool { return h.svc.Status().TrackedTab == "b" })

	var sawFocus, sawTitle bool
	timeout := time.After(2 * time.Second)
	for !(sawFocus && sawTitle) {
		select {
		case ev := <-feed:
			switch ev.Feed {
			case relay.FeedFocus:
				sawFocus = true
			case relay.FeedTitle:
				sawTitle = true
			}
		case <-timeout:
			t.Fatalf("missing events: focus=%v title=%v", sawFocus, sawTitle)
		}
	}

	st := h.svc.Status()
	if st.LastFocusChange == nil || st.LastFocusChange.Previous != "a" || !st.LastFocusChange.Notified {
		t.Fatalf("LastFocusChange = %+v", st.LastFocusChange)
	}
}

func TestServiceAllWindowsBlurred(t *testing.T) {
	h := newHarness(t)
	set := selectors.Default()
	h.pages.page("a").setText(set.PromptInput.Primary(), "draft question")

	h.open("a", origin+"/app")
	h.host.mu.Lock()
	h.host.active[7] = "a"
	h.host.mu.Unlock()
	h.events <- hostevents.Event{Kind: hostevents.KindWindowFocusChanged, WindowID: 7}
	eventually(t, "a tracked", func() bool { return h.svc.Status().TrackedTab == "a" })

	h.events <- hostevents.Event{Kind: hostevents.KindWindowFocusChanged, WindowID: hostevents.WindowNone}
	if got := waitTitle(t, h.pages.page("a")); got != "draft question" {
		t.Fatalf("title = %q; want prompt text", got)
	}
	eventually(t, "nothing tracked", func() bool { return h.svc.Status().TrackedTab == "" })
}

func TestServiceManualOperations(t *testing.T) {
	h := newHarness(t)
	set := selectors.Default()
	h.pages.page("a").setText(set.SelectedTitle.Primary(), "Manual")
	h.open("a", origin+"/app")
	eventually(t, "a monitored", func() bool { _, err := h.svc.TabStatus("a"); return err == nil })

	if err := h.svc.TriggerPass("a"); err != nil {
		t.Fatalf("TriggerPass() = %v", err)
	}
	if got := waitTitle(t, h.pages.page("a")); got != "Manual" {
		t.Fatalf("title = %q", got)
	}

	if err := h.svc.NotifyBlur(" a "); err != nil {
		t.Fatalf("NotifyBlur() = %v", err)
	}
	waitTitle(t, h.pages.page("a"))

	eventually(t, "status updated", func() bool {
		st, err := h.svc.TabStatus("a")
		return err == nil && st.Applied == 2 && st.LastTrigger == "blur"
	})

	assertCode(t, h.svc.TriggerPass("missing"), cdpcontrol.CodeTabNotFound)
	assertCode(t, h.svc.NotifyBlur("   "), cdpcontrol.CodeValidation)
}

func TestServiceRunStopsResolversOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.open("a", origin+"/app")
	eventually(t, "a monitored", func() bool { _, err := h.svc.TabStatus("a"); return err == nil })

	h.cancel()
	<-h.done
	if h.pages.releasedCount("a") != 1 {
		t.Fatalf("released = %d; want 1", h.pages.releasedCount("a"))
	}
	if len(h.svc.Status().MonitoredTabs) != 0 {
		t.Fatal("no tab should be monitored after shutdown")
	}
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("t1", "tab_id"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}
	err := s.requireNonEmpty("   ", "tab_id")
	assertCode(t, err, cdpcontrol.CodeValidation)
	if got := err.(*cdpcontrol.CodedError).Message; got != "tab_id is required" {
		t.Fatalf("message = %q", got)
	}
}
