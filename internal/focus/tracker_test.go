package focus

import (
	"context"
	"errors"
	"testing"

	"github.com/chromedp/cdproto/browser"
	"github.com/dgnsrekt/tab_titler/internal/hostevents"
	"github.com/dgnsrekt/tab_titler/internal/messaging"
)

const origin = "https://gemini.google.com"

type fakeHost struct {
	urls    map[string]string
	active  map[browser.WindowID]string
	urlErr  error
	tabErr  error
	lookups []string
}

func (h *fakeHost) TabURL(_ context.Context, tabID string) (string, error) {
	h.lookups = append(h.lookups, tabID)
	if h.urlErr != nil {
		return "", h.urlErr
	}
	url, ok := h.urls[tabID]
	if !ok {
		return "", errors.New("no tab with id " + tabID)
	}
	return url, nil
}

func (h *fakeHost) ActiveTab(_ context.Context, windowID browser.WindowID) (string, error) {
	if h.tabErr != nil {
		return "", h.tabErr
	}
	tabID, ok := h.active[windowID]
	if !ok {
		return "", hostevents.ErrNoActiveTab
	}
	return tabID, nil
}

type sent struct {
	tabID string
	msg   messaging.Message
}

type fakeNotifier struct {
	sent []sent
	err  error
}

func (n *fakeNotifier) Send(tabID string, m messaging.Message) error {
	n.sent = append(n.sent, sent{tabID: tabID, msg: m})
	return n.err
}

func newTestTracker(h *fakeHost, n *fakeNotifier) (*Tracker, *[]Change) {
	var changes []Change
	tr := NewTracker(origin, h, n, func(c Change) { changes = append(changes, c) })
	return tr, &changes
}

func TestMatchesOrigin(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://gemini.google.com/app/abc", true},
		{"https://gemini.google.com", true},
		{"https://GEMINI.google.com/app", false},
		{"http://gemini.google.com/app", false},
		{"https://example.com/?u=https://gemini.google.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := MatchesOrigin(tt.url, origin); got != tt.want {
			t.Errorf("MatchesOrigin(%q) = %v; want %v", tt.url, got, tt.want)
		}
	}
	if MatchesOrigin("anything", "") {
		t.Error("MatchesOrigin with empty origin = true; want false")
	}
}

func TestActiveTabChangedTracksMonitoredTab(t *testing.T) {
	h := &fakeHost{urls: map[string]string{"7": origin + "/app"}}
	n := &fakeNotifier{}
	tr, changes := newTestTracker(h, n)

	tr.HandleActiveTabChanged(context.Background(), "7")
	if got := tr.Tracked(); got != "7" {
		t.Fatalf("Tracked() = %q; want 7", got)
	}
	if len(n.sent) != 0 {
		t.Fatalf("sent %v; want no notification", n.sent)
	}
	if len(*changes) != 1 || (*changes)[0].Current != "7" {
		t.Fatalf("changes = %+v; want one change to 7", *changes)
	}

	// Re-activating the same tab does not notify.
	tr.HandleActiveTabChanged(context.Background(), "7")
	if len(n.sent) != 0 {
		t.Fatalf("sent %v; want no notification for same tab", n.sent)
	}
	if len(*changes) != 1 {
		t.Fatalf("changes = %d; want no extra change", len(*changes))
	}
}

func TestActiveTabChangedToUnmonitoredNotifiesAndClears(t *testing.T) {
	h := &fakeHost{urls: map[string]string{
		"7": origin + "/app",
		"9": "https://example.com/",
	}}
	n := &fakeNotifier{}
	tr, changes := newTestTracker(h, n)
	tr.HandleActiveTabChanged(context.Background(), "7")

	tr.HandleActiveTabChanged(context.Background(), "9")

	if len(n.sent) != 1 || n.sent[0].tabID != "7" || n.sent[0].msg.Type != messaging.TypeTabBlurred {
		t.Fatalf("sent %v; want one blur notification to 7", n.sent)
	}
	if got := tr.Tracked(); got != "" {
		t.Fatalf("Tracked() = %q; want none", got)
	}
	last := (*changes)[len(*changes)-1]
	if last.Previous != "7" || last.Current != "" || !last.Notified {
		t.Fatalf("last change = %+v; want 7 -> none, notified", last)
	}
}

func TestActiveTabChangedBetweenMonitoredTabs(t *testing.T) {
	h := &fakeHost{urls: map[string]string{
		"7": origin + "/app/a",
		"8": origin + "/app/b",
	}}
	n := &fakeNotifier{}
	tr, _ := newTestTracker(h, n)
	tr.HandleActiveTabChanged(context.Background(), "7")
	tr.HandleActiveTabChanged(context.Background(), "8")

	if len(n.sent) != 1 || n.sent[0].tabID != "7" {
		t.Fatalf("sent %v; want blur to 7", n.sent)
	}
	if got := tr.Tracked(); got != "8" {
		t.Fatalf("Tracked() = %q; want 8", got)
	}
}

func TestDeliveryFailureClearsState(t *testing.T) {
	h := &fakeHost{urls: map[string]string{"7": origin + "/app"}}
	n := &fakeNotifier{}
	tr, _ := newTestTracker(h, n)
	tr.HandleActiveTabChanged(context.Background(), "7")

	n.err = messaging.ErrNoReceiver
	tr.HandleWindowFocusChanged(context.Background(), hostevents.WindowNone)

	if got := tr.Tracked(); got != "" {
		t.Fatalf("Tracked() = %q; want none after failed delivery", got)
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent %d notifications; want 1 attempt", len(n.sent))
	}
}

func TestDeliveryFailureThenUnmonitoredTab(t *testing.T) {
	h := &fakeHost{urls: map[string]string{
		"7": origin + "/app",
		"9": "https://example.com/",
	}}
	n := &fakeNotifier{}
	tr, changes := newTestTracker(h, n)
	tr.HandleActiveTabChanged(context.Background(), "7")

	n.err = messaging.ErrNoReceiver
	tr.HandleActiveTabChanged(context.Background(), "9")

	if got := tr.Tracked(); got != "" {
		t.Fatalf("Tracked() = %q; want none", got)
	}
	last := (*changes)[len(*changes)-1]
	if last.Notified {
		t.Fatalf("last change = %+v; want Notified=false", last)
	}
}

func TestWindowFocusNoneWithoutTrackedTab(t *testing.T) {
	n := &fakeNotifier{}
	tr, changes := newTestTracker(&fakeHost{}, n)
	tr.HandleWindowFocusChanged(context.Background(), hostevents.WindowNone)
	if len(n.sent) != 0 {
		t.Fatalf("sent %v; want nothing", n.sent)
	}
	if len(*changes) != 0 {
		t.Fatalf("changes = %+v; want none", *changes)
	}
}

func TestWindowFocusChangedTracksActiveTab(t *testing.T) {
	h := &fakeHost{
		urls:   map[string]string{"7": origin + "/app", "9": "https://example.com"},
		active: map[browser.WindowID]string{1: "7", 2: "9"},
	}
	n := &fakeNotifier{}
	tr, _ := newTestTracker(h, n)

	tr.HandleWindowFocusChanged(context.Background(), 1)
	if got := tr.Tracked(); got != "7" {
		t.Fatalf("Tracked() = %q; want 7", got)
	}

	tr.HandleWindowFocusChanged(context.Background(), 2)
	if got := tr.Tracked(); got != "" {
		t.Fatalf("Tracked() = %q; want none", got)
	}
	if len(n.sent) != 0 {
		t.Fatalf("sent %v; window focus to a real window does not notify", n.sent)
	}
}

func TestLookupFailuresDegradeToNone(t *testing.T) {
	h := &fakeHost{urls: map[string]string{"7": origin + "/app"}, active: map[browser.WindowID]string{1: "7"}}
	tr, _ := newTestTracker(h, &fakeNotifier{})
	tr.HandleActiveTabChanged(context.Background(), "7")

	h.tabErr = errors.New("no window with id 1")
	tr.HandleWindowFocusChanged(context.Background(), 1)
	if got := tr.Tracked(); got != "" {
		t.Fatalf("Tracked() after window lookup failure = %q; want none", got)
	}

	h.tabErr = nil
	tr.HandleActiveTabChanged(context.Background(), "7")
	h.urlErr = errors.New("no tab with id 7")
	tr.HandleWindowFocusChanged(context.Background(), 1)
	if got := tr.Tracked(); got != "" {
		t.Fatalf("Tracked() after tab lookup failure = %q; want none", got)
	}
}

func TestTabClosedClearsTrackedTab(t *testing.T) {
	h := &fakeHost{urls: map[string]string{"7": origin + "/app"}}
	n := &fakeNotifier{}
	tr, _ := newTestTracker(h, n)
	tr.HandleActiveTabChanged(context.Background(), "7")

	tr.Handle(context.Background(), hostevents.Event{Kind: hostevents.KindTabClosed, TabID: "8"})
	if got := tr.Tracked(); got != "7" {
		t.Fatalf("Tracked() = %q; closing another tab must not clear", got)
	}
	tr.Handle(context.Background(), hostevents.Event{Kind: hostevents.KindTabClosed, TabID: "7"})
	if got := tr.Tracked(); got != "" {
		t.Fatalf("Tracked() = %q; want none", got)
	}
	if len(n.sent) != 0 {
		t.Fatalf("sent %v; closing does not notify", n.sent)
	}
}

func TestHandleDispatch(t *testing.T) {
	h := &fakeHost{
		urls:   map[string]string{"7": origin + "/app"},
		active: map[browser.WindowID]string{3: "7"},
	}
	n := &fakeNotifier{}
	tr, _ := newTestTracker(h, n)

	tr.Handle(context.Background(), hostevents.Event{Kind: hostevents.KindStarted})
	tr.Handle(context.Background(), hostevents.Event{Kind: hostevents.KindWindowFocusChanged, WindowID: 3})
	if got := tr.Tracked(); got != "7" {
		t.Fatalf("Tracked() = %q; want 7", got)
	}
	tr.Handle(context.Background(), hostevents.Event{Kind: hostevents.KindWindowFocusChanged, WindowID: hostevents.WindowNone})
	if got := tr.Tracked(); got != "" || len(n.sent) != 1 {
		t.Fatalf("Tracked() = %q, sent %d; want none and one blur", got, len(n.sent))
	}
}
