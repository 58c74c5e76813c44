package hostevents

import (
	"sort"

	"github.com/chromedp/cdproto/browser"
)

// PageState is one sampled page.
type PageState struct {
	TabID    string
	URL      string
	WindowID browser.WindowID
	Visible  bool
	Focused  bool
}

// Snapshot is the sampled state of every page target at one instant.
type Snapshot struct {
	Pages map[string]PageState
}

// ActiveTabs returns the visible tab of each window. If a window reports more
// than one visible tab the lowest tab id wins so the result is stable.
func (s Snapshot) ActiveTabs() map[browser.WindowID]string {
	out := make(map[browser.WindowID]string)
	for _, id := range s.sortedIDs() {
		p := s.Pages[id]
		if !p.Visible || p.WindowID == 0 {
			continue
		}
		if _, ok := out[p.WindowID]; !ok {
			out[p.WindowID] = id
		}
	}
	return out
}

// FocusedWindow returns the window holding OS focus, or WindowNone.
func (s Snapshot) FocusedWindow() browser.WindowID {
	for _, id := range s.sortedIDs() {
		p := s.Pages[id]
		if p.Focused && p.WindowID != 0 {
			return p.WindowID
		}
	}
	return WindowNone
}

func (s Snapshot) sortedIDs() []string {
	ids := make([]string, 0, len(s.Pages))
	for id := range s.Pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Diff returns the events that turn prev into next, in delivery order:
// closures, openings, navigations, active-tab changes, then focus changes.
//
// When focus moves straight from one window to another, a WindowNone focus
// event is emitted first, the same sequence desktop Chrome reports.
func Diff(prev, next Snapshot) []Event {
	var events []Event

	for _, id := range prev.sortedIDs() {
		if _, ok := next.Pages[id]; !ok {
			events = append(events, Event{Kind: KindTabClosed, TabID: id})
		}
	}
	for _, id := range next.sortedIDs() {
		if _, ok := prev.Pages[id]; !ok {
			events = append(events, Event{Kind: KindTabOpened, TabID: id, URL: next.Pages[id].URL})
		}
	}
	for _, id := range next.sortedIDs() {
		old, ok := prev.Pages[id]
		if ok && old.URL != next.Pages[id].URL {
			events = append(events, Event{Kind: KindTabNavigated, TabID: id, URL: next.Pages[id].URL})
		}
	}

	prevActive := prev.ActiveTabs()
	nextActive := next.ActiveTabs()
	windows := make([]browser.WindowID, 0, len(nextActive))
	for w := range nextActive {
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i] < windows[j] })
	for _, w := range windows {
		if prevActive[w] != nextActive[w] {
			events = append(events, Event{Kind: KindActiveTabChanged, TabID: nextActive[w], WindowID: w})
		}
	}

	prevFocus := prev.FocusedWindow()
	nextFocus := next.FocusedWindow()
	if prevFocus != nextFocus {
		if prevFocus != WindowNone && nextFocus != WindowNone {
			events = append(events, Event{Kind: KindWindowFocusChanged, WindowID: WindowNone})
		}
		events = append(events, Event{Kind: KindWindowFocusChanged, WindowID: nextFocus})
	}

	return events
}
