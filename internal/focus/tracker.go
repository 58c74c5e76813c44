// Package focus tracks which monitored tab currently holds input focus and
// tells that tab when it loses it.
package focus

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/dgnsrekt/tab_titler/internal/hostevents"
	"github.com/dgnsrekt/tab_titler/internal/messaging"
)

// Host resolves tabs and windows.
type Host interface {
	TabURL(ctx context.Context, tabID string) (string, error)
	ActiveTab(ctx context.Context, windowID browser.WindowID) (string, error)
}

// Notifier delivers a message to a tab without waiting for it to be handled.
type Notifier interface {
	Send(tabID string, m messaging.Message) error
}

// Change describes a transition of the tracked tab.
type Change struct {
	Previous string
	Current  string
	Reason   string
	Notified bool
}

// Tracker holds the single tracked-tab reference. Handlers are meant to be
// called from one goroutine; Tracked may be read from any.
type Tracker struct {
	origin   string
	host     Host
	notifier Notifier
	onChange func(Change)

	mu      sync.RWMutex
	tracked string
}

// NewTracker creates a Tracker for tabs whose URL starts with origin.
// onChange may be nil.
func NewTracker(origin string, host Host, notifier Notifier, onChange func(Change)) *Tracker {
	return &Tracker{origin: origin, host: host, notifier: notifier, onChange: onChange}
}

// MatchesOrigin reports whether url belongs to the monitored origin. The
// match is a case-sensitive prefix match.
func MatchesOrigin(url, origin string) bool {
	return origin != "" && strings.HasPrefix(url, origin)
}

// Tracked returns the tracked tab id, or "" when no tab is tracked.
func (t *Tracker) Tracked() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracked
}

// Handle dispatches a host event to the matching handler.
func (t *Tracker) Handle(ctx context.Context, ev hostevents.Event) {
	switch ev.Kind {
	case hostevents.KindStarted:
		slog.Info("focus tracker started", "origin", t.origin)
	case hostevents.KindActiveTabChanged:
		t.HandleActiveTabChanged(ctx, ev.TabID)
	case hostevents.KindWindowFocusChanged:
		t.HandleWindowFocusChanged(ctx, ev.WindowID)
	case hostevents.KindTabClosed:
		t.HandleTabClosed(ev.TabID)
	}
}

// HandleActiveTabChanged handles a new active tab in some window.
func (t *Tracker) HandleActiveTabChanged(ctx context.Context, tabID string) {
	prev := t.Tracked()
	notified := false
	if prev != "" && prev != tabID {
		notified = t.notifyBlurred(prev)
	}
	t.trackIfMonitored(ctx, tabID, "active_tab_changed", prev, notified)
}

// HandleWindowFocusChanged handles OS focus moving to windowID, or away from
// every browser window when windowID is hostevents.WindowNone.
func (t *Tracker) HandleWindowFocusChanged(ctx context.Context, windowID browser.WindowID) {
	prev := t.Tracked()
	if windowID == hostevents.WindowNone {
		notified := false
		if prev != "" {
			notified = t.notifyBlurred(prev)
		}
		t.set("", "all_windows_blurred", prev, notified)
		return
	}

	tabID, err := t.host.ActiveTab(ctx, windowID)
	if err != nil {
		slog.Warn("focus window lookup failed", "window_id", windowID, "error", err)
		t.set("", "window_lookup_failed", prev, false)
		return
	}
	t.trackIfMonitored(ctx, tabID, "window_focus_changed", prev, false)
}

// HandleTabClosed forgets tabID if it is tracked.
func (t *Tracker) HandleTabClosed(tabID string) {
	prev := t.Tracked()
	if prev != "" && prev == tabID {
		t.set("", "tab_closed", prev, false)
	}
}

func (t *Tracker) trackIfMonitored(ctx context.Context, tabID, reason, prev string, notified bool) {
	url, err := t.host.TabURL(ctx, tabID)
	if err != nil {
		slog.Warn("focus tab lookup failed", "tab_id", tabID, "error", err)
		t.set("", "tab_lookup_failed", prev, notified)
		return
	}
	if MatchesOrigin(url, t.origin) {
		t.set(tabID, reason, prev, notified)
		return
	}
	t.set("", reason, prev, notified)
}

// notifyBlurred sends the focus-loss message to tabID. A failed delivery
// clears the tracked tab if it is still tabID.
func (t *Tracker) notifyBlurred(tabID string) bool {
	if err := t.notifier.Send(tabID, messaging.TabBlurred()); err != nil {
		slog.Warn("blur notification not delivered", "tab_id", tabID, "error", err)
		t.mu.Lock()
		if t.tracked == tabID {
			t.tracked = ""
		}
		t.mu.Unlock()
		return false
	}
	slog.Info("blur notification sent", "tab_id", tabID)
	return true
}

func (t *Tracker) set(tabID, reason, prev string, notified bool) {
	t.mu.Lock()
	t.tracked = tabID
	t.mu.Unlock()

	if tabID == prev && !notified {
		return
	}
	slog.Debug("tracked tab updated", "previous", prev, "current", tabID, "reason", reason)
	if t.onChange != nil {
		t.onChange(Change{Previous: prev, Current: tabID, Reason: reason, Notified: notified})
	}
}
