// Package hostevents turns periodic samples of browser page state into the
// tab and window focus events the focus tracker consumes.
package hostevents

import (
	"fmt"

	"github.com/chromedp/cdproto/browser"
)

// WindowNone is the focused-window value meaning no browser window has OS
// focus.
const WindowNone browser.WindowID = -1

type Kind string

const (
	KindStarted            Kind = "started"
	KindActiveTabChanged   Kind = "active_tab_changed"
	KindWindowFocusChanged Kind = "window_focus_changed"
	KindTabOpened          Kind = "tab_opened"
	KindTabNavigated       Kind = "tab_navigated"
	KindTabClosed          Kind = "tab_closed"
)

// Event is one host notification. Which fields are set depends on Kind.
type Event struct {
	Kind     Kind
	TabID    string
	WindowID browser.WindowID
	URL      string
}

func (e Event) String() string {
	switch e.Kind {
	case KindActiveTabChanged:
		return fmt.Sprintf("%s tab=%s window=%d", e.Kind, e.TabID, e.WindowID)
	case KindWindowFocusChanged:
		return fmt.Sprintf("%s window=%d", e.Kind, e.WindowID)
	case KindTabOpened, KindTabNavigated, KindTabClosed:
		return fmt.Sprintf("%s tab=%s", e.Kind, e.TabID)
	}
	return string(e.Kind)
}
