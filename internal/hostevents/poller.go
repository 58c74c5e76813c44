package hostevents

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/dgnsrekt/tab_titler/internal/cdpcontrol"
)

// ErrNoActiveTab is returned when a window has no known active tab.
var ErrNoActiveTab = errors.New("hostevents: window has no active tab")

// Prober samples the browser.
type Prober interface {
	ListPages(ctx context.Context) ([]cdpcontrol.PageInfo, error)
	ProbeFocus(ctx context.Context, tabID string) (cdpcontrol.FocusState, error)
}

// Poller samples the browser at a fixed interval and emits the differences as
// events.
type Poller struct {
	prober   Prober
	interval time.Duration
	events   chan Event

	mu   sync.RWMutex
	last Snapshot
}

// NewPoller creates a poller. Events are buffered; Run blocks when the
// consumer falls behind.
func NewPoller(prober Prober, interval time.Duration) *Poller {
	return &Poller{
		prober:   prober,
		interval: interval,
		events:   make(chan Event, 64),
		last:     Snapshot{Pages: map[string]PageState{}},
	}
}

// Events returns the event stream. It is closed when Run returns.
func (p *Poller) Events() <-chan Event {
	return p.events
}

// Run emits a Started event and then polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	defer close(p.events)

	if !p.emit(ctx, Event{Kind: KindStarted}) {
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		events, err := p.Poll(ctx)
		if err != nil {
			slog.Warn("host poll failed", "error", err)
		}
		for _, ev := range events {
			if !p.emit(ctx, ev) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) emit(ctx context.Context, ev Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Poll takes one snapshot and returns the events since the previous one. When
// the page list cannot be read the previous snapshot is kept.
func (p *Poller) Poll(ctx context.Context) ([]Event, error) {
	pages, err := p.prober.ListPages(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	prev := p.last
	p.mu.RUnlock()

	next := Snapshot{Pages: make(map[string]PageState, len(pages))}
	for _, pg := range pages {
		state := PageState{TabID: pg.TabID, URL: pg.URL}
		fs, err := p.prober.ProbeFocus(ctx, pg.TabID)
		if err != nil {
			// Keep the previous focus data so a flaky probe does not look like a
			// tab switch.
			slog.Debug("focus probe failed", "tab_id", pg.TabID, "error", err)
			if old, ok := prev.Pages[pg.TabID]; ok {
				state.WindowID, state.Visible, state.Focused = old.WindowID, old.Visible, old.Focused
			}
		} else {
			state.WindowID, state.Visible, state.Focused = fs.WindowID, fs.Visible, fs.Focused
		}
		next.Pages[pg.TabID] = state
	}

	p.mu.Lock()
	p.last = next
	p.mu.Unlock()

	events := Diff(prev, next)
	for _, ev := range events {
		slog.Debug("host event", "event", ev.String())
	}
	return events, nil
}

// ActiveTab returns the active tab of windowID from the latest snapshot.
func (p *Poller) ActiveTab(_ context.Context, windowID browser.WindowID) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tabID, ok := p.last.ActiveTabs()[windowID]
	if !ok {
		return "", ErrNoActiveTab
	}
	return tabID, nil
}

// Pages returns the pages of the latest snapshot.
func (p *Poller) Pages() []PageState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PageState, 0, len(p.last.Pages))
	for _, id := range p.last.sortedIDs() {
		out = append(out, p.last.Pages[id])
	}
	return out
}
