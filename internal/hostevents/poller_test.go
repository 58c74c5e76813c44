package hostevents

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/dgnsrekt/tab_titler/internal/cdpcontrol"
)

type fakeProber struct {
	pages    []cdpcontrol.PageInfo
	focus    map[string]cdpcontrol.FocusState
	listErr  error
	probeErr map[string]error
}

func (f *fakeProber) ListPages(context.Context) ([]cdpcontrol.PageInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pages, nil
}

func (f *fakeProber) ProbeFocus(_ context.Context, tabID string) (cdpcontrol.FocusState, error) {
	if err := f.probeErr[tabID]; err != nil {
		return cdpcontrol.FocusState{}, err
	}
	return f.focus[tabID], nil
}

func snap(pages ...PageState) Snapshot {
	s := Snapshot{Pages: map[string]PageState{}}
	for _, p := range pages {
		s.Pages[p.TabID] = p
	}
	return s
}

func TestDiff(t *testing.T) {
	gemini := "https://gemini.google.com/app"
	tests := []struct {
		name string
		prev Snapshot
		next Snapshot
		want []Event
	}{
		{
			name: "first sample",
			prev: snap(),
			next: snap(PageState{TabID: "7", URL: gemini, WindowID: 1, Visible: true, Focused: true}),
			want: []Event{
				{Kind: KindTabOpened, TabID: "7", URL: gemini},
				{Kind: KindActiveTabChanged, TabID: "7", WindowID: 1},
				{Kind: KindWindowFocusChanged, WindowID: 1},
			},
		},
		{
			name: "tab switch in same window",
			prev: snap(
				PageState{TabID: "7", URL: gemini, WindowID: 1, Visible: true, Focused: true},
				PageState{TabID: "9", URL: "https://example.com", WindowID: 1},
			),
			next: snap(
				PageState{TabID: "7", URL: gemini, WindowID: 1},
				PageState{TabID: "9", URL: "https://example.com", WindowID: 1, Visible: true, Focused: true},
			),
			want: []Event{{Kind: KindActiveTabChanged, TabID: "9", WindowID: 1}},
		},
		{
			name: "all windows lose focus",
			prev: snap(PageState{TabID: "7", URL: gemini, WindowID: 1, Visible: true, Focused: true}),
			next: snap(PageState{TabID: "7", URL: gemini, WindowID: 1, Visible: true}),
			want: []Event{{Kind: KindWindowFocusChanged, WindowID: WindowNone}},
		},
		{
			name: "focus moves between windows",
			prev: snap(
				PageState{TabID: "7", URL: gemini, WindowID: 1, Visible: true, Focused: true},
				PageState{TabID: "9", URL: "https://example.com", WindowID: 2, Visible: true},
			),
			next: snap(
				PageState{TabID: "7", URL: gemini, WindowID: 1, Visible: true},
				PageState{TabID: "9", URL: "https://example.com", WindowID: 2, Visible: true, Focused: true},
			),
			want: []Event{
				{Kind: KindWindowFocusChanged, WindowID: WindowNone},
				{Kind: KindWindowFocusChanged, WindowID: 2},
			},
		},
		{
			name: "close and navigate",
			prev: snap(
				PageState{TabID: "7", URL: gemini, WindowID: 1},
				PageState{TabID: "8", URL: gemini, WindowID: 1},
			),
			next: snap(PageState{TabID: "8", URL: "https://example.com", WindowID: 1}),
			want: []Event{
				{Kind: KindTabClosed, TabID: "7"},
				{Kind: KindTabNavigated, TabID: "8", URL: "https://example.com"},
			},
		},
		{
			name: "no change",
			prev: snap(PageState{TabID: "7", URL: gemini, WindowID: 1, Visible: true, Focused: true}),
			next: snap(PageState{TabID: "7", URL: gemini, WindowID: 1, Visible: true, Focused: true}),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.prev, tt.next)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Diff() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestPollKeepsFocusOnProbeFailure(t *testing.T) {
	f := &fakeProber{
		pages: []cdpcontrol.PageInfo{{TabID: "7", URL: "https://gemini.google.com/app"}},
		focus: map[string]cdpcontrol.FocusState{"7": {WindowID: 1, Visible: true, Focused: true}},
	}
	p := NewPoller(f, time.Second)
	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	f.probeErr = map[string]error{"7": errors.New("target closed")}
	events, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("Poll() after probe failure = %v; want no events", events)
	}
	if tab, err := p.ActiveTab(context.Background(), 1); err != nil || tab != "7" {
		t.Fatalf("ActiveTab(1) = %q, %v; want 7", tab, err)
	}
}

func TestPollListFailureKeepsSnapshot(t *testing.T) {
	f := &fakeProber{
		pages: []cdpcontrol.PageInfo{{TabID: "7", URL: "https://gemini.google.com/app"}},
		focus: map[string]cdpcontrol.FocusState{"7": {WindowID: 1, Visible: true}},
	}
	p := NewPoller(f, time.Second)
	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	f.listErr = errors.New("connection refused")
	if _, err := p.Poll(context.Background()); err == nil {
		t.Fatal("Poll() = nil; want list error")
	}
	if got := len(p.Pages()); got != 1 {
		t.Fatalf("Pages() = %d; want previous snapshot kept", got)
	}
}

func TestActiveTabUnknownWindow(t *testing.T) {
	p := NewPoller(&fakeProber{}, time.Second)
	if _, err := p.ActiveTab(context.Background(), browser.WindowID(42)); !errors.Is(err, ErrNoActiveTab) {
		t.Fatalf("ActiveTab() = %v; want ErrNoActiveTab", err)
	}
}

func TestRunEmitsStartedFirst(t *testing.T) {
	f := &fakeProber{
		pages: []cdpcontrol.PageInfo{{TabID: "7", URL: "https://gemini.google.com/app"}},
		focus: map[string]cdpcontrol.FocusState{"7": {WindowID: 1}},
	}
	p := NewPoller(f, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	first := <-p.Events()
	if first.Kind != KindStarted {
		t.Fatalf("first event = %v; want started", first)
	}
	second := <-p.Events()
	if second.Kind != KindTabOpened || second.TabID != "7" {
		t.Fatalf("second event = %v; want tab_opened 7", second)
	}

	cancel()
	for range p.Events() {
	}
	<-done
}
