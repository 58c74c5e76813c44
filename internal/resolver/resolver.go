// Package resolver computes and applies the tab title of one monitored page.
package resolver

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/tab_titler/internal/messaging"
	"github.com/dgnsrekt/tab_titler/internal/selectors"
)

// PageEvent is something the page reported on its own.
type PageEvent struct {
	Mutations []Mutation
	// Reset means the page's document was replaced (reload or full
	// navigation) and anything installed in it is gone.
	Reset bool
}

// Page is the DOM surface the resolver works against.
type Page interface {
	QueryText(ctx context.Context, selector string) (string, bool, error)
	SetTitle(ctx context.Context, title string) error
	Observe(ctx context.Context, selector string, attributes []string) (bool, error)
	Events() <-chan PageEvent
}

// SelectorSource supplies the current selector set.
type SelectorSource interface {
	Current() selectors.Set
}

// Config holds the fixed delays. A failed container lookup waits
// ObserverRetry and then the render delay ObserverDelay again.
type Config struct {
	StartupDelay  time.Duration
	ObserverDelay time.Duration
	ObserverRetry time.Duration
}

// RetryInterval is the time between two container lookups.
func (c Config) RetryInterval() time.Duration {
	return c.ObserverRetry + c.ObserverDelay
}

// Status is a point-in-time view of a resolver, safe to hand to other
// goroutines.
type Status struct {
	TabID            string    `json:"tab_id"`
	Title            string    `json:"title"`
	Source           Source    `json:"source"`
	TitleSelector    string    `json:"title_selector,omitempty"`
	Passes           int       `json:"passes"`
	Applied          int       `json:"applied"`
	PromptSnapshot   bool      `json:"prompt_snapshot"`
	ObserverAttached bool      `json:"observer_attached"`
	ObserverSelector string    `json:"observer_selector,omitempty"`
	ObserverAttempts int       `json:"observer_attempts"`
	LastTrigger      string    `json:"last_trigger,omitempty"`
	LastPassAt       time.Time `json:"last_pass_at,omitempty"`
}

// Resolver runs the title policy for one tab. All page-local state is owned
// by the Run goroutine.
type Resolver struct {
	tabID     string
	page      Page
	selectors SelectorSource
	inbox     <-chan []byte
	cfg       Config
	onApply   func(Status)
	kick      chan struct{}

	prompt   Candidate
	observed bool

	mu     sync.RWMutex
	status Status
}

// New creates a resolver. inbox carries encoded messaging.Message values.
// onApply is called after every title write and may be nil.
func New(tabID string, page Page, sel SelectorSource, inbox <-chan []byte, cfg Config, onApply func(Status)) *Resolver {
	return &Resolver{
		tabID:     tabID,
		page:      page,
		selectors: sel,
		inbox:     inbox,
		cfg:       cfg,
		onApply:   onApply,
		kick:      make(chan struct{}, 1),
		status:    Status{TabID: tabID, Source: SourceNone},
	}
}

// Status returns the latest status.
func (r *Resolver) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Trigger asks for one extra resolution pass. Repeated calls before the pass
// runs collapse into one.
func (r *Resolver) Trigger() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run processes messages, page events and timers until ctx is done.
func (r *Resolver) Run(ctx context.Context) error {
	startup := time.NewTimer(r.cfg.StartupDelay)
	defer startup.Stop()
	observe := time.NewTimer(r.cfg.ObserverDelay)
	defer observe.Stop()

	inbox := r.inbox
	events := r.page.Events()

	slog.Debug("title resolver started", "tab_id", r.tabID)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("title resolver stopped", "tab_id", r.tabID)
			return nil

		case data, ok := <-inbox:
			if !ok {
				inbox = nil
				continue
			}
			r.handleMessage(ctx, data)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Reset {
				slog.Info("page reset, re-arming resolver", "tab_id", r.tabID)
				r.prompt = Candidate{}
				r.observed = false
				r.updateStatus(func(s *Status) {
					s.ObserverAttached = false
					s.ObserverSelector = ""
					s.PromptSnapshot = false
				})
				startup.Reset(r.cfg.StartupDelay)
				observe.Reset(r.cfg.ObserverDelay)
				continue
			}
			if !Qualifies(ev.Mutations, r.selectors.Current().SelectionAttributes) {
				slog.Debug("mutation batch filtered", "tab_id", r.tabID, "records", len(ev.Mutations))
				continue
			}
			r.Pass(ctx, "mutation")

		case <-r.kick:
			r.Pass(ctx, "manual")

		case <-startup.C:
			r.Pass(ctx, "startup")

		case <-observe.C:
			if r.observed {
				continue
			}
			if !r.attachObserver(ctx) {
				observe.Reset(r.cfg.RetryInterval())
			}
		}
	}
}

func (r *Resolver) handleMessage(ctx context.Context, data []byte) {
	msg, err := messaging.Decode(data)
	if err != nil {
		slog.Warn("resolver dropped malformed message", "tab_id", r.tabID, "error", err)
		return
	}
	if msg.Type != messaging.TypeTabBlurred {
		slog.Debug("resolver ignored message", "tab_id", r.tabID, "type", msg.Type)
		return
	}

	set := r.selectors.Current()
	prompt, _ := r.queryTarget(ctx, set.PromptInput)
	if prompt.Usable() {
		r.prompt = prompt
	} else {
		r.prompt = Candidate{}
	}
	slog.Debug("prompt snapshot captured", "tab_id", r.tabID, "present", r.prompt.Present, "chars", len(r.prompt.Text))
	r.Pass(ctx, "blur")
}

// Pass runs the title policy once. It must only be called from the Run
// goroutine or before Run starts.
func (r *Resolver) Pass(ctx context.Context, trigger string) Decision {
	set := r.selectors.Current()
	sidebar, sel := r.queryTarget(ctx, set.SelectedTitle)

	d := Decide(sidebar, r.prompt)
	if d.ClearPrompt {
		r.prompt = Candidate{}
	}

	applied := false
	if d.Apply {
		if err := r.page.SetTitle(ctx, d.Title); err != nil {
			slog.Warn("set title failed", "tab_id", r.tabID, "source", d.Source, "error", err)
		} else {
			applied = true
			slog.Debug("title applied", "tab_id", r.tabID, "source", d.Source, "trigger", trigger)
		}
	}

	status := r.updateStatus(func(s *Status) {
		s.Passes++
		s.LastTrigger = trigger
		s.LastPassAt = time.Now()
		s.PromptSnapshot = r.prompt.Present
		if applied {
			s.Applied++
			s.Title = d.Title
			s.Source = d.Source
			s.TitleSelector = ""
			if d.Source == SourceSidebar {
				s.TitleSelector = sel
			}
		}
	})
	if applied && r.onApply != nil {
		r.onApply(status)
	}
	return d
}

func (r *Resolver) attachObserver(ctx context.Context) bool {
	set := r.selectors.Current()
	r.updateStatus(func(s *Status) { s.ObserverAttempts++ })

	m, ok := selectors.First(set.SidebarContainer.Name, set.SidebarContainer.Selectors, func(sel string) (string, bool, error) {
		attached, err := r.page.Observe(ctx, sel, set.SelectionAttributes)
		return sel, attached, err
	})
	if !ok {
		slog.Warn("sidebar container not found, retrying", "tab_id", r.tabID, "retry_in", r.cfg.RetryInterval())
		return false
	}

	r.observed = true
	r.updateStatus(func(s *Status) {
		s.ObserverAttached = true
		s.ObserverSelector = m.Selector
	})
	slog.Info("sidebar observer attached", "tab_id", r.tabID, "selector", m.Selector)
	return true
}

func (r *Resolver) queryTarget(ctx context.Context, target selectors.Target) (Candidate, string) {
	m, ok := selectors.First(target.Name, target.Selectors, func(sel string) (string, bool, error) {
		return r.page.QueryText(ctx, sel)
	})
	if !ok {
		return Candidate{}, ""
	}
	return Candidate{Text: m.Value, Present: true}, m.Selector
}

func (r *Resolver) updateStatus(fn func(*Status)) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.status)
	return r.status
}

// TrimmedTitle is a display helper for logs: it collapses a title to one line.
func TrimmedTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}
