// Package selectors holds the DOM selector lists used to locate the prompt
// input, the selected sidebar conversation and the sidebar container, and the
// ordered fallback resolution applied to them.
package selectors

import (
	"log/slog"
	"slices"
)

// Target is one logical DOM target. Selectors[0] is the primary selector,
// the rest are fallbacks tried in order.
type Target struct {
	Name      string   `yaml:"name" json:"name"`
	Selectors []string `yaml:"selectors" json:"selectors"`
}

// Primary returns the first selector or "" when the target is empty.
func (t Target) Primary() string {
	if len(t.Selectors) == 0 {
		return ""
	}
	return t.Selectors[0]
}

// Set groups every target the resolver needs.
type Set struct {
	PromptInput      Target `yaml:"prompt_input" json:"prompt_input"`
	SelectedTitle    Target `yaml:"selected_title" json:"selected_title"`
	SidebarContainer Target `yaml:"sidebar_container" json:"sidebar_container"`

	// SelectionAttributes is the allow-list of attribute names whose changes
	// count as selection-state mutations.
	SelectionAttributes []string `yaml:"selection_attributes" json:"selection_attributes"`
}

// Default returns the built-in selector set.
func Default() Set {
	return Set{
		PromptInput: Target{
			Name: "prompt_input",
			Selectors: []string{
				`div.ql-editor`,
				`div.ql-editor p`,
			},
		},
		SelectedTitle: Target{
			Name: "selected_title",
			Selectors: []string{
				`.selected .conversation-title`,
				`.active .conversation-title`,
				`[aria-selected="true"] .conversation-title`,
				`.chat-history-list .selected`,
				`.conversation-item.selected .title`,
				`.selected [data-testid="conversation-title"]`,
			},
		},
		SidebarContainer: Target{
			Name: "sidebar_container",
			Selectors: []string{
				`#chat-history-panel`,
				`.chat-history`,
				`[data-testid="conversation-list"]`,
				`.conversation-list`,
				`[role="navigation"]`,
			},
		},
		SelectionAttributes: []string{"class", "aria-selected"},
	}
}

// Clone returns a deep copy so callers can hold a Set across reloads.
func (s Set) Clone() Set {
	out := s
	out.PromptInput.Selectors = slices.Clone(s.PromptInput.Selectors)
	out.SelectedTitle.Selectors = slices.Clone(s.SelectedTitle.Selectors)
	out.SidebarContainer.Selectors = slices.Clone(s.SidebarContainer.Selectors)
	out.SelectionAttributes = slices.Clone(s.SelectionAttributes)
	return out
}

// Match is the result of a successful resolution.
type Match[T any] struct {
	Selector string
	Index    int
	Value    T
}

// First tries each query in order and returns the first match. A query that
// fails is logged and treated as a miss. When nothing matches the second
// return value is false; that is not an error.
func First[T any](target string, queries []string, query func(selector string) (T, bool, error)) (Match[T], bool) {
	for i, sel := range queries {
		v, ok, err := query(sel)
		if err != nil {
			slog.Debug("selector query failed", "target", target, "selector", sel, "error", err)
			continue
		}
		if ok {
			return Match[T]{Selector: sel, Index: i, Value: v}, true
		}
	}
	slog.Warn("no selector matched", "target", target, "tried", len(queries))
	return Match[T]{}, false
}
