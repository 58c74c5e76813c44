package resolver

import "strings"

// Source names where an applied title came from.
type Source string

const (
	SourceNone    Source = "none"
	SourceSidebar Source = "sidebar"
	SourcePrompt  Source = "prompt"
)

// Candidate is a possibly absent title string.
type Candidate struct {
	Text    string
	Present bool
}

// Usable reports whether the candidate holds text that is not blank.
func (c Candidate) Usable() bool {
	return c.Present && strings.TrimSpace(c.Text) != ""
}

// Decision is the outcome of one resolution pass.
type Decision struct {
	Title       string
	Apply       bool
	Source      Source
	ClearPrompt bool
}

// Decide picks the title to display. The sidebar title wins and discards the
// prompt snapshot; otherwise the prompt snapshot is used; otherwise the title
// is left alone. Chosen text is returned untrimmed.
func Decide(sidebar, prompt Candidate) Decision {
	if sidebar.Usable() {
		return Decision{Title: sidebar.Text, Apply: true, Source: SourceSidebar, ClearPrompt: true}
	}
	if prompt.Usable() {
		return Decision{Title: prompt.Text, Apply: true, Source: SourcePrompt}
	}
	return Decision{Source: SourceNone}
}
