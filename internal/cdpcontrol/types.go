package cdpcontrol

import (
	"fmt"

	"github.com/chromedp/cdproto/browser"
)

const (
	CodeValidation     = "VALIDATION"
	CodeTabNotFound    = "TAB_NOT_FOUND"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// PageInfo describes a page target.
type PageInfo struct {
	TabID string `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// FocusState is the focus-related state of a single page.
type FocusState struct {
	WindowID browser.WindowID `json:"window_id"`
	Visible  bool             `json:"visible"`
	Focused  bool             `json:"focused"`
}

// TextResult is the text of the first element matching a selector.
type TextResult struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

// ObserveResult reports whether the mutation observer was installed.
type ObserveResult struct {
	Attached bool `json:"attached"`
}
