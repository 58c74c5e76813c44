package cdpcontrol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSStringAndJSONHelpers(t *testing.T) {
	if got := jsString("hello\nworld"); got != "\"hello\\nworld\"" {
		t.Fatalf("jsString = %q, want %q", got, "\"hello\\nworld\"")
	}

	got := jsJSON([]string{"class", "aria-selected"})
	var attrs []string
	if err := json.Unmarshal([]byte(got), &attrs); err != nil {
		t.Fatalf("jsJSON returned invalid JSON: %v", err)
	}
	if len(attrs) != 2 || attrs[1] != "aria-selected" {
		t.Fatalf("jsJSON decoded = %v", attrs)
	}
}

func TestBuildIIFE(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.HasPrefix(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	if !strings.Contains(syncExpr, `error_code:"`+CodeEvalFailure+`"`) {
		t.Fatalf("wrapper lost failure envelope: %s", syncExpr)
	}

	asyncExpr := buildIIFE(true, "await Promise.resolve(1);")
	if !strings.HasPrefix(asyncExpr, "(async function(){\ntry {") {
		t.Fatalf("unexpected async wrapper: %s", asyncExpr)
	}
}

func TestJSSetTitleEscapesTitle(t *testing.T) {
	title := `Q3 "plan" </script> & more`
	js := jsSetTitle(title)
	if !strings.Contains(js, "document.title = "+jsString(title)+";") {
		t.Fatalf("title not embedded as a JS string literal: %s", js)
	}
}

func TestJSQueryTextUsesInnerTextFallback(t *testing.T) {
	js := jsQueryText(`.conversation[aria-selected="true"]`)
	if !strings.Contains(js, `document.querySelector(".conversation[aria-selected=\"true\"]")`) {
		t.Fatalf("selector not quoted: %s", js)
	}
	if !strings.Contains(js, "el.innerText || el.textContent") {
		t.Fatalf("missing text fallback: %s", js)
	}
}

func TestJSObserveEmbedsObserver(t *testing.T) {
	js := jsObserve("#chat-history-panel", nil)
	if !strings.Contains(js, "function _observe(") {
		t.Fatal("observer script not embedded")
	}
	if !strings.Contains(js, `_observe("#chat-history-panel", [], "`+mutationBinding+`")`) {
		t.Fatalf("unexpected observe call: %s", js[len(js)-300:])
	}
}
