package cdpcontrol

// mutationBinding is the page-side function the observer reports through.
const mutationBinding = "__tabTitlerMutations"

func jsQueryText(selector string) string {
	return wrapJSEval(`var el = document.querySelector(` + jsString(selector) + `);
if (!el) return JSON.stringify({ok:true,data:{found:false,text:""}});
var text = el.innerText || el.textContent || "";
return JSON.stringify({ok:true,data:{found:true,text:String(text)}});`)
}

func jsSetTitle(title string) string {
	return wrapJSEval(`document.title = ` + jsString(title) + `;
return JSON.stringify({ok:true});`)
}

func jsProbeFocus() string {
	return wrapJSEval(`return JSON.stringify({ok:true,data:{
visible: document.visibilityState === "visible",
focused: document.hasFocus()
}});`)
}

func jsObserve(selector string, attributes []string) string {
	if attributes == nil {
		attributes = []string{}
	}
	return wrapJSEval(observerJS + `
var attached = _observe(` + jsString(selector) + `, ` + jsJSON(attributes) + `, ` + jsString(mutationBinding) + `);
return JSON.stringify({ok:true,data:{attached:attached}});`)
}
