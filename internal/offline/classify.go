package offline

import (
	"net/http"
	"strings"

	"github.com/newt-tracker/offline/internal/accept"
)

type RequestInfo struct {
	Intercept bool
	Navigate  bool
	Reason    string
}

// ClassifyRequest decides whether a request may be answered from a cache
// store. Only GET requests are intercepted.
func ClassifyRequest(r *http.Request) RequestInfo {
	if r.Method != http.MethodGet {
		return RequestInfo{Intercept: false, Reason: "method-not-get"}
	}
	if IsNavigation(r) {
		return RequestInfo{Intercept: true, Navigate: true, Reason: "navigate"}
	}
	return RequestInfo{Intercept: true, Reason: "subresource"}
}

// IsNavigation reports whether r is a page navigation. Browsers say so with
// Sec-Fetch-Mode; older clients are recognised by an Accept header that
// prefers HTML.
func IsNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if mode := strings.TrimSpace(r.Header.Get("Sec-Fetch-Mode")); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return accept.PrefersHTML(r.Header.Get("Accept"))
}
