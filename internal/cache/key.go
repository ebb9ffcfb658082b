package cache

import (
	"net/http"
	"net/url"
)

// RequestKey returns the descriptor a request is stored under: its absolute
// URL without the fragment.
func RequestKey(r *http.Request) string {
	return URLKey(r.URL)
}

func URLKey(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	clone.RawFragment = ""
	return clone.String()
}
