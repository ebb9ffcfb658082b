package accept

import (
	"strconv"
	"strings"
)

const MediaHTML = "text/html"

// PrefersHTML reports whether an Accept header ranks text/html at least as
// high as any other media range. Wildcards alone do not count.
func PrefersHTML(header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}

	htmlQ := -1.0
	otherQ := -1.0

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		media, q := parseMediaPart(part)
		if media == "" || q <= 0 {
			continue
		}

		switch media {
		case MediaHTML:
			if q > htmlQ {
				htmlQ = q
			}
		case "*/*", "text/*":
		default:
			if q > otherQ {
				otherQ = q
			}
		}
	}

	return htmlQ >= 0 && htmlQ >= otherQ
}

func parseMediaPart(part string) (string, float64) {
	media := part
	q := 1.0

	if idx := strings.Index(part, ";"); idx != -1 {
		media = strings.TrimSpace(part[:idx])
		params := strings.Split(part[idx+1:], ";")
		for _, p := range params {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(strings.ToLower(p), "q=") {
				val := strings.TrimSpace(p[2:])
				if v, err := strconv.ParseFloat(val, 64); err == nil {
					q = v
				}
			}
		}
	}

	media = strings.ToLower(strings.TrimSpace(media))
	return media, q
}
