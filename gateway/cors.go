package gateway

import (
	"net/http"
	"strings"
)

// OriginAllowed reports whether the request origin passes the allow-list.
// An empty list authorizes everyone. A listed origin matches verbatim or
// with one trailing slash of difference, so "https://a.example" and
// "https://a.example/" are the same origin for authorization purposes.
func OriginAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		if strings.TrimSuffix(a, "/") == strings.TrimSuffix(origin, "/") {
			return true
		}
	}
	return false
}

// ApplyCORS sets the CORS response headers for an authorized origin.
// With an empty allow-list the wildcard is echoed; otherwise the caller's
// own origin is, so credentialed requests keep working.
func ApplyCORS(w http.ResponseWriter, origin string, allowed []string) {
	h := w.Header()
	if len(allowed) == 0 || origin == "" {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "3600")
}
