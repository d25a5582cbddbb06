package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Class is the caching policy a request falls under.
type Class string

const (
	// ClassAPI requests go network first with a cached or synthetic fallback.
	ClassAPI Class = "api"
	// ClassStatic requests are non-API GETs: network first, then cache, then the offline page.
	ClassStatic Class = "static"
	// ClassPassthrough requests are sent unmodified.
	ClassPassthrough Class = "passthrough"
)

// Classify decides the policy for req given the API path prefix.
func Classify(req *http.Request, apiPrefix string) Class {
	if strings.HasPrefix(req.URL.Path, apiPrefix) {
		return ClassAPI
	}
	if req.Method == http.MethodGet {
		return ClassStatic
	}
	return ClassPassthrough
}

// IsNavigation reports whether req asks for a page rather than a sub-resource.
func IsNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// Identity derives the cache key of a request. Two requests that differ in
// method, full URL, tenant or any of the vary headers never share a key.
func Identity(req *http.Request, tenantHeader string, vary []string) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(req.Method)
	write(req.URL.String())
	if tenantHeader != "" {
		write(req.Header.Get(tenantHeader))
	}
	for _, name := range vary {
		write(strings.Join(req.Header.Values(name), ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}
