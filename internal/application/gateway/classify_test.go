package gateway

import (
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		method string
		url    string
		want   Class
	}{
		{http.MethodGet, "https://acme.example.com/api/patients", ClassAPI},
		{http.MethodPost, "https://acme.example.com/api/patients", ClassAPI},
		{http.MethodDelete, "https://acme.example.com/api/patients/4", ClassAPI},
		{http.MethodGet, "https://acme.example.com/", ClassStatic},
		{http.MethodGet, "https://acme.example.com/images/logo.png", ClassStatic},
		{http.MethodGet, "https://acme.example.com/apiary", ClassStatic},
		{http.MethodPost, "https://acme.example.com/login", ClassPassthrough},
		{http.MethodHead, "https://acme.example.com/", ClassPassthrough},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.url, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, tt.url, nil)
			if got := Classify(req, "/api/"); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsNavigation(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   bool
	}{
		{"html accept", http.Header{"Accept": {"text/html,*/*"}}, true},
		{"navigate mode", http.Header{"Sec-Fetch-Mode": {"navigate"}}, true},
		{"script", http.Header{"Accept": {"*/*"}, "Sec-Fetch-Mode": {"no-cors"}}, false},
		{"no headers", http.Header{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "https://acme.example.com/x", nil)
			req.Header = tt.header
			if got := IsNavigation(req); got != tt.want {
				t.Errorf("IsNavigation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	vary := []string{"Accept", "Accept-Language"}
	base := func() *http.Request {
		req, _ := http.NewRequest(http.MethodGet, "https://acme.example.com/api/patients?page=1", nil)
		req.Header.Set("X-Tenant-ID", "acme")
		req.Header.Set("Accept", "application/json")
		return req
	}
	key := Identity(base(), "X-Tenant-ID", vary)

	if Identity(base(), "X-Tenant-ID", vary) != key {
		t.Fatal("Identity() is not deterministic")
	}

	variants := map[string]func(*http.Request){
		"method": func(r *http.Request) { r.Method = http.MethodHead },
		"query":  func(r *http.Request) { r.URL.RawQuery = "page=2" },
		"tenant": func(r *http.Request) { r.Header.Set("X-Tenant-ID", "globex") },
		"accept": func(r *http.Request) { r.Header.Set("Accept", "text/csv") },
		"lang":   func(r *http.Request) { r.Header.Set("Accept-Language", "de") },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			req := base()
			mutate(req)
			if Identity(req, "X-Tenant-ID", vary) == key {
				t.Errorf("changing %s did not change the identity", name)
			}
		})
	}

	t.Run("unlisted header ignored", func(t *testing.T) {
		req := base()
		req.Header.Set("User-Agent", "other")
		if Identity(req, "X-Tenant-ID", vary) != key {
			t.Error("non-vary header changed the identity")
		}
	})
}
