package geocode

import (
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// unlimited returns a limiter that never blocks in tests.
func unlimited() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// routeTransport redirects requests whose URL starts with a known API
// prefix to a test server, so the real Census and Google endpoints are
// never hit.
type routeTransport struct {
	routes map[string]string // API URL prefix -> test server URL
}

func (t *routeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	orig := req.URL.String()
	for prefix, testURL := range t.routes {
		if !strings.HasPrefix(orig, prefix) {
			continue
		}
		rewritten, err := req.URL.Parse(testURL + orig[len(prefix):])
		if err != nil {
			return nil, err
		}
		cloned := req.Clone(req.Context())
		cloned.URL = rewritten
		cloned.Host = rewritten.Host
		return http.DefaultTransport.RoundTrip(cloned)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// routedClient builds an HTTP client that maps API prefixes to test servers.
func routedClient(routes map[string]string) *http.Client {
	return &http.Client{Transport: &routeTransport{routes: routes}}
}
