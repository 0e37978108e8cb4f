package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// DefaultTimeout bounds a single request to the favicon service.
const DefaultTimeout = 2 * time.Minute

// NewCachingHTTPClient creates an HTTP client for the favicon service with
// response caching. Generated packages and version listings are served with
// cache headers, so repeated downloads during development hit the cache.
func NewCachingHTTPClient(cacheDir, userAgent string) *http.Client {
	var cache httpcache.Cache
	if cacheDir == "" {
		cache = httpcache.NewMemoryCache()
	} else {
		// persists across runs
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = &userAgentTransport{
		userAgent: userAgent,
		next:      http.DefaultTransport,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   DefaultTimeout,
	}
}

type userAgentTransport struct {
	userAgent string
	next      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(req)
}

// IsCached reports whether resp was served from the local cache.
func IsCached(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}
