package httputil

import (
	"net/http"
	"time"
)

// NewClient builds an HTTP client with a shared transport tuned for
// repeated posts to the same few hosts, which is the shape of webhook
// and alert traffic. A zero timeout means no client-level timeout;
// callers are expected to bound requests with their own contexts.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
