// utils/http.go
package utils

import (
	"net"
	"net/http"
	"time"
)

// NewServiceClient returns the client used for calls to sibling services (deposit sync,
// proof verification). Those services are on the private network, so keep-alives are long.
func NewServiceClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
