// Package httpx holds the shared HTTP client used for all external calls
// (relayer, config sync). External services carry their own retry policy;
// this side only bounds each request with a timeout.
package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 30 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// Client returns the shared external HTTP client.
func Client() *http.Client {
	return externalHTTPClient
}

// ConfigureExternalHTTPClient sets the request timeout from a config value
// in seconds; non-positive values keep the default. Returns the applied
// timeout.
func ConfigureExternalHTTPClient(seconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
