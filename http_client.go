package main

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 30 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// ConfigureExternalHTTPClient applies the configured timeout to the shared
// client and returns the value in effect.
func ConfigureExternalHTTPClient(seconds int) time.Duration {
	if seconds <= 0 {
		externalHTTPClient.Timeout = defaultExternalHTTPTimeout
	} else {
		externalHTTPClient.Timeout = time.Duration(seconds) * time.Second
	}
	return externalHTTPClient.Timeout
}
