// internal/server/timeouts.go
//
// http.Server factory.
//
// Context
// -------
// Every response in this app is either a rendered template or a small
// JSON payload, so the write ceiling is short.  Read and idle limits
// guard the listener against slow-loris headers and parked keep-alives.
package server

import (
	"net/http"
	"time"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// New builds the server the web binary listens on.  TLS, when used, is
// terminated upstream.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}
