package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// startIPv4 serves handler on 127.0.0.1 only; sandboxes often lack an IPv6
// loopback.
func startIPv4(handler http.Handler) (*httptest.Server, error) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	srv := &httptest.Server{Listener: ln, Config: &http.Server{Handler: handler}}
	srv.Start()
	return srv, nil
}

// NewHTTPServer starts an IPv4 test server, falling back to httptest's
// default listener.
func NewHTTPServer(handler http.Handler) *httptest.Server {
	srv, err := startIPv4(handler)
	if err != nil {
		return httptest.NewServer(handler)
	}
	return srv
}

// NewHTTPServerT is NewHTTPServer for a single test: it skips when no
// listener can be bound and closes the server on cleanup.
func NewHTTPServerT(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv, err := startIPv4(handler)
	if err != nil {
		t.Skipf("tcp4 listener unavailable: %v", err)
		return nil
	}
	t.Cleanup(srv.Close)
	return srv
}
