// Package testutil provides helpers shared by the admin route tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// LocalAddr is a loopback client address; tsweb only serves /debug/ to
// loopback and tailnet peers.
const LocalAddr = "127.0.0.1:12345"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewDebugRequest creates a request that tsweb accepts as coming from
// localhost.
func NewDebugRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = LocalAddr
	return req
}

// ServeDebug sends a local request through mux and returns the recorded
// response.
func ServeDebug(t testing.TB, mux http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, NewDebugRequest(method, path))
	return rec
}
