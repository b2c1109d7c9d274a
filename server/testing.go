/*
	This file contains functions useful for testing the HTTP API in other packages.
	Due to the way Go handles compilation of *_test.go files, these functions
	cannot be in a _test.go file since they would be unavailable to test files in
	external packages.  So these functions are exported and contain the "Test"
	keyword.
*/

package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/mipvol/storage/ngprecomputed"
)

// NewTestService returns a service over an in-memory store with a local queue.
func NewTestService(t *testing.T) *Service {
	c := DefaultConfig()
	c.Retry.MaxAttempts = 1
	store := ngprecomputed.NewBucketStore(memblob.OpenBucket(nil), "mem://", ngprecomputed.Options{})
	s, err := NewServiceWithStore(c, store)
	if err != nil {
		t.Fatalf("can't create test service: %v\n", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestHTTPResponse returns a response from a test run of the server.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, s *Service, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	s.ServeSingleHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, s *Service, method, urlStr string, payload io.Reader) []byte {
	resp := TestHTTPResponse(t, s, method, urlStr, payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with an error status code and returns it.
func TestBadHTTP(t *testing.T, s *Service, method, urlStr string, payload io.Reader) int {
	resp := TestHTTPResponse(t, s, method, urlStr, payload)
	if resp.Code == http.StatusOK {
		t.Fatalf("Expected bad server response to %s on %q, got %d instead.\n", method, urlStr, resp.Code)
	}
	return resp.Code
}
