package crm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	cfg := DefaultConfig(baseURL)
	cfg.MaxAttempts = 3
	cfg.InitialBackoff = 5 * time.Millisecond

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without base URL should fail")
	}
}

func TestFetchPage_Success(t *testing.T) {
	var gotQuery atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Encode())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": [{"id": 1}, {"id": 2}],
			"meta": {"current_page": 2, "per_page": 2, "total_count": 10, "total_pages": 5},
			"links": {"self": "/orders?page=2", "next": "/orders?page=3", "prev": "/orders?page=1"}
		}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)

	page, err := c.FetchPage(context.Background(), "orders", map[string]string{"status": "confirmed"}, 2, 2)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	if len(page.Data) != 2 {
		t.Errorf("got %d items, want 2", len(page.Data))
	}
	if page.Meta.TotalPages != 5 || page.Meta.CurrentPage != 2 {
		t.Errorf("meta = %+v, want current_page=2 total_pages=5", page.Meta)
	}
	if page.Links.Next != "/orders?page=3" {
		t.Errorf("links.next = %q", page.Links.Next)
	}

	query := gotQuery.Load().(string)
	for _, want := range []string{"page=2", "per_page=2", "status=confirmed"} {
		if !strings.Contains(query, want) {
			t.Errorf("upstream query %q missing %q", query, want)
		}
	}
}

func TestFetchPage_ClientErrorNotRetried(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "no such resource"}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)

	_, err := c.FetchPage(context.Background(), "orders", nil, 1, 50)
	if err == nil {
		t.Fatal("FetchPage should fail on 404")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error is %T, want *RequestError", err)
	}
	if reqErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", reqErr.StatusCode)
	}
	if !strings.Contains(string(reqErr.Body), "no such resource") {
		t.Errorf("body = %q, want upstream body preserved", reqErr.Body)
	}

	if n := requests.Load(); n != 1 {
		t.Errorf("4xx was retried: %d requests, want 1", n)
	}
}

func TestFetchPage_ServerErrorRetriedThenSucceeds(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data": [], "meta": {"current_page": 1, "total_pages": 1}, "links": {}}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)

	if _, err := c.FetchPage(context.Background(), "orders", nil, 1, 50); err != nil {
		t.Fatalf("FetchPage should succeed after retries: %v", err)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("%d requests, want 3", n)
	}
}

func TestFetchPage_RetryExhaustionSurfacesLastError(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "boom"}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)

	_, err := c.FetchPage(context.Background(), "orders", nil, 1, 50)
	if err == nil {
		t.Fatal("FetchPage should fail")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error is %T, want *RequestError surfaced unchanged", err)
	}
	if reqErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", reqErr.StatusCode)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("%d requests, want MaxAttempts=3", n)
	}
}

func TestFetchPage_NetworkErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Closed server: connection refused.

	c := testClient(t, server.URL)
	cfg := c.cfg
	cfg.MaxAttempts = 1
	c.cfg = cfg

	_, err := c.FetchPage(context.Background(), "orders", nil, 1, 50)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestFetchPage_UndecodableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	cfg := c.cfg
	cfg.MaxAttempts = 1
	c.cfg = cfg

	_, err := c.FetchPage(context.Background(), "orders", nil, 1, 50)
	if err == nil {
		t.Fatal("FetchPage should fail on undecodable body")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error is %T, want *RequestError", err)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"network", ErrUnavailable, true},
		{"server", &RequestError{StatusCode: 503}, true},
		{"throttle", &RequestError{StatusCode: 429}, true},
		{"client", &RequestError{StatusCode: 400}, false},
		{"not found", &RequestError{StatusCode: 404}, false},
	}

	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Errorf("retryable(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
