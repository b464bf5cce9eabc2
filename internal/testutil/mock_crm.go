// Package testutil provides testing utilities for the CRM gateway.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// MockCRM is a configurable fake of the upstream CRM's paginated REST
// API. It serves the data/meta/links envelope the real CRM uses and
// tracks requests per resource.
type MockCRM struct {
	server *httptest.Server

	mu         sync.RWMutex
	items      map[string][]json.RawMessage
	failures   map[string]mockFailure
	hideTotals bool
	requests   map[string]int
	pagesSeen  []int
	lastQuery  map[string]url.Values
}

type mockFailure struct {
	status int
	body   string
	after  int // requests served normally before failing
}

// NewMockCRM creates a mock CRM server.
func NewMockCRM() *MockCRM {
	m := &MockCRM{
		items:     make(map[string][]json.RawMessage),
		failures:  make(map[string]mockFailure),
		requests:  make(map[string]int),
		lastQuery: make(map[string]url.Values),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server URL.
func (m *MockCRM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCRM) Close() {
	m.server.Close()
}

// Seed populates a resource with n generated records.
func (m *MockCRM) Seed(resource string, n int) {
	items := make([]json.RawMessage, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, json.RawMessage(fmt.Sprintf(`{"id": %d, "name": "%s %d"}`, i, resource, i)))
	}
	m.SetItems(resource, items)
}

// SetItems sets the exact records served for a resource.
func (m *MockCRM) SetItems(resource string, items []json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[resource] = items
}

// FailWith makes a resource respond with the given status and body.
func (m *MockCRM) FailWith(resource string, status int, body string) {
	m.FailAfter(resource, 0, status, body)
}

// FailAfter serves n requests normally, then fails. Useful for testing
// mid-aggregation aborts.
func (m *MockCRM) FailAfter(resource string, n, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[resource] = mockFailure{status: status, body: body, after: n}
}

// HideTotals omits total_count/total_pages from the metadata, forcing
// clients onto the upstream-link fallback.
func (m *MockCRM) HideTotals() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hideTotals = true
}

// Requests returns the number of requests served for a resource.
func (m *MockCRM) Requests(resource string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[resource]
}

// LastQuery returns the query parameters of the most recent request for
// a resource, or nil when none was made.
func (m *MockCRM) LastQuery(resource string) url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery[resource]
}

// PagesSeen returns the page numbers requested, in order.
func (m *MockCRM) PagesSeen() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, len(m.pagesSeen))
	copy(out, m.pagesSeen)
	return out
}

// Reset clears request tracking.
func (m *MockCRM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.pagesSeen = nil
	m.lastQuery = make(map[string]url.Values)
}

func (m *MockCRM) handle(w http.ResponseWriter, r *http.Request) {
	resource := strings.Trim(r.URL.Path, "/")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if size < 1 {
		size = 50
	}

	m.mu.Lock()
	m.requests[resource]++
	served := m.requests[resource]
	m.pagesSeen = append(m.pagesSeen, page)
	m.lastQuery[resource] = r.URL.Query()
	items, known := m.items[resource]
	failure, failing := m.failures[resource]
	hideTotals := m.hideTotals
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if failing && served > failure.after {
		w.WriteHeader(failure.status)
		w.Write([]byte(failure.body))
		return
	}

	if !known {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(fmt.Sprintf(`{"error": "unknown resource %q"}`, resource)))
		return
	}

	total := len(items)
	totalPages := (total + size - 1) / size
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	meta := map[string]int{
		"current_page": page,
		"per_page":     size,
	}
	if !hideTotals {
		meta["total_count"] = total
		meta["total_pages"] = totalPages
	}

	links := map[string]string{
		"self": m.pageLink(resource, page, size),
	}
	if page < totalPages {
		links["next"] = m.pageLink(resource, page+1, size)
	}
	if page > 1 {
		links["prev"] = m.pageLink(resource, page-1, size)
	}

	resp := map[string]any{
		"data":  items[start:end],
		"meta":  meta,
		"links": links,
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (m *MockCRM) pageLink(resource string, page, size int) string {
	return fmt.Sprintf("%s/%s?page=%d&per_page=%d", m.server.URL, resource, page, size)
}
