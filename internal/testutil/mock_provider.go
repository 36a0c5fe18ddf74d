// Package testutil provides testing utilities for the Polymarket client and
// the packages built on it.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// PricePoint is one sample served by /prices-history.
type PricePoint struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// MockProvider is a configurable mock of the Gamma and CLOB APIs. It serves
// /events as an offset-paginated listing and /prices-history from per-market
// series.
type MockProvider struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	failures map[string][]MockResponse

	events []json.RawMessage
	series map[string][]PricePoint

	// Tracking
	requestCount      int
	pathCount         map[string]int
	queries           []string
	lastRequestHeader http.Header
}

// NewMockProvider creates a new mock provider server.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		handlers:  make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures:  make(map[string][]MockResponse),
		series:    make(map[string][]PricePoint),
		pathCount: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCount[r.URL.Path]++
		mock.queries = append(mock.queries, r.URL.Path+"?"+r.URL.RawQuery)
		mock.lastRequestHeader = r.Header.Clone()

		// Injected failures take precedence
		if queue := mock.failures[r.URL.Path]; len(queue) > 0 {
			resp := queue[0]
			mock.failures[r.URL.Path] = queue[1:]
			mock.mu.Unlock()
			writeResponse(w, resp)
			return
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case "/events":
			mock.eventsHandler(w, r)
		case "/prices-history":
			mock.pricesHandler(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL. It serves both the Gamma and CLOB paths.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCount = make(map[string]int)
	m.queries = nil
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockProvider) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockProvider) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// FailNext makes the next requests to path return resp, once per entry.
func (m *MockProvider) FailNext(path string, resp ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], resp...)
}

// SetEvents replaces the /events listing.
func (m *MockProvider) SetEvents(events []json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = events
}

// GenerateEvents fills the /events listing with n synthetic closed events.
// Even events are tagged "Crypto", odd ones "Politics".
func (m *MockProvider) GenerateEvents(n int) {
	events := make([]json.RawMessage, n)
	for i := range events {
		tag := `{"id":"21","label":"Crypto","slug":"crypto"}`
		if i%2 == 1 {
			tag = `{"id":"2","label":"Politics","slug":"politics"}`
		}
		events[i] = json.RawMessage(fmt.Sprintf(
			`{"id":"%d","slug":"event-%d","title":"Event %d","closed":true,"endDate":"2025-01-15T00:00:00Z",`+
				`"tags":[%s],"markets":[{"id":"m%d","clobTokenIds":"[\"tok-%d-yes\", \"tok-%d-no\"]"}]}`,
			i, i, i, tag, i, i, i))
	}
	m.SetEvents(events)
}

// SetPriceSeries sets the samples served for market.
func (m *MockProvider) SetPriceSeries(market string, points []PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[market] = points
}

// GenerateSeries builds one sample per step in [from, to].
func GenerateSeries(from, to time.Time, step time.Duration) []PricePoint {
	var points []PricePoint
	for ts := from; !ts.After(to); ts = ts.Add(step) {
		points = append(points, PricePoint{T: ts.Unix(), P: float64(ts.Unix()%100) / 100})
	}
	return points
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockProvider) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockProvider) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCount[path]
}

// Queries returns every request path with its raw query, in arrival order.
func (m *MockProvider) Queries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.queries...)
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockProvider) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

func (m *MockProvider) eventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	m.mu.RLock()
	events := m.events
	m.mu.RUnlock()

	page := []json.RawMessage{}
	if offset < len(events) {
		end := offset + limit
		if end > len(events) {
			end = len(events)
		}
		page = events[offset:end]
	}
	writeJSON(w, page)
}

func (m *MockProvider) pricesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	market := q.Get("market")
	if market == "" {
		writeResponse(w, MockResponse{StatusCode: http.StatusBadRequest, Body: `{"error":"market is required"}`})
		return
	}
	start, _ := strconv.ParseInt(q.Get("startTs"), 10, 64)
	end, err := strconv.ParseInt(q.Get("endTs"), 10, 64)
	if err != nil {
		end = time.Now().Unix()
	}

	m.mu.RLock()
	series := m.series[market]
	m.mu.RUnlock()

	history := []PricePoint{}
	for _, p := range series {
		if p.T >= start && p.T <= end {
			history = append(history, p)
		}
	}
	writeJSON(w, map[string]any{"history": history})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Too many requests"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewBadRequestResponse creates a 400 Bad Request response.
func NewBadRequestResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error": "invalid parameter"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
