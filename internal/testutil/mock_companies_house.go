// Package testutil provides test doubles for the enricher: a mock Companies
// House API server, an in-memory record store and a recording progress sink.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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

// Company is a company known to the mock server.
type Company struct {
	Number   string
	Name     string
	Status   string
	Type     string
	SICCodes []string
	Postcode string
	Locality string
}

// Lookup operations, used to script responses.
const (
	OpSearch  = "search"
	OpProfile = "profile"
)

// MockCompaniesHouse is a configurable mock Companies House API.
//
// Requests are answered, in order of precedence, by a scripted response
// queued for the operation, a custom handler registered for the path, or
// the built-in search/profile handlers backed by the registered companies.
type MockCompaniesHouse struct {
	server    *httptest.Server
	mu        sync.RWMutex
	handlers  map[string]func(w http.ResponseWriter, r *http.Request)
	scripted  map[string][]MockResponse
	companies map[string]Company
	byName    map[string]string

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	keyUsage          map[string]int
	opCount           map[string]int
}

// NewMockCompaniesHouse creates a new mock server.
func NewMockCompaniesHouse() *MockCompaniesHouse {
	mock := &MockCompaniesHouse{
		handlers:  make(map[string]func(w http.ResponseWriter, r *http.Request)),
		scripted:  make(map[string][]MockResponse),
		companies: make(map[string]Company),
		byName:    make(map[string]string),
		keyUsage:  make(map[string]int),
		opCount:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockCompaniesHouse) serve(w http.ResponseWriter, r *http.Request) {
	op := opFor(r.URL.Path)
	key, _, _ := r.BasicAuth()

	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	m.keyUsage[key]++
	m.opCount[op]++

	var scripted *MockResponse
	if queue := m.scripted[op]; len(queue) > 0 {
		scripted = &queue[0]
		m.scripted[op] = queue[1:]
	}
	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if key == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if scripted != nil {
		writeResponse(w, *scripted)
		return
	}
	if exists {
		handler(w, r)
		return
	}

	switch op {
	case OpSearch:
		m.handleSearch(w, r)
	case OpProfile:
		m.handleProfile(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func opFor(path string) string {
	switch {
	case path == "/search/companies":
		return OpSearch
	case strings.HasPrefix(path, "/company/"):
		return OpProfile
	default:
		return path
	}
}

// URL returns the mock server URL.
func (m *MockCompaniesHouse) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCompaniesHouse) Close() {
	m.server.Close()
}

// AddCompany registers a company for the built-in handlers.
func (m *MockCompaniesHouse) AddCompany(c Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Status == "" {
		c.Status = "active"
	}
	if c.Type == "" {
		c.Type = "ltd"
	}
	m.companies[c.Number] = c
	m.byName[strings.ToLower(strings.TrimSpace(c.Name))] = c.Number
}

// Enqueue scripts the next responses for an operation (OpSearch or
// OpProfile). Scripted responses take precedence over everything else.
func (m *MockCompaniesHouse) Enqueue(op string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[op] = append(m.scripted[op], resps...)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCompaniesHouse) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCompaniesHouse) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockCompaniesHouse) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// OpCount returns the number of requests made for an operation.
func (m *MockCompaniesHouse) OpCount(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opCount[op]
}

// KeyUsage returns the number of requests authenticated with key.
func (m *MockCompaniesHouse) KeyUsage(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keyUsage[key]
}

func (m *MockCompaniesHouse) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	m.mu.RLock()
	number, ok := m.byName[q]
	company := m.companies[number]
	m.mu.RUnlock()

	items := []map[string]any{}
	if ok {
		items = append(items, map[string]any{
			"company_number":  company.Number,
			"title":           strings.ToUpper(company.Name),
			"company_status":  company.Status,
			"company_type":    company.Type,
			"address_snippet": fmt.Sprintf("1 High Street, %s, %s", company.Locality, company.Postcode),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":         items,
		"total_results": len(items),
	})
}

func (m *MockCompaniesHouse) handleProfile(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimPrefix(r.URL.Path, "/company/")

	m.mu.RLock()
	company, ok := m.companies[number]
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"errors": []map[string]string{{"error": "company-profile-not-found", "type": "ch:service"}},
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(NewProfileBody(company)))
}

// NewProfileBody renders a profile resource for c.
func NewProfileBody(c Company) string {
	profile := map[string]any{
		"company_name":   strings.ToUpper(c.Name),
		"company_number": c.Number,
		"company_status": c.Status,
		"type":           c.Type,
		"registered_office_address": map[string]string{
			"address_line_1": "1 High Street",
			"locality":       c.Locality,
			"postal_code":    c.Postcode,
			"country":        "England",
		},
		"sic_codes":                               c.SICCodes,
		"date_of_creation":                        "2015-03-02",
		"etag":                                    "etag-" + c.Number,
		"has_charges":                             false,
		"has_insolvency_history":                  false,
		"has_been_liquidated":                     false,
		"registered_office_is_in_dispute":         false,
		"undeliverable_registered_office_address": false,
	}
	b, _ := json.Marshal(profile)
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
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
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"error":"rate-limit-exceeded"}]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewForbiddenResponse creates a 403 Forbidden response.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"errors":[{"error":"forbidden"}]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
