// Package testutil provides a scriptable mock of the job-offers API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Paths served by MockAPI.
const (
	TokenPath  = "/connexion/oauth2/access_token"
	SearchPath = "/partenaire/offresdemploi/v2/offres/search"
)

// Test credentials accepted by the token endpoint.
const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
)

// Partition scripts the search endpoint for one occupation code.
type Partition struct {
	// Total is the number of offers available for the code.
	Total int

	// Statuses are returned, in order, before serving real pages.
	// A 401 in this list is returned regardless of the token.
	Statuses []int

	// AlwaysStatus, when non-zero, is returned for every request.
	AlwaysStatus int

	// OmitContentRange drops the Content-Range header from responses.
	OmitContentRange bool

	// MalformedBody returns a non-JSON body with status 206.
	MalformedBody bool

	// Delay is applied before every response.
	Delay time.Duration

	// StallBodies makes the first n page responses send their headers and
	// part of the body, then stall for StallFor.
	StallBodies int
	StallFor    time.Duration

	served  int
	stalled int
}

// SearchRequest records one call to the search endpoint.
type SearchRequest struct {
	Code          string
	Start, End    int
	Authorization string
	Query         map[string]string
	At            time.Time
}

// MockAPI is a configurable mock of the token and search endpoints.
type MockAPI struct {
	server *httptest.Server

	mu            sync.Mutex
	partitions    map[string]*Partition
	tokenStatus   int
	tokenDelay    time.Duration
	tokenTTL      int
	grants        int
	currentToken  string
	searches      []SearchRequest
	rejectTokens  int
	maxRangeStart int
}

// NewMockAPI starts a mock server. Unknown codes return an empty result (204).
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		partitions:    make(map[string]*Partition),
		tokenTTL:      1499,
		maxRangeStart: 3000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, m.handleToken)
	mux.HandleFunc(SearchPath, m.handleSearch)
	m.server = httptest.NewServer(mux)

	return m
}

// URL returns the mock server base URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// TokenURL returns the full token endpoint URL.
func (m *MockAPI) TokenURL() string {
	return m.server.URL + TokenPath
}

// SearchURL returns the full search endpoint URL.
func (m *MockAPI) SearchURL() string {
	return m.server.URL + SearchPath
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetPartition scripts the responses for a code.
func (m *MockAPI) SetPartition(code string, p *Partition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[code] = p
}

// SetTokenStatus makes the token endpoint answer with status instead of a token.
func (m *MockAPI) SetTokenStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenStatus = status
}

// SetTokenDelay delays every grant.
func (m *MockAPI) SetTokenDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenDelay = d
}

// SetTokenTTL sets expires_in in seconds; 0 omits the field.
func (m *MockAPI) SetTokenTTL(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenTTL = seconds
}

// RejectNextTokens makes the next n search requests fail with 401 and
// revokes the current token, as if it had expired server-side.
func (m *MockAPI) RejectNextTokens(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectTokens = n
}

// Grants returns the number of successful token grants.
func (m *MockAPI) Grants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants
}

// Searches returns a copy of the recorded search requests.
func (m *MockAPI) Searches() []SearchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SearchRequest, len(m.searches))
	copy(out, m.searches)
	return out
}

// SearchesFor returns the recorded search requests for one code.
func (m *MockAPI) SearchesFor(code string) []SearchRequest {
	var out []SearchRequest
	for _, s := range m.Searches() {
		if s.Code == code {
			out = append(out, s)
		}
	}
	return out
}

func (m *MockAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	status := m.tokenStatus
	delay := m.tokenDelay
	ttl := m.tokenTTL
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "invalid_client", "error_description": "scripted failure"})
		return
	}

	if r.PostForm.Get("grant_type") != "client_credentials" ||
		r.PostForm.Get("client_id") != ClientID ||
		r.PostForm.Get("client_secret") != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	m.mu.Lock()
	m.grants++
	m.currentToken = fmt.Sprintf("token-%d", m.grants)
	token := m.currentToken
	m.mu.Unlock()

	body := map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"scope":        r.PostForm.Get("scope"),
	}
	if ttl > 0 {
		body["expires_in"] = ttl
	}
	writeJSON(w, http.StatusOK, body)
}

func (m *MockAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("codeROME")
	start, end, err := parseRange(q.Get("range"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	query := make(map[string]string, len(q))
	for k := range q {
		query[k] = q.Get(k)
	}

	m.mu.Lock()
	m.searches = append(m.searches, SearchRequest{
		Code:          code,
		Start:         start,
		End:           end,
		Authorization: r.Header.Get("Authorization"),
		Query:         query,
		At:            time.Now(),
	})

	reject := false
	if m.rejectTokens > 0 {
		m.rejectTokens--
		m.currentToken = ""
		reject = true
	} else if r.Header.Get("Authorization") != "Bearer "+m.currentToken || m.currentToken == "" {
		reject = true
	}

	p := m.partitions[code]
	var scripted int
	var total int
	var omitRange, malformed bool
	var delay, stall time.Duration
	if p != nil {
		total = p.Total
		omitRange = p.OmitContentRange
		malformed = p.MalformedBody
		delay = p.Delay
		switch {
		case p.AlwaysStatus != 0:
			scripted = p.AlwaysStatus
		case p.served < len(p.Statuses):
			scripted = p.Statuses[p.served]
			p.served++
		case !reject && p.stalled < p.StallBodies:
			p.stalled++
			stall = p.StallFor
		}
	}
	maxStart := m.maxRangeStart
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if scripted == http.StatusUnauthorized || reject {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
		return
	}
	if scripted != 0 {
		if scripted == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		writeJSON(w, scripted, map[string]string{"message": http.StatusText(scripted)})
		return
	}

	if start > maxStart {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "range start too high"})
		return
	}

	if start >= total {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	last := end
	if last >= total {
		last = total - 1
	}

	if !omitRange {
		w.Header().Set("Content-Range", fmt.Sprintf("offres %d-%d/%d", start, last, total))
	}

	if stall > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(`{"resultats": [ {"id": "stalled"},`))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-time.After(stall):
		case <-r.Context().Done():
		}
		return
	}

	if malformed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(`{"resultats": [ {"id": `))
		return
	}

	results := make([]map[string]any, 0, last-start+1)
	for i := start; i <= last; i++ {
		results = append(results, NewOffer(code, i))
	}

	status := http.StatusPartialContent
	if start == 0 && last == total-1 {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"resultats": results})
}

// NewOffer builds a representative offer record for code and index.
func NewOffer(code string, i int) map[string]any {
	return map[string]any{
		"id":              fmt.Sprintf("%s%06d", code, i),
		"intitule":        fmt.Sprintf("Offre %d pour %s", i, code),
		"description":     "Poste en CDI.\nHoraires de jour.",
		"dateCreation":    "2025-12-23T08:15:00.000Z",
		"romeCode":        code,
		"typeContrat":     "CDI",
		"nombrePostes":    1,
		"lieuTravail":     map[string]any{"libelle": "75 - Paris", "latitude": 48.85, "longitude": 2.35, "codePostal": "75001"},
		"entreprise":      map[string]any{"nom": "ACME", "entrepriseAdaptee": false},
		"competences":     []map[string]any{{"code": "100", "libelle": "Accueil", "exigence": "E"}},
		"contexteTravail": map[string]any{"horaires": []string{"35H Travail en journée"}},
	}
}

func parseRange(s string) (int, int, error) {
	if s == "" {
		return 0, 149, nil
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil || end < start || end-start >= 150 {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
