// Package npatest provides an in-memory Resource API for tests.
package npatest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/localrivet/npamcp/internal/npa"
)

// Backend serves the subset of the Resource API used by npamcp from memory.
// All fields may be seeded directly before the first request.
type Backend struct {
	Server *httptest.Server

	mu         sync.Mutex
	apps       map[int]npa.PrivateApp
	rules      map[int]npa.PolicyRule
	publishers map[int]npa.Publisher
	brokers    []npa.LocalBroker
	profiles   map[int]npa.UpgradeProfile
	nextID     int

	calls map[string]int
	log   []string

	// FailRules makes PATCH/DELETE of the given rule IDs fail with the status.
	FailRules map[int]int
	// FailAppDelete makes private app deletion fail with the status.
	FailAppDelete int
}

// New starts a Backend; it is closed when the test ends.
func New(t interface {
	Helper()
	Cleanup(func())
}) *Backend {
	t.Helper()
	b := &Backend{
		apps:       make(map[int]npa.PrivateApp),
		rules:      make(map[int]npa.PolicyRule),
		publishers: make(map[int]npa.Publisher),
		profiles:   make(map[int]npa.UpgradeProfile),
		nextID:     1000,
		calls:      make(map[string]int),
		FailRules:  make(map[int]int),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the base URL to configure the client with.
func (b *Backend) URL() string { return b.Server.URL + "/api/v2" }

// AddApp seeds a private app.
func (b *Backend) AddApp(app npa.PrivateApp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apps[app.ID] = app
}

// AddRule seeds a policy rule whose rule_data is the JSON encoding of data.
func (b *Backend) AddRule(id int, name string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules[id] = npa.PolicyRule{ID: id, Name: name, RuleData: raw}
}

// AddPublisher seeds a publisher.
func (b *Backend) AddPublisher(p npa.Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers[p.ID] = p
}

// AddBroker seeds a local broker.
func (b *Backend) AddBroker(lb npa.LocalBroker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.brokers = append(b.brokers, lb)
}

// AddProfile seeds an upgrade profile.
func (b *Backend) AddProfile(p npa.UpgradeProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[p.ID] = p
}

// Rule returns the stored rule and whether it exists.
func (b *Backend) Rule(id int) (npa.PolicyRule, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rules[id]
	return r, ok
}

// RuleData decodes the stored rule data of id into a generic map.
func (b *Backend) RuleData(id int) map[string]any {
	r, ok := b.Rule(id)
	if !ok {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(r.RuleData, &m)
	return m
}

// HasApp reports whether the app still exists.
func (b *Backend) HasApp(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.apps[id]
	return ok
}

// Profile returns the stored upgrade profile.
func (b *Backend) Profile(id int) (npa.UpgradeProfile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[id]
	return p, ok
}

// Calls returns how many requests used method.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// Mutations returns the number of PUT, PATCH, POST and DELETE requests.
func (b *Backend) Mutations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[http.MethodPut] + b.calls[http.MethodPatch] + b.calls[http.MethodPost] + b.calls[http.MethodDelete]
}

// Log returns "METHOD /path" for every request in order.
func (b *Backend) Log() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.log...)
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v2")
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[r.Method]++
	b.log = append(b.log, r.Method+" "+path)

	collection, id, hasID := splitPath(path)
	switch collection {
	case npa.PathPrivateApps:
		b.serveApps(w, r.Method, id, hasID)
	case npa.PathPolicyRules:
		b.serveRules(w, r.Method, id, hasID, body)
	case npa.PathPublishers:
		if hasID {
			p, ok := b.publishers[id]
			if !ok {
				writeError(w, http.StatusNotFound, "publisher not found")
				return
			}
			writeData(w, p)
			return
		}
		writeData(w, sortedValues(b.publishers, func(p npa.Publisher) int { return p.ID }))
	case npa.PathLocalBrokers:
		writeData(w, b.brokers)
	case npa.PathUpgradeProfiles:
		b.serveProfiles(w, r.Method, id, hasID, body)
	default:
		writeError(w, http.StatusNotFound, "unknown path "+path)
	}
}

func (b *Backend) serveApps(w http.ResponseWriter, method string, id int, hasID bool) {
	switch {
	case method == http.MethodGet && !hasID:
		writeData(w, sortedValues(b.apps, func(a npa.PrivateApp) int { return a.ID }))
	case method == http.MethodGet:
		app, ok := b.apps[id]
		if !ok {
			writeError(w, http.StatusNotFound, "app not found")
			return
		}
		writeData(w, app)
	case method == http.MethodDelete && hasID:
		if b.FailAppDelete != 0 {
			writeError(w, b.FailAppDelete, "delete failed")
			return
		}
		if _, ok := b.apps[id]; !ok {
			writeError(w, http.StatusNotFound, "app not found")
			return
		}
		delete(b.apps, id)
		writeData(w, nil)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported")
	}
}

func (b *Backend) serveRules(w http.ResponseWriter, method string, id int, hasID bool, body []byte) {
	if hasID && method != http.MethodGet {
		if status := b.FailRules[id]; status != 0 {
			writeError(w, status, "rule change failed")
			return
		}
		if _, ok := b.rules[id]; !ok {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
	}
	switch {
	case method == http.MethodGet && !hasID:
		writeData(w, sortedValues(b.rules, func(r npa.PolicyRule) int { return r.ID }))
	case method == http.MethodPatch && hasID:
		var rule npa.PolicyRule
		if err := json.Unmarshal(body, &rule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rule.ID = id
		b.rules[id] = rule
		writeData(w, rule)
	case method == http.MethodDelete && hasID:
		delete(b.rules, id)
		writeData(w, nil)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported")
	}
}

func (b *Backend) serveProfiles(w http.ResponseWriter, method string, id int, hasID bool, body []byte) {
	switch {
	case method == http.MethodGet && !hasID:
		writeData(w, sortedValues(b.profiles, func(p npa.UpgradeProfile) int { return p.ID }))
	case method == http.MethodPost && !hasID:
		var in npa.UpgradeProfileInput
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		b.nextID++
		p := profileFromInput(b.nextID, in)
		b.profiles[p.ID] = p
		writeData(w, p)
	case method == http.MethodPut && hasID:
		if _, ok := b.profiles[id]; !ok {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		var in npa.UpgradeProfileInput
		if err := json.Unmarshal(body, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p := profileFromInput(id, in)
		b.profiles[id] = p
		writeData(w, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported")
	}
}

func profileFromInput(id int, in npa.UpgradeProfileInput) npa.UpgradeProfile {
	return npa.UpgradeProfile{
		ID:          id,
		Name:        in.Name,
		Frequency:   in.Frequency,
		Timezone:    in.Timezone,
		DockerTag:   in.DockerTag,
		ReleaseType: in.ReleaseType,
		Enabled:     in.Enabled,
	}
}

// splitPath separates "/collection/123" into the collection and ID.
func splitPath(path string) (string, int, bool) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return path, 0, false
	}
	id, err := strconv.Atoi(path[idx+1:])
	if err != nil {
		return path, 0, false
	}
	return path[:idx], id, true
}

func sortedValues[T any](m map[int]T, id func(T) int) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	raw, _ := json.Marshal(data)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data":   json.RawMessage(raw),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"status":"error","message":%q}`, msg)
}
