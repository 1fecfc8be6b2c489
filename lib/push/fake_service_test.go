// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/narcache/narpush/lib/cacheclient"
)

// fakeCache is an in-memory cache service speaking the upload protocol
// over HTTP. It remembers every stored object across negotiations,
// measures upload concurrency and records narinfos that arrive before
// their archive.
type fakeCache struct {
	server *httptest.Server

	// uploadDelay holds each upload open so concurrent uploads overlap.
	uploadDelay time.Duration

	// failUploads maps object keys to the status their upload returns.
	failUploads map[string]int

	mu           sync.Mutex
	stored       map[string][]byte
	negotiations []string
	closures     map[string][]string
	completed    []string
	uploadOrder  []string
	violations   []string
	active       int
	peak         int
	nextID       int
}

func newFakeCache(t *testing.T) *fakeCache {
	t.Helper()
	cache := &fakeCache{
		stored:      make(map[string][]byte),
		closures:    make(map[string][]string),
		failUploads: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/pending_closures", cache.handleNegotiate)
	mux.HandleFunc("POST /api/pending_closures/{id}/complete", cache.handleComplete)
	mux.HandleFunc("PUT /upload/{key...}", cache.handleUpload)
	cache.server = httptest.NewServer(mux)
	t.Cleanup(cache.server.Close)
	return cache
}

func (cache *fakeCache) client(t *testing.T) *cacheclient.Client {
	t.Helper()
	client, err := cacheclient.New(cacheclient.Config{
		ServerURL:  cache.server.URL,
		AuthToken:  "test-token",
		HTTPClient: cache.server.Client(),
	})
	if err != nil {
		t.Fatalf("cacheclient.New: %v", err)
	}
	return client
}

func (cache *fakeCache) handleNegotiate(writer http.ResponseWriter, request *http.Request) {
	if request.Header.Get("Authorization") != "Bearer test-token" {
		http.Error(writer, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Closure string               `json:"closure"`
		Objects []cacheclient.Object `json:"objects"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	cache.mu.Lock()
	cache.nextID++
	id := fmt.Sprint(cache.nextID)
	cache.negotiations = append(cache.negotiations, body.Closure)
	pending := make(map[string]cacheclient.PendingObject)
	for _, object := range body.Objects {
		if _, present := cache.stored[object.Key]; present {
			continue
		}
		pending[object.Key] = cacheclient.PendingObject{
			PresignedURL: cache.server.URL + "/upload/" + object.Key + "?signature=" + id,
		}
		cache.closures[id] = append(cache.closures[id], object.Key)
	}
	cache.mu.Unlock()

	writer.WriteHeader(http.StatusCreated)
	json.NewEncoder(writer).Encode(cacheclient.PendingClosure{
		ID:             id,
		StartedAt:      "2026-01-01T00:00:00Z",
		PendingObjects: pending,
	})
}

func (cache *fakeCache) handleUpload(writer http.ResponseWriter, request *http.Request) {
	key := request.PathValue("key")
	if request.ContentLength < 0 {
		http.Error(writer, "missing Content-Length", http.StatusLengthRequired)
		return
	}

	cache.mu.Lock()
	delay := cache.uploadDelay
	status, fail := cache.failUploads[key]
	cache.active++
	cache.peak = max(cache.peak, cache.active)
	if strings.HasSuffix(key, ".narinfo") {
		hash := strings.TrimSuffix(key, ".narinfo")
		if !cache.hasArchiveLocked(hash) {
			cache.violations = append(cache.violations, key)
		}
	}
	cache.mu.Unlock()

	defer func() {
		cache.mu.Lock()
		cache.active--
		cache.mu.Unlock()
	}()

	time.Sleep(delay)
	body, err := io.ReadAll(request.Body)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(body)) != request.ContentLength {
		http.Error(writer, "short body", http.StatusBadRequest)
		return
	}
	if fail {
		http.Error(writer, "injected failure", status)
		return
	}

	cache.mu.Lock()
	cache.stored[key] = body
	cache.uploadOrder = append(cache.uploadOrder, key)
	cache.mu.Unlock()
}

func (cache *fakeCache) handleComplete(writer http.ResponseWriter, request *http.Request) {
	id := request.PathValue("id")
	cache.mu.Lock()
	defer cache.mu.Unlock()
	for _, key := range cache.closures[id] {
		if _, present := cache.stored[key]; !present {
			http.Error(writer, "object "+key+" not uploaded", http.StatusBadRequest)
			return
		}
	}
	cache.completed = append(cache.completed, id)
	writer.WriteHeader(http.StatusNoContent)
}

func (cache *fakeCache) hasArchiveLocked(hash string) bool {
	for key := range cache.stored {
		if strings.HasPrefix(key, "nar/"+hash+".nar") {
			return true
		}
	}
	return false
}

// object returns a stored object, failing the test if it is missing.
func (cache *fakeCache) object(t *testing.T, key string) []byte {
	t.Helper()
	cache.mu.Lock()
	defer cache.mu.Unlock()
	data, ok := cache.stored[key]
	if !ok {
		t.Fatalf("object %s not stored", key)
	}
	return data
}

// failUpload makes every upload of key answer with status.
func (cache *fakeCache) failUpload(key string, status int) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.failUploads[key] = status
}

// setUploadDelay holds each upload open for delay.
func (cache *fakeCache) setUploadDelay(delay time.Duration) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.uploadDelay = delay
}

// remove forgets an object, as if the service had lost it.
func (cache *fakeCache) remove(key string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	delete(cache.stored, key)
}

// fakeCacheStats is a copy of the fake's counters.
type fakeCacheStats struct {
	negotiations []string
	completed    []string
	uploadOrder  []string
	violations   []string
	peak         int
}

func (cache *fakeCache) stats() fakeCacheStats {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return fakeCacheStats{
		negotiations: slices.Clone(cache.negotiations),
		completed:    slices.Clone(cache.completed),
		uploadOrder:  slices.Clone(cache.uploadOrder),
		violations:   slices.Clone(cache.violations),
		peak:         cache.peak,
	}
}

func (cache *fakeCache) indexOf(key string) int {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	for index, uploaded := range cache.uploadOrder {
		if uploaded == key {
			return index
		}
	}
	return -1
}
