package core

import (
	"context"
	"sync"
	"time"
)

// mockCatalog answers catalog calls from function fields; unset fields
// return empty results.
type mockCatalog struct {
	searchTracks       func(query string, limit int) ([]CatalogTrack, error)
	searchArtist       func(name string, limit int) ([]CatalogArtist, error)
	getTrack           func(trackID string) (*CatalogTrack, error)
	getArtistTopTracks func(artistID, country string) ([]CatalogTrack, error)
	getAudioFeatures   func(trackIDs []string) (map[string]AudioFeatures, error)
}

func (m *mockCatalog) SearchTracks(_ context.Context, query string, limit int) ([]CatalogTrack, error) {
	if m.searchTracks == nil {
		return nil, nil
	}
	return m.searchTracks(query, limit)
}

func (m *mockCatalog) SearchArtist(_ context.Context, name string, limit int) ([]CatalogArtist, error) {
	if m.searchArtist == nil {
		return nil, nil
	}
	return m.searchArtist(name, limit)
}

func (m *mockCatalog) GetTrack(_ context.Context, trackID string) (*CatalogTrack, error) {
	if m.getTrack == nil {
		return nil, nil
	}
	return m.getTrack(trackID)
}

func (m *mockCatalog) GetArtistTopTracks(_ context.Context, artistID, country string) ([]CatalogTrack, error) {
	if m.getArtistTopTracks == nil {
		return nil, nil
	}
	return m.getArtistTopTracks(artistID, country)
}

func (m *mockCatalog) GetAudioFeatures(_ context.Context, trackIDs []string) (map[string]AudioFeatures, error) {
	if m.getAudioFeatures == nil {
		return nil, nil
	}
	return m.getAudioFeatures(trackIDs)
}

type mockSimilarity struct {
	recommend func(seeds, negativeSeeds []string, limit int) ([]CatalogTrack, error)
}

func (m *mockSimilarity) Recommend(_ context.Context, seeds, negativeSeeds []string, limit int) ([]CatalogTrack, error) {
	if m.recommend == nil {
		return nil, nil
	}
	return m.recommend(seeds, negativeSeeds, limit)
}

// mockLLM replays canned completions in order; when the queue runs dry it
// falls back to the complete function, or an empty completion.
type mockLLM struct {
	mu       sync.Mutex
	queue    []string
	complete func(req CompletionRequest) (*Completion, error)
	calls    []CompletionRequest
}

func (m *mockLLM) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.queue) > 0 {
		text := m.queue[0]
		m.queue = m.queue[1:]
		return &Completion{Text: text}, nil
	}
	if m.complete != nil {
		return m.complete(req)
	}
	return &Completion{}, nil
}

type mockGate struct {
	mu    sync.Mutex
	waits int
}

func (m *mockGate) Wait(_ context.Context) error {
	m.mu.Lock()
	m.waits++
	m.mu.Unlock()
	return nil
}

type mockSnapshots struct {
	mu    sync.Mutex
	saved []*WorkflowState
}

func (m *mockSnapshots) Save(_ context.Context, state *WorkflowState) error {
	m.mu.Lock()
	m.saved = append(m.saved, state.Clone())
	m.mu.Unlock()
	return nil
}

func (m *mockSnapshots) Load(_ context.Context, sessionID string) (*WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].SessionID == sessionID {
			return m.saved[i].Clone(), nil
		}
	}
	return nil, nil
}

type mockHistory struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMockHistory() *mockHistory {
	return &mockHistory{seen: make(map[string]bool)}
}

func (m *mockHistory) Seen(userID, trackID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[userID+":"+trackID]
}

func (m *mockHistory) Mark(userID, trackID string) {
	m.mu.Lock()
	m.seen[userID+":"+trackID] = true
	m.mu.Unlock()
}

type mockQuota struct {
	mu      sync.Mutex
	allowed bool
	users   []string
}

func (m *mockQuota) Allow(userID string) bool {
	m.mu.Lock()
	m.users = append(m.users, userID)
	m.mu.Unlock()
	return m.allowed
}

// mockMetrics counts everything it is handed.
type mockMetrics struct {
	mu        sync.Mutex
	stages    map[string]int
	errors    map[string]int
	workflows map[string]int
	sizes     []int
	active    int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{
		stages:    make(map[string]int),
		errors:    make(map[string]int),
		workflows: make(map[string]int),
	}
}

func (m *mockMetrics) RecordStage(stage string, _ float64) {
	m.mu.Lock()
	m.stages[stage]++
	m.mu.Unlock()
}

func (m *mockMetrics) RecordError(stage, kind string) {
	m.mu.Lock()
	m.errors[stage+":"+kind]++
	m.mu.Unlock()
}

func (m *mockMetrics) RecordWorkflow(status string) {
	m.mu.Lock()
	m.workflows[status]++
	m.mu.Unlock()
}

func (m *mockMetrics) RecordPlaylistSize(size int) {
	m.mu.Lock()
	m.sizes = append(m.sizes, size)
	m.mu.Unlock()
}

func (m *mockMetrics) RecordActiveWorkflows(delta int) {
	m.mu.Lock()
	m.active += delta
	m.mu.Unlock()
}

// testPipeline returns the default pipeline tuning with retry delays short
// enough for tests.
func testPipeline() *PipelineConfig {
	cfg := DefaultConfig().Pipeline
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.OrderBatchTimeout = time.Second
	return &cfg
}

func testLLMConfig() *LLMConfig {
	return &LLMConfig{Provider: "none", Temperature: 0.2, CallTimeout: time.Second}
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
