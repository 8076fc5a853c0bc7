package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/franksops/assetdock/store"
)

type MockStore struct {
	mu   sync.Mutex
	Jobs map[string]*store.JobRecord
}

func NewMockStore() *MockStore {
	return &MockStore{Jobs: make(map[string]*store.JobRecord)}
}

func (m *MockStore) SaveJob(job *store.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.Jobs[job.ID] = &cp
	return nil
}

func (m *MockStore) GetJob(id string) (*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MockStore) ListJobs() ([]*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*store.JobRecord
	for _, j := range m.Jobs {
		cp := *j
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs, nil
}

func (m *MockStore) Close() error { return nil }

// mockFS records directory creation and serves existence from a set.
type mockFS struct {
	mu      sync.Mutex
	made    []string
	files   map[string]bool
	failDir map[string]error
	removed []string
}

func newMockFS() *mockFS {
	return &mockFS{files: make(map[string]bool), failDir: make(map[string]error)}
}

func (m *mockFS) MkdirAll(ctx context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDir[dir]; err != nil {
		return err
	}
	m.made = append(m.made, dir)
	return nil
}

func (m *mockFS) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[path], nil
}

func (m *mockFS) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	m.removed = append(m.removed, path)
	return nil
}

func (m *mockFS) dirs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.made...)
}

// recordingObserver counts lifecycle events.
type recordingObserver struct {
	mu       sync.Mutex
	started  int
	progress int
	finished []Outcome
}

func (r *recordingObserver) AssetStarted(TransferJob) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *recordingObserver) AssetProgress(TransferJob, int64, int64) {
	r.mu.Lock()
	r.progress++
	r.mu.Unlock()
}

func (r *recordingObserver) AssetFinished(_ TransferJob, o Outcome) {
	r.mu.Lock()
	r.finished = append(r.finished, o)
	r.mu.Unlock()
}
