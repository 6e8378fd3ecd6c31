package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/internal/model"
)

// MaxFileSize caps uploaded file blobs at 50 MiB.
const MaxFileSize = 50 << 20

var _ Store = (*Memory)(nil)

// Memory is a guarded in-memory catalog store.
type Memory struct {
	mu        sync.RWMutex
	suites    map[uuid.UUID]*model.Suite
	envs      map[uuid.UUID]*model.Environment
	files     map[uuid.UUID]map[string][]byte
	runs      map[uuid.UUID]*model.Run
	schedules map[uuid.UUID]*model.Schedule
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		suites:    map[uuid.UUID]*model.Suite{},
		envs:      map[uuid.UUID]*model.Environment{},
		files:     map[uuid.UUID]map[string][]byte{},
		runs:      map[uuid.UUID]*model.Run{},
		schedules: map[uuid.UUID]*model.Schedule{},
	}
}

// PutSuite validates and stores a suite snapshot.
func (m *Memory) PutSuite(suite *model.Suite) error {
	if err := model.ValidateSuite(suite); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suites[suite.ID] = suite
	return nil
}

// PutEnvironment validates and stores an environment.
func (m *Memory) PutEnvironment(env *model.Environment) error {
	if err := model.ValidateEnvironment(env); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envs[env.ID] = env
	return nil
}

// PutFile stores a file blob for an environment.
func (m *Memory) PutFile(envID uuid.UUID, key string, data []byte) error {
	if len(data) > MaxFileSize {
		return ErrFileTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[envID] == nil {
		m.files[envID] = map[string][]byte{}
	}
	m.files[envID][key] = data
	return nil
}

// PutSchedule stores a schedule.
func (m *Memory) PutSchedule(s *model.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
}

// GetSuite implements SuiteStore. Tombstoned suites are not found.
func (m *Memory) GetSuite(_ context.Context, id uuid.UUID) (*model.Suite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	suite, ok := m.suites[id]
	if !ok || suite.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return suite, nil
}

// GetEnvironment implements EnvironmentStore.
func (m *Memory) GetEnvironment(_ context.Context, id uuid.UUID) (*model.Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.envs[id]
	if !ok || env.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return env, nil
}

// GetFile implements EnvironmentStore.
func (m *Memory) GetFile(_ context.Context, envID uuid.UUID, fileKey string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[envID][fileKey]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// CreateRun implements RunStore.
func (m *Memory) CreateRun(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

// CompleteRun implements RunStore.
func (m *Memory) CompleteRun(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrNotFound
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

// GetRun implements RunStore.
func (m *Memory) GetRun(_ context.Context, id uuid.UUID) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// ListRuns implements RunStore. Runs are returned newest first.
func (m *Memory) ListRuns(_ context.Context, suiteID uuid.UUID, page Page) ([]*model.Run, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*model.Run
	for _, run := range m.runs {
		if run.SuiteID == suiteID {
			cp := *run
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	total := len(all)
	if page.Size <= 0 {
		page.Size = 10
	}
	if page.Number < 1 {
		page.Number = 1
	}
	start := (page.Number - 1) * page.Size
	if start >= total {
		return nil, total, nil
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// ListEnabledSchedules implements ScheduleStore.
func (m *Memory) ListEnabledSchedules(_ context.Context) ([]*model.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Schedule
	for _, s := range m.schedules {
		if s.Enabled && s.DeletedAt == nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
