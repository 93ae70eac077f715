package pipeline

import "sync"

// StageMap is the process-wide task-id → stage-name map that powers the
// live status channel. Entries are removed when the task's run ends.
type StageMap struct {
	mu     sync.Mutex
	stages map[string]string
}

func NewStageMap() *StageMap {
	return &StageMap{stages: map[string]string{}}
}

func (m *StageMap) Set(taskID, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[taskID] = stage
}

func (m *StageMap) Get(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[taskID]
}

func (m *StageMap) Clear(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stages, taskID)
}
