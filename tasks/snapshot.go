package tasks

import (
	"fmt"
)

// Snapshot 存储的完整状态
type Snapshot struct {
	Tasks    []*Task `json:"tasks" yaml:"tasks"`
	Epics    []*Task `json:"epics" yaml:"epics"`
	Subtasks []*Task `json:"subtasks" yaml:"subtasks"`
}

// Len 实体总数
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Tasks) + len(s.Epics) + len(s.Subtasks)
}

// Snapshotter 持久化后端
type Snapshotter interface {
	Save(snap *Snapshot) error
	Load() (*Snapshot, error)
}

// RecordChecker is implemented by backends that cannot store every value.
type RecordChecker interface {
	Check(t *Task) error
}

// Snapshot exports the current state. Tasks and epics are sorted by id;
// subtasks follow their epics in each epic's own order.
func (m *InMemoryManager) Snapshot() *Snapshot {
	epics := m.Epics()
	subtasks := make([]*Task, 0, len(m.subtasks))
	for _, epic := range epics {
		for _, id := range epic.SubtaskIDs {
			if sub, ok := m.subtasks[id]; ok {
				subtasks = append(subtasks, sub.Clone())
			}
		}
	}
	return &Snapshot{
		Tasks:    m.Tasks(),
		Epics:    epics,
		Subtasks: subtasks,
	}
}

// Restore rebuilds a manager from snap. Epic subtask lists are derived from
// the subtasks' epic references in snapshot order, never taken from the
// epics themselves; the id counter resumes after the largest id seen.
func Restore(snap *Snapshot, history *History) (*InMemoryManager, error) {
	m := NewInMemoryManager(history)
	if snap == nil {
		return m, nil
	}

	seen := make(map[int]struct{}, snap.Len())
	load := func(list []*Task, kind Kind, into map[int]*Task) error {
		for _, t := range list {
			if t == nil {
				return fmt.Errorf("%w: nil %s in snapshot", ErrSaveFailed, kindLabel(kind))
			}
			if t.ID <= 0 {
				return fmt.Errorf("%w: %s has invalid id %d", ErrSaveFailed, kindLabel(kind), t.ID)
			}
			if _, dup := seen[t.ID]; dup {
				return fmt.Errorf("%w: duplicate id %d", ErrSaveFailed, t.ID)
			}
			c, err := normalize(t, kind)
			if err != nil {
				return fmt.Errorf("%w: %s %d: %v", ErrSaveFailed, kindLabel(kind), t.ID, err)
			}
			seen[c.ID] = struct{}{}
			into[c.ID] = c
			m.lastID = max(m.lastID, c.ID)
		}
		return nil
	}
	if err := load(snap.Tasks, KindTask, m.tasks); err != nil {
		return nil, err
	}
	if err := load(snap.Epics, KindEpic, m.epics); err != nil {
		return nil, err
	}
	if err := load(snap.Subtasks, KindSubtask, m.subtasks); err != nil {
		return nil, err
	}

	for _, epic := range m.epics {
		epic.SubtaskIDs = nil
	}
	for _, t := range snap.Subtasks {
		sub := m.subtasks[t.ID]
		epic, ok := m.epics[sub.EpicID]
		if !ok {
			return nil, fmt.Errorf("%w: subtask %d references missing epic %d", ErrSaveFailed, sub.ID, sub.EpicID)
		}
		epic.SubtaskIDs = append(epic.SubtaskIDs, sub.ID)
	}
	for _, epic := range m.epics {
		m.recalculateEpic(epic)
	}
	for _, t := range m.tasks {
		m.timeline.insert(t)
	}
	for _, sub := range m.subtasks {
		m.timeline.insert(sub)
	}
	return m, nil
}

// replaceState swaps the whole state of m with that of other, keeping m's
// history instance but clearing it.
func (m *InMemoryManager) replaceState(other *InMemoryManager) {
	m.lastID = other.lastID
	m.tasks = other.tasks
	m.epics = other.epics
	m.subtasks = other.subtasks
	m.timeline = other.timeline
	m.history.Clear()
}
