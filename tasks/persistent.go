package tasks

import (
	"errors"
	"fmt"

	"github.com/smallnest/kanban/internal/logger"
	"go.uber.org/zap"
)

// PersistentManager 在每次成功修改后把完整状态写入后端。
//
// A failed save does not roll back the in-memory change; the error is
// returned to the caller wrapped in ErrSaveFailed. Values the backend cannot
// store are rejected with ErrInvalidArgument before anything changes.
type PersistentManager struct {
	*InMemoryManager
	backend Snapshotter
}

var _ Manager = (*PersistentManager)(nil)

// LoadPersistentManager 从后端恢复状态
func LoadPersistentManager(backend Snapshotter, history *History) (*PersistentManager, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is nil", ErrInvalidArgument)
	}
	snap, err := backend.Load()
	if err != nil {
		return nil, wrapSave(err)
	}
	mem, err := Restore(snap, history)
	if err != nil {
		return nil, err
	}
	logger.Debug("Task store loaded",
		zap.Int("tasks", len(snap.Tasks)),
		zap.Int("epics", len(snap.Epics)),
		zap.Int("subtasks", len(snap.Subtasks)),
	)
	return &PersistentManager{InMemoryManager: mem, backend: backend}, nil
}

// Backend 持久化后端
func (m *PersistentManager) Backend() Snapshotter {
	return m.backend
}

// Reload replaces the in-memory state with the backend's. History is
// cleared because its entries may no longer exist.
func (m *PersistentManager) Reload() error {
	snap, err := m.backend.Load()
	if err != nil {
		return wrapSave(err)
	}
	mem, err := Restore(snap, NewHistory(0))
	if err != nil {
		return err
	}
	m.InMemoryManager.replaceState(mem)
	logger.Info("Task store reloaded", zap.Int("items", snap.Len()))
	return nil
}

func (m *PersistentManager) check(t *Task) error {
	if c, ok := m.backend.(RecordChecker); ok && t != nil {
		return c.Check(t)
	}
	return nil
}

func (m *PersistentManager) save(op string, id int) error {
	if err := m.backend.Save(m.Snapshot()); err != nil {
		logger.Error("Failed to save task store",
			zap.String("op", op),
			zap.Int("id", id),
			zap.Error(err),
		)
		return wrapSave(err)
	}
	logger.Debug("Task store saved", zap.String("op", op), zap.Int("id", id))
	return nil
}

func (m *PersistentManager) saveAfter(op string, t *Task, err error) (*Task, error) {
	if err != nil {
		return nil, err
	}
	if err := m.save(op, t.ID); err != nil {
		return t, err
	}
	return t, nil
}

// AddTask 添加并保存
func (m *PersistentManager) AddTask(t *Task) (*Task, error) {
	if err := m.check(t); err != nil {
		return nil, err
	}
	added, err := m.InMemoryManager.AddTask(t)
	return m.saveAfter("add_task", added, err)
}

// AddEpic 添加并保存
func (m *PersistentManager) AddEpic(t *Task) (*Task, error) {
	if err := m.check(t); err != nil {
		return nil, err
	}
	added, err := m.InMemoryManager.AddEpic(t)
	return m.saveAfter("add_epic", added, err)
}

// AddSubtask 添加并保存
func (m *PersistentManager) AddSubtask(t *Task) (*Task, error) {
	if err := m.check(t); err != nil {
		return nil, err
	}
	added, err := m.InMemoryManager.AddSubtask(t)
	return m.saveAfter("add_subtask", added, err)
}

// UpdateTask 更新并保存
func (m *PersistentManager) UpdateTask(t *Task) (*Task, error) {
	if err := m.check(t); err != nil {
		return nil, err
	}
	updated, err := m.InMemoryManager.UpdateTask(t)
	return m.saveAfter("update_task", updated, err)
}

// UpdateEpic 更新并保存
func (m *PersistentManager) UpdateEpic(t *Task) (*Task, error) {
	if err := m.check(t); err != nil {
		return nil, err
	}
	updated, err := m.InMemoryManager.UpdateEpic(t)
	return m.saveAfter("update_epic", updated, err)
}

// UpdateSubtask 更新并保存
func (m *PersistentManager) UpdateSubtask(t *Task) (*Task, error) {
	if err := m.check(t); err != nil {
		return nil, err
	}
	updated, err := m.InMemoryManager.UpdateSubtask(t)
	return m.saveAfter("update_subtask", updated, err)
}

// DeleteTask 删除并保存
func (m *PersistentManager) DeleteTask(id int) error {
	if err := m.InMemoryManager.DeleteTask(id); err != nil {
		return err
	}
	return m.save("delete_task", id)
}

// DeleteEpic 删除并保存
func (m *PersistentManager) DeleteEpic(id int) error {
	if err := m.InMemoryManager.DeleteEpic(id); err != nil {
		return err
	}
	return m.save("delete_epic", id)
}

// DeleteSubtask 删除并保存
func (m *PersistentManager) DeleteSubtask(id int) error {
	if err := m.InMemoryManager.DeleteSubtask(id); err != nil {
		return err
	}
	return m.save("delete_subtask", id)
}

// DeleteAllTasks 清空并保存
func (m *PersistentManager) DeleteAllTasks() error {
	if err := m.InMemoryManager.DeleteAllTasks(); err != nil {
		return err
	}
	return m.save("delete_all_tasks", 0)
}

// DeleteAllEpics 清空并保存
func (m *PersistentManager) DeleteAllEpics() error {
	if err := m.InMemoryManager.DeleteAllEpics(); err != nil {
		return err
	}
	return m.save("delete_all_epics", 0)
}

// DeleteAllSubtasks 清空并保存
func (m *PersistentManager) DeleteAllSubtasks() error {
	if err := m.InMemoryManager.DeleteAllSubtasks(); err != nil {
		return err
	}
	return m.save("delete_all_subtasks", 0)
}

func wrapSave(err error) error {
	if err == nil || errors.Is(err, ErrSaveFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSaveFailed, err)
}
