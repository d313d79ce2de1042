package tasks

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// InMemoryManager 内存任务存储。
//
// It is not safe for concurrent use; callers serving concurrent requests
// must serialise access to one instance.
type InMemoryManager struct {
	lastID   int
	tasks    map[int]*Task
	epics    map[int]*Task
	subtasks map[int]*Task
	history  *History
	timeline timeline
}

var _ Manager = (*InMemoryManager)(nil)

// NewInMemoryManager 创建内存存储，history 为 nil 时使用不限条数的历史记录
func NewInMemoryManager(history *History) *InMemoryManager {
	if history == nil {
		history = NewHistory(0)
	}
	return &InMemoryManager{
		tasks:    make(map[int]*Task),
		epics:    make(map[int]*Task),
		subtasks: make(map[int]*Task),
		history:  history,
	}
}

func (m *InMemoryManager) nextID() int {
	m.lastID++
	return m.lastID
}

// Tasks 返回全部普通任务，按 id 排序
func (m *InMemoryManager) Tasks() []*Task {
	return sortedClones(m.tasks)
}

// Epics 返回全部史诗，按 id 排序
func (m *InMemoryManager) Epics() []*Task {
	return sortedClones(m.epics)
}

// Subtasks 返回全部子任务，按 id 排序
func (m *InMemoryManager) Subtasks() []*Task {
	return sortedClones(m.subtasks)
}

// EpicSubtasks returns the subtasks of an epic in the epic's order. Each
// subtask is read through Subtask and therefore recorded in history.
func (m *InMemoryManager) EpicSubtasks(epicID int) ([]*Task, error) {
	epic, ok := m.epics[epicID]
	if !ok {
		return nil, notFound(KindEpic, epicID)
	}
	list := make([]*Task, 0, len(epic.SubtaskIDs))
	for _, id := range epic.SubtaskIDs {
		sub, err := m.Subtask(id)
		if err != nil {
			return nil, err
		}
		list = append(list, sub)
	}
	return list, nil
}

// Task 获取普通任务并记录访问历史
func (m *InMemoryManager) Task(id int) (*Task, error) {
	return m.get(m.tasks, KindTask, id)
}

// Epic 获取史诗并记录访问历史
func (m *InMemoryManager) Epic(id int) (*Task, error) {
	return m.get(m.epics, KindEpic, id)
}

// Subtask 获取子任务并记录访问历史
func (m *InMemoryManager) Subtask(id int) (*Task, error) {
	return m.get(m.subtasks, KindSubtask, id)
}

func (m *InMemoryManager) get(items map[int]*Task, kind Kind, id int) (*Task, error) {
	t, ok := items[id]
	if !ok {
		return nil, notFound(kind, id)
	}
	m.history.Add(t)
	return t.Clone(), nil
}

// AddTask 添加普通任务
func (m *InMemoryManager) AddTask(t *Task) (*Task, error) {
	task, err := normalize(t, KindTask)
	if err != nil {
		return nil, err
	}
	if m.timeline.intersects(task, 0) {
		return nil, fmt.Errorf("%w: task %q", ErrIntersection, task.Name)
	}

	task.ID = m.nextID()
	m.tasks[task.ID] = task
	m.timeline.insert(task)
	return task.Clone(), nil
}

// AddEpic 添加史诗，调用方传入的子任务列表会被忽略
func (m *InMemoryManager) AddEpic(t *Task) (*Task, error) {
	epic, err := normalize(t, KindEpic)
	if err != nil {
		return nil, err
	}

	epic.ID = m.nextID()
	epic.SubtaskIDs = nil
	m.epics[epic.ID] = epic
	m.recalculateEpic(epic)
	return epic.Clone(), nil
}

// AddSubtask 添加子任务，所属史诗必须已存在
func (m *InMemoryManager) AddSubtask(t *Task) (*Task, error) {
	sub, err := normalize(t, KindSubtask)
	if err != nil {
		return nil, err
	}
	epic, ok := m.epics[sub.EpicID]
	if !ok {
		return nil, notFound(KindEpic, sub.EpicID)
	}
	if m.timeline.intersects(sub, 0) {
		return nil, fmt.Errorf("%w: subtask %q", ErrIntersection, sub.Name)
	}

	sub.ID = m.nextID()
	m.subtasks[sub.ID] = sub
	epic.SubtaskIDs = append(epic.SubtaskIDs, sub.ID)
	m.recalculateEpic(epic)
	m.timeline.insert(sub)
	return sub.Clone(), nil
}

// UpdateTask 整体替换普通任务
func (m *InMemoryManager) UpdateTask(t *Task) (*Task, error) {
	task, err := normalize(t, KindTask)
	if err != nil {
		return nil, err
	}
	old, ok := m.tasks[task.ID]
	if !ok {
		return nil, notFound(KindTask, task.ID)
	}
	if m.timeline.intersects(task, task.ID) {
		return nil, fmt.Errorf("%w: task %d", ErrIntersection, task.ID)
	}

	m.tasks[task.ID] = task
	m.timeline.replace(old, task)
	return task.Clone(), nil
}

// UpdateEpic 更新史诗的名称和描述。
// The stored subtask list is kept and derived fields are recomputed, so
// caller values for status and schedule have no effect.
func (m *InMemoryManager) UpdateEpic(t *Task) (*Task, error) {
	epic, err := normalize(t, KindEpic)
	if err != nil {
		return nil, err
	}
	old, ok := m.epics[epic.ID]
	if !ok {
		return nil, notFound(KindEpic, epic.ID)
	}

	epic.SubtaskIDs = old.SubtaskIDs
	m.epics[epic.ID] = epic
	m.recalculateEpic(epic)
	return epic.Clone(), nil
}

// UpdateSubtask 整体替换子任务，必要时把它移到新的史诗下
func (m *InMemoryManager) UpdateSubtask(t *Task) (*Task, error) {
	sub, err := normalize(t, KindSubtask)
	if err != nil {
		return nil, err
	}
	old, ok := m.subtasks[sub.ID]
	if !ok {
		return nil, notFound(KindSubtask, sub.ID)
	}
	if sub.EpicID == sub.ID {
		return nil, fmt.Errorf("%w: subtask %d", ErrSelfReference, sub.ID)
	}
	epic, ok := m.epics[sub.EpicID]
	if !ok {
		return nil, notFound(KindEpic, sub.EpicID)
	}
	if m.timeline.intersects(sub, sub.ID) {
		return nil, fmt.Errorf("%w: subtask %d", ErrIntersection, sub.ID)
	}

	if sub.EpicID != old.EpicID {
		if oldEpic, ok := m.epics[old.EpicID]; ok {
			oldEpic.SubtaskIDs = removeID(oldEpic.SubtaskIDs, sub.ID)
			m.recalculateEpic(oldEpic)
		}
		epic.SubtaskIDs = append(epic.SubtaskIDs, sub.ID)
	}
	m.subtasks[sub.ID] = sub
	m.recalculateEpic(epic)
	m.timeline.replace(old, sub)
	return sub.Clone(), nil
}

// DeleteTask 删除普通任务
func (m *InMemoryManager) DeleteTask(id int) error {
	task, ok := m.tasks[id]
	if !ok {
		return notFound(KindTask, id)
	}
	m.timeline.remove(task)
	delete(m.tasks, id)
	m.history.Remove(id)
	return nil
}

// DeleteSubtask 删除子任务并重新计算所属史诗
func (m *InMemoryManager) DeleteSubtask(id int) error {
	sub, ok := m.subtasks[id]
	if !ok {
		return notFound(KindSubtask, id)
	}
	m.timeline.remove(sub)
	delete(m.subtasks, id)
	m.history.Remove(id)
	if epic, ok := m.epics[sub.EpicID]; ok {
		epic.SubtaskIDs = removeID(epic.SubtaskIDs, id)
		m.recalculateEpic(epic)
	}
	return nil
}

// DeleteEpic 删除史诗及其全部子任务
func (m *InMemoryManager) DeleteEpic(id int) error {
	epic, ok := m.epics[id]
	if !ok {
		return notFound(KindEpic, id)
	}
	for _, subID := range epic.SubtaskIDs {
		m.timeline.remove(m.subtasks[subID])
		delete(m.subtasks, subID)
		m.history.Remove(subID)
	}
	delete(m.epics, id)
	m.history.Remove(id)
	return nil
}

// DeleteAllTasks 删除全部普通任务
func (m *InMemoryManager) DeleteAllTasks() error {
	m.purge(m.tasks)
	return nil
}

// DeleteAllSubtasks 删除全部子任务，史诗回到没有子任务的状态
func (m *InMemoryManager) DeleteAllSubtasks() error {
	m.purge(m.subtasks)
	for _, epic := range m.epics {
		epic.SubtaskIDs = nil
		m.recalculateEpic(epic)
	}
	return nil
}

// DeleteAllEpics 删除全部史诗，子任务随之删除
func (m *InMemoryManager) DeleteAllEpics() error {
	m.purge(m.subtasks)
	m.purge(m.epics)
	return nil
}

func (m *InMemoryManager) purge(items map[int]*Task) {
	for id, t := range items {
		m.timeline.remove(t)
		m.history.Remove(id)
	}
	clear(items)
}

// History 返回访问历史，最早的在前
func (m *InMemoryManager) History() []*Task {
	return m.history.List()
}

// Prioritized 返回有开始时间的任务和子任务，按开始时间升序
func (m *InMemoryManager) Prioritized() []*Task {
	return m.timeline.list()
}

// recalculateEpic derives status and schedule of epic from its subtasks.
// It only writes the epic's derived fields.
func (m *InMemoryManager) recalculateEpic(epic *Task) {
	epic.Status = StatusNew
	epic.StartTime = nil
	epic.Duration = nil
	epic.epicEnd = nil
	if len(epic.SubtaskIDs) == 0 {
		return
	}

	var (
		status   Status
		start    *time.Time
		duration *time.Duration
		end      *time.Time
	)
	for _, id := range epic.SubtaskIDs {
		sub, ok := m.subtasks[id]
		if !ok {
			continue
		}
		switch {
		case status == "":
			status = sub.Status
		case status != sub.Status:
			status = StatusInProgress
		}
		if sub.Status == StatusInProgress {
			status = StatusInProgress
		}

		if sub.StartTime != nil && (start == nil || sub.StartTime.Before(*start)) {
			start = copyTime(sub.StartTime)
		}
		if sub.Duration != nil {
			total := *sub.Duration
			if duration != nil {
				total += *duration
			}
			duration = &total
		}
		if subEnd := sub.EndTime(); subEnd != nil && (end == nil || subEnd.After(*end)) {
			end = subEnd
		}
	}

	if status != "" {
		epic.Status = status
	}
	epic.StartTime = start
	epic.Duration = duration
	epic.epicEnd = end
}

// normalize clones t into a value of the given kind ready to be stored.
func normalize(t *Task, kind Kind) (*Task, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: %s is nil", ErrInvalidArgument, kindLabel(kind))
	}
	c := t.Clone()
	c.Kind = kind
	if c.Status == "" {
		c.Status = StatusNew
	}
	if !IsValidStatus(c.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, c.Status)
	}
	if c.Duration != nil && *c.Duration < 0 {
		return nil, fmt.Errorf("%w: negative duration %v", ErrInvalidArgument, *c.Duration)
	}
	switch kind {
	case KindTask:
		c.EpicID = 0
		c.SubtaskIDs = nil
	case KindSubtask:
		c.SubtaskIDs = nil
	case KindEpic:
		c.EpicID = 0
		c.epicEnd = nil
	}
	return c, nil
}

func removeID(ids []int, id int) []int {
	return slices.DeleteFunc(ids, func(v int) bool { return v == id })
}

func sortedClones(items map[int]*Task) []*Task {
	list := make([]*Task, 0, len(items))
	for _, id := range slices.Sorted(maps.Keys(items)) {
		list = append(list, items[id].Clone())
	}
	return list
}
