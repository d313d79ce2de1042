package tasks

import (
	"slices"
	"time"
)

// Kind 实体类型
type Kind string

const (
	KindTask    Kind = "TASK"
	KindEpic    Kind = "EPIC"
	KindSubtask Kind = "SUBTASK"
)

// Status 任务状态
type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Task 任务实体。Kind 区分普通任务、史诗和子任务：
// EpicID 只对子任务有意义，SubtaskIDs 只对史诗有意义。
type Task struct {
	ID          int            `json:"id" yaml:"id"`
	Kind        Kind           `json:"type" yaml:"type"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Status      Status         `json:"status" yaml:"status"`
	StartTime   *time.Time     `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	Duration    *time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	EpicID      int            `json:"epic,omitempty" yaml:"epic,omitempty"`
	SubtaskIDs  []int          `json:"subtasks,omitempty" yaml:"subtasks,omitempty"`

	// epic only: latest end among subtasks
	epicEnd *time.Time
}

// NewTask 创建普通任务
func NewTask(name, description string) *Task {
	return &Task{Kind: KindTask, Name: name, Description: description, Status: StatusNew}
}

// NewEpic 创建史诗
func NewEpic(name, description string) *Task {
	return &Task{Kind: KindEpic, Name: name, Description: description, Status: StatusNew}
}

// NewSubtask 创建属于 epicID 的子任务
func NewSubtask(name, description string, epicID int) *Task {
	return &Task{Kind: KindSubtask, Name: name, Description: description, Status: StatusNew, EpicID: epicID}
}

// WithSchedule sets start time and duration and returns t for chaining.
func (t *Task) WithSchedule(start time.Time, d time.Duration) *Task {
	t.StartTime = &start
	t.Duration = &d
	return t
}

// WithStatus sets the status and returns t for chaining.
func (t *Task) WithStatus(status Status) *Task {
	t.Status = status
	return t
}

// EndTime 结束时间。史诗返回子任务中最晚的结束时间。
func (t *Task) EndTime() *time.Time {
	if t == nil {
		return nil
	}
	if t.Kind == KindEpic {
		return copyTime(t.epicEnd)
	}
	if t.StartTime == nil || t.Duration == nil {
		return nil
	}
	end := t.StartTime.Add(*t.Duration)
	return &end
}

// Scheduled reports whether both start time and duration are set.
func (t *Task) Scheduled() bool {
	return t != nil && t.StartTime != nil && t.Duration != nil
}

// Clone 深拷贝
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.StartTime = copyTime(t.StartTime)
	if t.Duration != nil {
		d := *t.Duration
		c.Duration = &d
	}
	c.SubtaskIDs = slices.Clone(t.SubtaskIDs)
	c.epicEnd = copyTime(t.epicEnd)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Manager 任务存储接口
type Manager interface {
	Tasks() []*Task
	Epics() []*Task
	Subtasks() []*Task
	EpicSubtasks(epicID int) ([]*Task, error)

	Task(id int) (*Task, error)
	Epic(id int) (*Task, error)
	Subtask(id int) (*Task, error)

	AddTask(t *Task) (*Task, error)
	AddEpic(t *Task) (*Task, error)
	AddSubtask(t *Task) (*Task, error)

	UpdateTask(t *Task) (*Task, error)
	UpdateEpic(t *Task) (*Task, error)
	UpdateSubtask(t *Task) (*Task, error)

	DeleteTask(id int) error
	DeleteEpic(id int) error
	DeleteSubtask(id int) error

	DeleteAllTasks() error
	DeleteAllEpics() error
	DeleteAllSubtasks() error

	History() []*Task
	Prioritized() []*Task
}

// IsValidStatus 检查状态是否合法
func IsValidStatus(status Status) bool {
	switch status {
	case StatusNew, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

// IsValidKind 检查类型是否合法
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindTask, KindEpic, KindSubtask:
		return true
	default:
		return false
	}
}
