package bus

import (
	"time"
)

// Op 变更类型
type Op string

const (
	OpCreated  Op = "created"
	OpUpdated  Op = "updated"
	OpDeleted  Op = "deleted"
	OpCleared  Op = "cleared"
	OpReloaded Op = "reloaded"
)

// ChangeEvent 存储变更事件
type ChangeEvent struct {
	ID        string    `json:"id"`
	Op        Op        `json:"op"`
	Kind      string    `json:"kind,omitempty"`      // TASK, EPIC, SUBTASK; empty for reloads
	EntityID  int       `json:"entityId,omitempty"`  // 0 for bulk operations
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeEvent 创建变更事件
func NewChangeEvent(op Op, kind string, entityID int) *ChangeEvent {
	return &ChangeEvent{Op: op, Kind: kind, EntityID: entityID}
}
