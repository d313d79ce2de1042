package tasks

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 实体不存在
	ErrNotFound = errors.New("not found")
	// ErrIntersection 时间区间与已有任务重叠
	ErrIntersection = errors.New("tasks intersect")
	// ErrSaveFailed 持久化读写失败或记录格式错误
	ErrSaveFailed = errors.New("save failed")
	// ErrInvalidArgument 参数为空或字段非法
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSelfReference 子任务把自己当作史诗。
	// It wraps ErrNotFound: no epic can share an id with a subtask.
	ErrSelfReference = fmt.Errorf("%w: subtask cannot be its own epic", ErrNotFound)
)

func notFound(kind Kind, id int) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, kindLabel(kind), id)
}

func kindLabel(kind Kind) string {
	switch kind {
	case KindEpic:
		return "epic"
	case KindSubtask:
		return "subtask"
	default:
		return "task"
	}
}
