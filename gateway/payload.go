package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallnest/kanban/tasks"
	"github.com/tidwall/gjson"
)

// TaskPayload 任务的 JSON 表示。duration 以分钟为单位。
type TaskPayload struct {
	ID          int        `json:"id"`
	Type        tasks.Kind `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Epic        int        `json:"epic,omitempty"`
	Subtasks    []int      `json:"subtasks,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	Duration    *int64     `json:"duration,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}

// NewTaskPayload 转换为 JSON 表示
func NewTaskPayload(t *tasks.Task) *TaskPayload {
	p := &TaskPayload{
		ID:          t.ID,
		Type:        t.Kind,
		Name:        t.Name,
		Description: t.Description,
		Status:      string(t.Status),
		Epic:        t.EpicID,
		Subtasks:    t.SubtaskIDs,
		StartTime:   t.StartTime,
		EndTime:     t.EndTime(),
	}
	if t.Duration != nil {
		minutes := int64(*t.Duration / time.Minute)
		p.Duration = &minutes
	}
	return p
}

// NewTaskPayloads 批量转换
func NewTaskPayloads(list []*tasks.Task) []*TaskPayload {
	out := make([]*TaskPayload, 0, len(list))
	for _, t := range list {
		out = append(out, NewTaskPayload(t))
	}
	return out
}

// decodedBody 解析后的 POST 请求体
type decodedBody struct {
	task   *tasks.Task
	update bool
}

// decodeTaskBody parses a POST body for the given kind. A body carrying an
// "id" field is an update, otherwise an add.
func decodeTaskBody(body []byte, kind tasks.Kind) (*decodedBody, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed JSON body", tasks.ErrInvalidArgument)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: body must be a JSON object", tasks.ErrInvalidArgument)
	}

	id := root.Get("id")
	update := id.Exists() && id.Type != gjson.Null

	var p TaskPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", tasks.ErrInvalidArgument, err)
	}

	t := &tasks.Task{
		ID:          p.ID,
		Kind:        kind,
		Name:        p.Name,
		Description: p.Description,
		Status:      tasks.Status(p.Status),
		StartTime:   p.StartTime,
	}
	if kind == tasks.KindSubtask {
		t.EpicID = p.Epic
	}
	if p.Duration != nil {
		if *p.Duration > tasks.MaxDurationMinutes {
			return nil, fmt.Errorf("%w: duration %d minutes is too large", tasks.ErrInvalidArgument, *p.Duration)
		}
		d := time.Duration(*p.Duration) * time.Minute
		t.Duration = &d
	}
	return &decodedBody{task: t, update: update}, nil
}
