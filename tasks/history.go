package tasks

// History 最近访问记录。
//
// Entries are distinct by id and kept in access order: a doubly linked list
// gives O(1) append and unlink, the index map gives O(1) lookup by id.
// Each entry holds a clone taken at the moment of access.
type History struct {
	head     *historyNode
	tail     *historyNode
	index    map[int]*historyNode
	capacity int
}

type historyNode struct {
	prev *historyNode
	next *historyNode
	task *Task
}

// NewHistory 创建历史记录，capacity <= 0 表示不限制条数
func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{
		index:    make(map[int]*historyNode),
		capacity: capacity,
	}
}

// Add 记录一次访问。已存在的 id 会被移到末尾。
func (h *History) Add(t *Task) {
	if t == nil {
		return
	}
	h.Remove(t.ID)
	h.linkLast(t.Clone())
	if h.capacity > 0 && len(h.index) > h.capacity {
		h.unlink(h.head)
	}
}

// Remove 删除 id 对应的记录，不存在时忽略
func (h *History) Remove(id int) {
	if node, ok := h.index[id]; ok {
		h.unlink(node)
	}
}

// List 按访问顺序返回记录，最早的在前
func (h *History) List() []*Task {
	list := make([]*Task, 0, len(h.index))
	for node := h.head; node != nil; node = node.next {
		list = append(list, node.task.Clone())
	}
	return list
}

// Len 记录条数
func (h *History) Len() int {
	return len(h.index)
}

// Clear 清空记录
func (h *History) Clear() {
	h.head = nil
	h.tail = nil
	h.index = make(map[int]*historyNode)
}

func (h *History) linkLast(t *Task) {
	node := &historyNode{task: t}
	if h.tail == nil {
		h.head = node
	} else {
		h.tail.next = node
		node.prev = h.tail
	}
	h.tail = node
	h.index[t.ID] = node
}

func (h *History) unlink(node *historyNode) {
	if node == nil {
		return
	}
	if node.prev == nil {
		h.head = node.next
	} else {
		node.prev.next = node.next
	}
	if node.next == nil {
		h.tail = node.prev
	} else {
		node.next.prev = node.prev
	}
	node.prev = nil
	node.next = nil
	delete(h.index, node.task.ID)
}
