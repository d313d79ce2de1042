package tasks

import (
	"cmp"
	"slices"
)

// timeline keeps every task and subtask with a start time, ordered by
// start time and then by id.
type timeline struct {
	items []*Task
}

func compareByStart(a, b *Task) int {
	if c := a.StartTime.Compare(*b.StartTime); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// insert adds t if it has a start time.
func (tl *timeline) insert(t *Task) {
	if t == nil || t.StartTime == nil {
		return
	}
	i, found := slices.BinarySearchFunc(tl.items, t, compareByStart)
	if found {
		tl.items[i] = t
		return
	}
	tl.items = slices.Insert(tl.items, i, t)
}

// remove drops the entry stored for t. t must carry the start time it was
// inserted with.
func (tl *timeline) remove(t *Task) {
	if t == nil || t.StartTime == nil {
		return
	}
	if i, found := slices.BinarySearchFunc(tl.items, t, compareByStart); found {
		tl.items = slices.Delete(tl.items, i, i+1)
	}
}

// replace swaps old for updated, either of which may be unscheduled.
func (tl *timeline) replace(old, updated *Task) {
	tl.remove(old)
	tl.insert(updated)
}

// intersects reports whether t overlaps any scheduled entry other than
// the one with id excludeID.
func (tl *timeline) intersects(t *Task, excludeID int) bool {
	if !t.Scheduled() {
		return false
	}
	start, end := *t.StartTime, *t.EndTime()
	for _, other := range tl.items {
		if !other.StartTime.Before(end) {
			break
		}
		if other.ID == excludeID || !other.Scheduled() {
			continue
		}
		if end.After(*other.StartTime) && start.Before(*other.EndTime()) {
			return true
		}
	}
	return false
}

func (tl *timeline) list() []*Task {
	list := make([]*Task, 0, len(tl.items))
	for _, t := range tl.items {
		list = append(list, t.Clone())
	}
	return list
}
