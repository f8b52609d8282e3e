package scheduler

import "container/heap"

// taskQueue is a min-heap of pending tasks ordered by due time, then by
// the sequence number assigned when the task was (re)inserted.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*Task) //nolint:forcetypeassert // heap only holds tasks
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// peek returns the earliest-due task without removing it.
func (q taskQueue) peek() *Task {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// remove deletes t from the heap if it is queued.
func (q *taskQueue) remove(t *Task) {
	if t.index < 0 || t.index >= len(*q) || (*q)[t.index] != t {
		return
	}
	heap.Remove(q, t.index)
}
