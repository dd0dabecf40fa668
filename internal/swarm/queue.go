package swarm

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type queueItem struct {
	task     *Task
	priority int
	seq      uint64
}

type taskHeap []queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return it
}

// TaskQueue is a min-heap keyed by (priority, arrival sequence), so equal
// priorities pop in FIFO order. It is meant for a single consumer.
type TaskQueue struct {
	mu     sync.Mutex
	items  taskHeap
	seq    uint64
	timers map[*time.Timer]struct{}
	closed bool
	wake   chan struct{}
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		timers: make(map[*time.Timer]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Push enqueues t at the given priority. It reports false once the queue
// is closed.
func (q *TaskQueue) Push(t *Task, priority int) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.seq++
	heap.Push(&q.items, queueItem{task: t, priority: priority, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// PushAfter enqueues t once d has elapsed. The sequence number is taken at
// insertion time, so a delayed task queues behind tasks pushed meanwhile.
// It reports false when the queue is already closed.
func (q *TaskQueue) PushAfter(t *Task, priority int, d time.Duration) bool {
	if d <= 0 {
		return q.Push(t, priority)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.Push(t, priority)
	})
	q.timers[timer] = struct{}{}
	return true
}

// Pop returns the most urgent task, waiting up to timeout for one to
// arrive. It reports false on timeout, cancellation or close.
func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (*Task, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(queueItem)
			q.mu.Unlock()
			return it.task, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Len counts tasks ready to pop.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Delayed counts tasks waiting on a PushAfter timer.
func (q *TaskQueue) Delayed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close drops pending timers and makes Pop return immediately.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
