// Package timer schedules one-shot and repeating timers on a min-heap and
// delivers the ids of fired timers on a channel.
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"dhtnode/types"
	"dhtnode/x/timex"
)

type item struct {
	id     types.TimerID
	due    int64
	every  time.Duration
	repeat bool
	index  int
}

type timerHeap []*item

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].due < h[j].due }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)        { it := x.(*item); it.index = len(*h); *h = append(*h, it) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	it.index = -1
	*h = old[:n-1]
	return it
}
func (h timerHeap) Top() *item {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// Queue is safe for concurrent Add/Remove while Run is active.
type Queue struct {
	mu    sync.Mutex
	wake  chan struct{}
	items map[types.TimerID]*item
	h     timerHeap
	out   chan<- types.TimerID
	now   func() time.Time
}

func NewQueue(out chan<- types.TimerID) *Queue {
	return &Queue{
		wake:  make(chan struct{}, 1),
		items: make(map[types.TimerID]*item),
		out:   out,
		now:   time.Now,
	}
}

// Add arms a timer, replacing any existing timer with the same id.
// The first fire occurs after interval.
func (q *Queue) Add(id types.TimerID, interval time.Duration, repeat bool) {
	if interval < 0 {
		interval = 0
	}
	q.mu.Lock()
	due := q.now().Add(interval).UnixNano()
	if it := q.items[id]; it == nil {
		it2 := &item{id: id, due: due, every: interval, repeat: repeat, index: -1}
		q.items[id] = it2
		heap.Push(&q.h, it2)
	} else {
		it.every = interval
		it.repeat = repeat
		it.due = due
		heap.Fix(&q.h, it.index)
	}
	q.mu.Unlock()
	q.wakeup()
}

// Remove disarms a timer. Unknown ids are ignored.
func (q *Queue) Remove(id types.TimerID) bool {
	q.mu.Lock()
	it := q.items[id]
	if it != nil {
		heap.Remove(&q.h, it.index)
		delete(q.items, id)
	}
	q.mu.Unlock()
	q.wakeup()
	return it != nil
}

// Len reports the number of armed timers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run fires timers until ctx is cancelled. Repeating timers are sent
// without blocking: if the consumer is behind, the tick is dropped and the
// timer stays armed for its next period. One-shot timers have no next
// period, so their send waits for the consumer.
func (q *Queue) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := q.nextWait()
		if wait < 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if wait == 0 {
			id, repeat, ok := q.popDue()
			if !ok {
				continue
			}
			if !repeat {
				select {
				case q.out <- id:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case q.out <- id:
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		timex.ResetTimer(timer, time.Duration(wait))
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// popDue takes the earliest due timer, re-arming it when it repeats.
func (q *Queue) popDue() (id types.TimerID, repeat, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	top := q.h.Top()
	if top == nil || top.due > q.now().UnixNano() {
		return 0, false, false
	}
	fire := heap.Pop(&q.h).(*item)
	repeat = fire.repeat && fire.every > 0
	if repeat {
		fire.due = q.now().Add(fire.every).UnixNano()
		heap.Push(&q.h, fire)
	} else {
		delete(q.items, fire.id)
	}
	return fire.id, repeat, true
}

func (q *Queue) nextWait() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	top := q.h.Top()
	if top == nil {
		return -1
	}
	now := q.now().UnixNano()
	if top.due <= now {
		return 0
	}
	return top.due - now
}

func (q *Queue) wakeup() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
