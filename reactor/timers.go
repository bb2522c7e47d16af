package reactor

import (
	"container/heap"
	"time"
)

// timerEntry is one pending deadline in the timer heap.
type timerEntry struct {
	deadline time.Time
	handle   Handle
	index    int
}

// timerHeap is a min-heap of timer entries ordered by deadline.
// Entries with equal deadlines keep their insertion order stable enough
// for scheduling purposes; no ordering is guaranteed across resources.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// push adds an entry maintaining heap order.
func (h *timerHeap) push(e *timerEntry) {
	heap.Push(h, e)
}

// popExpired removes and returns all entries with deadlines at or before
// now, nearest first.
func (h *timerHeap) popExpired(now time.Time) []*timerEntry {
	var out []*timerEntry
	for h.Len() > 0 && !(*h)[0].deadline.After(now) {
		out = append(out, heap.Pop(h).(*timerEntry))
	}
	return out
}

// remove deletes an entry by its heap index.
func (h *timerHeap) remove(e *timerEntry) {
	if e.index >= 0 && e.index < h.Len() && (*h)[e.index] == e {
		heap.Remove(h, e.index)
	}
}

// nearest returns the earliest pending deadline, if any.
func (h timerHeap) nearest() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].deadline, true
}
