package loop

import (
	"container/heap"
	"time"
)

// Timer is a one-shot deferred callback registered with AfterDelay.
type Timer struct {
	deadline time.Time
	seq      uint64
	fn       func()
	stopped  bool
	fired    bool
	index    int
}

// Stop prevents the timer from firing. It reports whether the call stopped
// the timer, false if it had already fired or been stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// timerHeap orders timers by deadline, then registration order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// due pops every live timer whose deadline is not after now.
func (h *timerHeap) due(now time.Time) []*Timer {
	var out []*Timer
	for h.Len() > 0 {
		next := (*h)[0]
		if next.deadline.After(now) {
			break
		}
		heap.Pop(h)
		if next.stopped {
			continue
		}
		out = append(out, next)
	}
	return out
}
