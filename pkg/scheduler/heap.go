package scheduler

import "container/heap"

// scheduleHeap is a container/heap.Interface over schedules ordered by
// start time (nanoseconds since epoch), so the due schedule is always
// at index 0.
type scheduleHeap []*Schedule

func (h scheduleHeap) Len() int { return len(h) }
func (h scheduleHeap) Less(i, j int) bool {
	return h[i].start < h[j].start
}
func (h scheduleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *scheduleHeap) Push(x any) {
	s := x.(*Schedule)
	s.heapIndex = len(*h)
	*h = append(*h, s)
}

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.heapIndex = -1
	*h = old[:n-1]
	return s
}

var _ = heap.Interface(&scheduleHeap{})
