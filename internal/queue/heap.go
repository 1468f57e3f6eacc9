package queue

import "github.com/cadforge/cadopt/api/schemas"

// queuedJob is a heap entry. seq is the global submission counter used to
// break priority ties FIFO.
type queuedJob struct {
	job *schemas.Job
	seq uint64
}

// jobHeap orders pending jobs highest priority first, then oldest first.
// It implements container/heap.Interface; callers go through heap.Push and
// heap.Pop.
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*queuedJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
