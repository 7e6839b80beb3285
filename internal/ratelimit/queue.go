package ratelimit

import (
	"container/heap"

	"github.com/odinmarkets/dna-pipeline/internal/model"
)

// item is one ticket's scheduling state inside a kind's priority queue.
// container/heap is used for the priority queue itself: no dependency
// available to this codebase provides one, and heap is the idiomatic
// stdlib structure for this — see DESIGN.md.
type item struct {
	req   *model.Request
	index int
}

// priorityQueue orders by (priority DESC, first_seen_at ASC).
type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].req.Priority != pq[j].req.Priority {
		return pq[i].req.Priority > pq[j].req.Priority
	}
	return pq[i].req.FirstSeenAt.Before(pq[j].req.FirstSeenAt)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*pq)
	*pq = append(*pq, it)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

// removeByID removes and returns the item for id if present (used by
// cancel() on PENDING/QUEUED requests).
func (pq *priorityQueue) removeByID(id int64) *item {
	for i, it := range *pq {
		if it.req.ID == id {
			heap.Remove(pq, i)
			return it
		}
	}
	return nil
}
