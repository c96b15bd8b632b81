package collector

import (
	"sync"

	"github.com/marmos91/breakwater/pkg/crash"
)

// SaveQueue is a FIFO of crash reports waiting for a save worker.
//
// First attempts drain in arrival order; a report requeued after a
// failed save re-enters at the tail behind newer reports, which is the
// only backoff the retry loop has.
type SaveQueue struct {
	mu    sync.Mutex
	items []*crash.Report
}

// NewSaveQueue creates an empty queue.
func NewSaveQueue() *SaveQueue {
	return &SaveQueue{}
}

// Add appends a report to the tail of the queue.
func (q *SaveQueue) Add(r *crash.Report) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
}

// Next removes and returns the report at the head of the queue, or nil
// when the queue is empty.
func (q *SaveQueue) Next() *crash.Report {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r
}

// Len returns the number of queued reports.
func (q *SaveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
