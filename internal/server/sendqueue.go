package server

import "sync"

// sendQueue is the unbounded outbox of one connection.
// Producers never block; the write pump drains everything queued in one batch.
type sendQueue struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{ready: make(chan struct{}, 1)}
}

// push appends b and returns the queue length after the append.
func (q *sendQueue) push(b []byte) int {
	q.mu.Lock()
	q.items = append(q.items, b)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return n
}

// drain moves all queued items into dst.
func (q *sendQueue) drain(dst [][]byte) [][]byte {
	q.mu.Lock()
	dst = append(dst, q.items...)
	clear(q.items)
	q.items = q.items[:0]
	q.mu.Unlock()
	return dst
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
