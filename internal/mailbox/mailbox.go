package mailbox

import (
	"container/heap"
	"context"
	"sync"
)

// Mailbox is a single agent's inbox: a strict-priority queue where delivery
// order is fixed by Message.Priority first, arrival order second. A work
// message that arrived a minute ago never jumps ahead of a system signal
// that just arrived (spec.md §4.6).
type Mailbox struct {
	mu      sync.Mutex
	notify  chan struct{}
	pq      priorityQueue
	seq     uint64
	closed  bool
}

// New creates an empty mailbox.
func New() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Send enqueues msg and wakes one blocked Receive, if any.
func (m *Mailbox) Send(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.seq++
	heap.Push(&m.pq, &pqItem{msg: msg, priority: msg.Priority, seq: m.seq})
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Receive blocks until a message is available, ctx is done, or the mailbox
// is closed. On close with nothing queued it returns (nil, false).
func (m *Mailbox) Receive(ctx context.Context) (*Message, bool) {
	for {
		if msg, ok := m.tryPop(); ok {
			return msg, true
		}
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-m.notify:
		}
	}
}

// TryReceive returns immediately: (msg, true) if one was queued, else
// (nil, false). Useful for a supervision loop that polls between ticks
// rather than blocking.
func (m *Mailbox) TryReceive() (*Message, bool) {
	return m.tryPop()
}

func (m *Mailbox) tryPop() (*Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pq.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&m.pq).(*pqItem)
	return item.msg, true
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pq.Len()
}

// Close marks the mailbox closed; blocked Receive calls with nothing left
// queued return immediately.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// pqItem is one heap entry: lower Priority value sorts first, ties broken by
// lower seq (earlier arrival) first.
type pqItem struct {
	msg      *Message
	priority Priority
	seq      uint64
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}
