package message

import (
	"log/slog"
	"sync"
)

// DefaultMaxBufferedPerPeer bounds one conversation's backlog. The source
// system had no bound; the cap guards against a stalled consumer exhausting
// memory. Overflow drops the oldest record and logs it distinctly.
const DefaultMaxBufferedPerPeer = 1024

// Buffer holds not-yet-consumed records per conversation. Appends and pops
// are O(1) amortized and safe for concurrent use. Conversations are drained
// whole, in the order their keys first appeared — an explicit FIFO of keys,
// not map iteration order.
type Buffer struct {
	logger *slog.Logger

	mu         sync.Mutex
	order      []int64
	queues     map[int64][]Message
	maxPerPeer int
}

// NewBuffer creates an empty buffer.
func NewBuffer(log *slog.Logger) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	return &Buffer{
		logger:     log.With(slog.String("component", "buffer")),
		queues:     make(map[int64][]Message),
		maxPerPeer: DefaultMaxBufferedPerPeer,
	}
}

// Append inserts the record at the tail of its conversation's queue, creating
// the queue on first use.
func (b *Buffer) Append(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue, ok := b.queues[msg.PeerID]
	if !ok {
		b.order = append(b.order, msg.PeerID)
	}
	if b.maxPerPeer > 0 && len(queue) >= b.maxPerPeer {
		queue = queue[1:]
		b.logger.Warn("conversation backlog full, dropping oldest record",
			slog.Int64("peer_id", msg.PeerID),
			slog.Int("cap", b.maxPerPeer),
		)
	}
	b.queues[msg.PeerID] = append(queue, msg)
}

// PopConversation removes and returns the entire backlog of one conversation:
// the one whose key was created first among currently buffered keys. Returns
// an empty slice when nothing is buffered. Records from different
// conversations are never mixed in one result.
func (b *Buffer) PopConversation() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) == 0 {
		return []Message{}
	}
	peerID := b.order[0]
	b.order = b.order[1:]
	queue := b.queues[peerID]
	delete(b.queues, peerID)
	return queue
}

// Len returns the total number of buffered records across conversations.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, queue := range b.queues {
		total += len(queue)
	}
	return total
}

// Conversations returns the number of conversations with a pending backlog.
func (b *Buffer) Conversations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
