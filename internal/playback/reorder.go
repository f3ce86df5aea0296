// ABOUTME: Reorder buffer for inbound audio chunks
// ABOUTME: Min-heap keyed by sequence number that releases only contiguous runs
package playback

import (
	"container/heap"

	"github.com/talktome/voxta-go/pkg/protocol"
)

// chunkHeap implements heap.Interface ordered by seq
type chunkHeap []protocol.AudioChunk

func (h chunkHeap) Len() int           { return len(h) }
func (h chunkHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h chunkHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *chunkHeap) Push(x interface{}) {
	*h = append(*h, x.(protocol.AudioChunk))
}

func (h *chunkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ReorderBuffer holds chunks of one utterance until the next expected seq arrives
type ReorderBuffer struct {
	items chunkHeap
	held  map[uint32]struct{}
	next  uint32
}

// NewReorderBuffer creates a buffer expecting seq 0
func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{held: make(map[uint32]struct{})}
}

// Push stores a chunk; it returns false for a duplicate or an already released seq
func (b *ReorderBuffer) Push(chunk protocol.AudioChunk) bool {
	if chunk.Seq < b.next {
		return false
	}
	if _, dup := b.held[chunk.Seq]; dup {
		return false
	}
	b.held[chunk.Seq] = struct{}{}
	heap.Push(&b.items, chunk)
	return true
}

// Pop releases the next chunk if it is contiguous with what was released before
func (b *ReorderBuffer) Pop() (protocol.AudioChunk, bool) {
	if len(b.items) == 0 || b.items[0].Seq != b.next {
		return protocol.AudioChunk{}, false
	}
	chunk := heap.Pop(&b.items).(protocol.AudioChunk)
	delete(b.held, chunk.Seq)
	b.next++
	return chunk, true
}

// Next returns the seq the buffer is waiting for
func (b *ReorderBuffer) Next() uint32 {
	return b.next
}

// Len returns the number of held chunks
func (b *ReorderBuffer) Len() int {
	return len(b.items)
}

// Gapped reports whether a later chunk is held while Next is missing
func (b *ReorderBuffer) Gapped() bool {
	return len(b.items) > 0 && b.items[0].Seq != b.next
}

// Reset drops everything and expects seq 0 again
func (b *ReorderBuffer) Reset() {
	b.items = nil
	b.held = make(map[uint32]struct{})
	b.next = 0
}
