package session

import "sync"

// BufferConfig bounds the suspension-buffer (spec §4.4 "Replay buffer
// policy"): default 1024 messages / 4 MiB, whichever is hit first.
type BufferConfig struct {
	MaxMessages int
	MaxBytes    int
}

// DefaultBufferConfig returns spec §4.4's defaults.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{MaxMessages: 1024, MaxBytes: 4 * 1024 * 1024}
}

// replayBuffer is an ordered, bounded queue of outbound payloads
// accumulated while a session is suspended. Unlike the teacher's
// fixed-capacity ring buffer (internal/chat/buffer.go), this buffer is
// dynamically sized and bounded by both message count and total bytes, per
// spec §4.4; overflow drops the oldest entry and increments a counter
// rather than silently overwriting it, since the caller needs to know
// replay is now lossy.
type replayBuffer struct {
	mu    sync.Mutex
	cfg   BufferConfig
	items [][]byte
	bytes int

	overflowDrops int
}

func newReplayBuffer(cfg BufferConfig) *replayBuffer {
	if cfg.MaxMessages <= 0 {
		cfg = DefaultBufferConfig()
	}
	return &replayBuffer{cfg: cfg}
}

// enqueue appends payload, dropping the oldest entries as needed to stay
// within bounds. It returns the number of entries dropped as a result of
// this enqueue (0, 1, or more if payload alone exceeds MaxBytes and forces
// repeated eviction).
func (b *replayBuffer) enqueue(payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := append([]byte(nil), payload...)
	b.items = append(b.items, cp)
	b.bytes += len(cp)

	dropped := 0
	for (len(b.items) > b.cfg.MaxMessages || b.bytes > b.cfg.MaxBytes) && len(b.items) > 0 {
		b.bytes -= len(b.items[0])
		b.items = b.items[1:]
		dropped++
	}
	b.overflowDrops += dropped
	return dropped
}

// drain returns all buffered payloads in FIFO insertion order and empties
// the buffer (spec §4.4 Reconnect: "replay the suspension buffer in
// insertion order, clear the buffer").
func (b *replayBuffer) drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	b.bytes = 0
	return out
}

// len returns the current number of buffered entries.
func (b *replayBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// droppedCount returns the cumulative number of OverflowDrop events.
func (b *replayBuffer) droppedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowDrops
}
