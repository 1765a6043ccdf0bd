package notify

import (
	"sync"
	"time"
)

// Batcher groups messages arriving within a time window so a burst of
// matches produces one combined webhook call instead of many.
type Batcher struct {
	window   time.Duration
	callback func([]Message)

	mu      sync.Mutex
	pending []Message
	timer   *time.Timer
}

// NewBatcher creates a message batcher. The callback receives each
// completed batch.
func NewBatcher(window time.Duration, callback func([]Message)) *Batcher {
	return &Batcher{
		window:   window,
		callback: callback,
	}
}

// Add appends a message to the current batch, starting the window timer
// on the first message.
func (b *Batcher) Add(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, msg)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.flush)
	}
}

// flush hands the pending batch to the callback. The callback runs
// without the lock held so it may call back into the batcher.
func (b *Batcher) flush() {
	b.mu.Lock()
	toSend := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	if len(toSend) > 0 {
		b.callback(toSend)
	}
}

// Flush sends any pending messages immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	b.flush()
}
