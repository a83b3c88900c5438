package collector

import (
	"sync"

	"PositionSentinel/internal/model"
)

// DefaultBufferCapacity bounds the price history kept between ticks.
const DefaultBufferCapacity = 100

// Buffer is a bounded, oldest-first price history. When full, the oldest
// sample is evicted.
type Buffer struct {
	mu       sync.RWMutex
	samples  []model.PriceSample
	capacity int
}

// NewBuffer creates a buffer holding at most capacity samples.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{capacity: capacity, samples: make([]model.PriceSample, 0, capacity)}
}

// Append adds a sample at the newest end.
func (b *Buffer) Append(s model.PriceSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(s)
}

// Merge folds a fetched window into the buffer. Samples older than the newest
// buffered one are ignored, a sample with the same timestamp replaces the newest
// close (an in-progress candle), and later samples are appended.
// It returns the number of samples appended.
func (b *Buffer) Merge(samples []model.PriceSample) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	for _, s := range samples {
		n := len(b.samples)
		switch {
		case n == 0 || s.Time > b.samples[n-1].Time:
			b.appendLocked(s)
			added++
		case s.Time == b.samples[n-1].Time:
			b.samples[n-1].Close = s.Close
		}
	}
	return added
}

func (b *Buffer) appendLocked(s model.PriceSample) {
	if len(b.samples) == b.capacity {
		copy(b.samples, b.samples[1:])
		b.samples = b.samples[:len(b.samples)-1]
	}
	b.samples = append(b.samples, s)
}

// Samples returns a copy of the buffered history, oldest first.
func (b *Buffer) Samples() []model.PriceSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.PriceSample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Latest returns the newest sample.
func (b *Buffer) Latest() (model.PriceSample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.samples) == 0 {
		return model.PriceSample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

func (b *Buffer) Cap() int { return b.capacity }
