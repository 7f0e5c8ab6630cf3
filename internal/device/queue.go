package device

import (
	"fmt"

	"github.com/joshp123/epdrelay/internal/content"
)

// Queues is the per-device FIFO view of a Registry. Each queue lives inside
// its device record, so a queue exists exactly when the device does.
type Queues struct {
	reg *Registry
}

// Enqueue appends item to the tail of the device queue.
func (q *Queues) Enqueue(address string, item content.Item) error {
	rec, ok := q.reg.lookup(address)
	if !ok {
		return fmt.Errorf("enqueue %q: %w", address, ErrUnknownDevice)
	}

	rec.mu.Lock()
	rec.queue = append(rec.queue, item)
	dropped := 0
	if max := q.reg.cfg.MaxQueueLength; max > 0 && len(rec.queue) > max {
		dropped = len(rec.queue) - max
		rec.queue = append([]content.Item(nil), rec.queue[dropped:]...)
	}
	depth := len(rec.queue)
	rec.mu.Unlock()

	enqueuedTotal.WithLabelValues(string(item.Kind())).Inc()
	if dropped > 0 {
		droppedTotal.Add(float64(dropped))
		q.reg.logger.Warn().
			Str("ip", address).
			Int("dropped", dropped).
			Int("max_queue_length", q.reg.cfg.MaxQueueLength).
			Msg("queue full, dropped oldest items")
	}
	q.reg.logger.Debug().
		Str("ip", address).
		Str("type", string(item.Kind())).
		Int("queue_len", depth).
		Msg("content queued")
	return nil
}

// DequeueOne pops the head of the device queue. An empty queue is not an
// error: it returns false and leaves the queue untouched.
func (q *Queues) DequeueOne(address string) (content.Item, bool, error) {
	rec, ok := q.reg.lookup(address)
	if !ok {
		return content.Item{}, false, fmt.Errorf("dequeue %q: %w", address, ErrUnknownDevice)
	}

	rec.mu.Lock()
	if len(rec.queue) == 0 {
		rec.mu.Unlock()
		return content.Item{}, false, nil
	}
	item := rec.queue[0]
	rec.queue[0] = content.Item{}
	rec.queue = rec.queue[1:]
	if len(rec.queue) == 0 {
		rec.queue = nil
	}
	rec.mu.Unlock()

	dequeuedTotal.WithLabelValues(string(item.Kind())).Inc()
	return item, true, nil
}

// PeekAll returns a copy of the device queue without changing it.
func (q *Queues) PeekAll(address string) ([]content.Item, error) {
	rec, ok := q.reg.lookup(address)
	if !ok {
		return nil, fmt.Errorf("peek %q: %w", address, ErrUnknownDevice)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]content.Item, len(rec.queue))
	copy(out, rec.queue)
	return out, nil
}

// Len returns the number of queued items for the device.
func (q *Queues) Len(address string) (int, error) {
	rec, ok := q.reg.lookup(address)
	if !ok {
		return 0, fmt.Errorf("queue length %q: %w", address, ErrUnknownDevice)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.queue), nil
}
