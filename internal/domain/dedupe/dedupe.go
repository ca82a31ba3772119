// Package dedupe guards asynchronous ingestion against repeated keys.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

// Deduper remembers recently accepted keys, such as the offer ID of an
// outcome waiting in the queue.
type Deduper interface {
	// SeenAndRecord reports whether key was already recorded and records it
	// if not. The check and the write are one atomic step.
	SeenAndRecord(ctx context.Context, key string) bool
	// Unrecord forgets key so a failed submission can be retried.
	Unrecord(ctx context.Context, key string)
	Size() int64
}

// fifoDeduper keeps keys in insertion order and evicts the oldest once
// maxSize is reached. maxSize <= 0 never evicts.
type fifoDeduper struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewInMemoryDeduper returns a process-local Deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &fifoDeduper{maxSize: 50000}
	for _, opt := range opts {
		opt(d)
	}
	d.index = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *fifoDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.index[key]; ok {
		return true
	}
	if d.maxSize > 0 {
		for d.order.Len() >= d.maxSize {
			oldest := d.order.Front()
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(string))
		}
	}
	d.index[key] = d.order.PushBack(key)
	return false
}

func (d *fifoDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.index[key]; ok {
		d.order.Remove(e)
		delete(d.index, key)
	}
}

func (d *fifoDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.index))
}
