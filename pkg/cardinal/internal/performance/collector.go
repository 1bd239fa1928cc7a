// Package performance records which systems ran during each tick and for how long, and hands the
// records out in batches.
package performance

import (
	"sync"
	"time"
)

const (
	spanLimit      = 256 // Spans kept per tick, the rest are counted as dropped
	subscriberSlot = 4   // Batches buffered per subscriber
)

type SystemSpan struct {
	Hook   string    `json:"hook"`
	System string    `json:"system"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Timeline is the record of one successful tick.
type Timeline struct {
	TickHeight uint64       `json:"tick_height"`
	TickStart  time.Time    `json:"tick_start"`
	Duration   string       `json:"duration"`
	Spans      []SystemSpan `json:"spans"`
}

// Batch carries a fixed number of timelines. The dropped counters cover everything lost since the
// previous delivered batch.
type Batch struct {
	Ticks          []Timeline `json:"ticks"`
	DroppedSpans   uint64     `json:"dropped_spans"`
	DroppedBatches uint64     `json:"dropped_batches"`
}

// Collector is fed by the tick loop and by the systems it runs, which may add spans concurrently.
// A tick opened with BeginTick is closed by either EndTick or DiscardTick; spans arriving outside
// an open tick are ignored.
type Collector struct {
	mu   sync.Mutex
	open bool
	tick []SystemSpan

	size    int
	filling []Timeline
	subs    map[<-chan Batch]chan Batch

	lostSpans   uint64
	lostBatches uint64
}

// NewCollector publishes a batch every size ticks. Sizes below one are treated as one.
func NewCollector(size int) *Collector {
	size = max(size, 1)
	return &Collector{
		tick:    make([]SystemSpan, 0, spanLimit),
		size:    size,
		filling: make([]Timeline, 0, size),
		subs:    make(map[<-chan Batch]chan Batch),
	}
}

func (c *Collector) BeginTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.tick = c.tick[:0]
}

func (c *Collector) AddSpan(span SystemSpan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.open:
	case len(c.tick) == spanLimit:
		c.lostSpans++
	default:
		c.tick = append(c.tick, span)
	}
}

// DiscardTick forgets the spans of a tick that failed.
func (c *Collector) DiscardTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.tick = c.tick[:0]
}

// EndTick turns the open tick into a timeline and publishes the batch once it is full.
func (c *Collector) EndTick(height uint64, start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return
	}
	c.open = false

	c.filling = append(c.filling, Timeline{
		TickHeight: height,
		TickStart:  start,
		Duration:   end.Sub(start).String(),
		Spans:      append([]SystemSpan(nil), c.tick...),
	})
	if len(c.filling) == c.size {
		c.publishLocked()
	}
}

// publishLocked never blocks: a subscriber with a full buffer misses the batch, which is counted
// in the next batch that gets through.
func (c *Collector) publishLocked() {
	batch := Batch{Ticks: c.filling, DroppedSpans: c.lostSpans, DroppedBatches: c.lostBatches}
	c.filling = make([]Timeline, 0, c.size)
	c.lostSpans = 0

	delivered := false
	for _, sub := range c.subs {
		select {
		case sub <- batch:
			delivered = true
		default:
			c.lostBatches++
		}
	}
	if delivered {
		c.lostBatches -= batch.DroppedBatches
	}
}

func (c *Collector) Subscribe() <-chan Batch {
	ch := make(chan Batch, subscriberSlot)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[ch] = ch
	return ch
}

// Unsubscribe stops deliveries to ch without closing it.
func (c *Collector) Unsubscribe(ch <-chan Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, ch)
}
