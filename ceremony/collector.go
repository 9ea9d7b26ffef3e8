package ceremony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tee-signer-fabric/metrics"
	"github.com/ruteri/tee-signer-fabric/rpc"
)

// ErrDeadline is returned by Await when the context ends before every response arrived.
var ErrDeadline = errors.New("ceremony deadline exceeded")

type slot struct {
	resp    *rpc.Response
	tracked time.Time
}

// DefaultSlotTTL bounds how long a tracked request id is kept when nobody awaits it.
const DefaultSlotTTL = 5 * time.Minute

type CollectorOption func(*Collector)

// WithSlotTTL sets how long Run keeps a tracked id before sweeping it. It must
// exceed the longest Await a caller performs.
func WithSlotTTL(ttl time.Duration) CollectorOption {
	return func(c *Collector) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Collector drains the shared response sink and hands responses to whoever awaits
// their request id. Responses for ids nobody tracks are dropped.
type Collector struct {
	in  <-chan rpc.Response
	log *slog.Logger
	ttl time.Duration

	mu      sync.Mutex
	slots   map[rpc.ID]*slot
	changed chan struct{}
}

func NewCollector(in <-chan rpc.Response, log *slog.Logger, opts ...CollectorOption) *Collector {
	c := &Collector{
		in:      in,
		log:     log,
		ttl:     DefaultSlotTTL,
		slots:   make(map[rpc.ID]*slot),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes the sink until ctx is done or the sink is closed. Slots older than
// the TTL are swept periodically.
func (c *Collector) Run(ctx context.Context) {
	sweep := time.NewTicker(c.ttl / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-sweep.C:
			c.sweep(now)
		case resp, ok := <-c.in:
			if !ok {
				return
			}
			c.deliver(resp)
		}
	}
}

func (c *Collector) deliver(resp rpc.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[resp.ID]
	if !ok {
		c.log.Debug("Dropping response for untracked request", slog.String("id", resp.ID.String()))
		return
	}
	if s.resp != nil {
		c.log.Warn("Dropping duplicate response", slog.String("id", resp.ID.String()))
		return
	}

	s.resp = &resp
	metrics.CeremonyResponseLatency.Observe(time.Since(s.tracked).Seconds())

	close(c.changed)
	c.changed = make(chan struct{})
}

// Track must be called before the request with id is sent.
func (c *Collector) Track(id rpc.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[id]; !ok {
		c.slots[id] = &slot{tracked: time.Now()}
	}
}

func (c *Collector) Forget(ids ...rpc.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.slots, id)
	}
}

// sweep drops every slot tracked more than ttl before now.
func (c *Collector) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := 0
	for id, s := range c.slots {
		if now.Sub(s.tracked) > c.ttl {
			delete(c.slots, id)
			expired++
		}
	}
	if expired > 0 {
		c.log.Debug("Swept expired response slots", slog.Int("count", expired))
	}
}

// Tracked returns how many request ids currently hold a slot.
func (c *Collector) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Pending returns how many tracked requests have no response yet.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.slots {
		if s.resp == nil {
			n++
		}
	}
	return n
}

// Await blocks until a response arrived for every id or ctx ends. The ids are
// forgotten afterwards. On deadline the responses received so far are returned
// together with an error wrapping ErrDeadline.
func (c *Collector) Await(ctx context.Context, ids []rpc.ID) (map[rpc.ID]rpc.ReturnValue, error) {
	defer c.Forget(ids...)

	want := make(map[rpc.ID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	for {
		c.mu.Lock()
		results := make(map[rpc.ID]rpc.ReturnValue, len(want))
		for id := range want {
			if s, ok := c.slots[id]; ok && s.resp != nil {
				results[id] = s.resp.Value
			}
		}
		changed := c.changed
		c.mu.Unlock()

		if len(results) == len(want) {
			return results, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return results, fmt.Errorf("%w: %d of %d responses: %w", ErrDeadline, len(results), len(want), ctx.Err())
		}
	}
}
