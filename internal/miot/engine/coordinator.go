package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nerrad567/miot-core/internal/miot/proto"
)

const defaultCoordinatorInterval = 30 * time.Second

// Sink receives the demultiplexed results of a coordinated cloud poll.
// *Session satisfies it.
type Sink interface {
	Ingest(results []proto.PropertyValue)
	IngestFailure(err error)
}

// Coordinator merges the fixed property lists of every registered
// cloud session into one batched request per tick and fans the results
// back out by device id. One coordinator exists per cloud account;
// without it, n devices would cost n HTTP round trips per cycle and
// trip the cloud's rate limiting.
type Coordinator struct {
	transport Transport
	interval  time.Duration
	log       Logger

	mu     sync.Mutex
	regs   map[string]*registration
	closed bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type registration struct {
	token string
	did   string
	reqs  []proto.PropertyRequest
	sink  Sink
}

// NewCoordinator creates a coordinator polling on the given interval.
// Zero selects the default.
func NewCoordinator(transport Transport, interval time.Duration, log Logger) *Coordinator {
	if interval <= 0 {
		interval = defaultCoordinatorInterval
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Coordinator{
		transport: transport,
		interval:  interval,
		log:       log,
		regs:      make(map[string]*registration),
		done:      make(chan struct{}),
	}
}

// Register adds a device's fixed property list to the merged poll and
// returns a token for Deregister. Registration and deregistration share
// one lock with the tick's snapshot, so a device is either wholly in a
// cycle or wholly out of it.
func (c *Coordinator) Register(did string, reqs []proto.PropertyRequest, sink Sink) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrCoordinatorClosed
	}
	token := uuid.NewString()
	c.regs[token] = &registration{
		token: token,
		did:   did,
		reqs:  append([]proto.PropertyRequest(nil), reqs...),
		sink:  sink,
	}
	c.log.Debug("cloud poll registration added", "did", did, "properties", len(reqs))
	return token, nil
}

// Deregister removes a device from the merged poll. Results of a cycle
// already in flight are discarded for the removed device rather than
// delivered to a torn-down session.
func (c *Coordinator) Deregister(token string) {
	c.mu.Lock()
	if reg, ok := c.regs[token]; ok {
		delete(c.regs, token)
		c.log.Debug("cloud poll registration removed", "did", reg.did)
	}
	c.mu.Unlock()
}

// Run ticks until the context is cancelled or Stop is called. The first
// cycle runs immediately.
func (c *Coordinator) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.tick(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and rejects further registrations.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// tick runs one merged poll cycle.
func (c *Coordinator) tick(ctx context.Context) {
	c.mu.Lock()
	if len(c.regs) == 0 {
		c.mu.Unlock()
		return
	}
	snapshot := make([]*registration, 0, len(c.regs))
	merged := make([]proto.PropertyRequest, 0)
	for _, reg := range c.regs {
		snapshot = append(snapshot, reg)
		merged = append(merged, reg.reqs...)
	}
	c.mu.Unlock()

	results, err := c.fetch(ctx, merged)
	if err != nil {
		c.log.Warn("coordinated cloud poll failed", "devices", len(snapshot), "error", err)
		for _, reg := range snapshot {
			if c.stillRegistered(reg.token) {
				reg.sink.IngestFailure(err)
			}
		}
		return
	}

	byDID := make(map[string][]proto.PropertyValue, len(snapshot))
	for _, r := range results {
		byDID[r.DID] = append(byDID[r.DID], r)
	}
	for _, reg := range snapshot {
		if !c.stillRegistered(reg.token) {
			continue
		}
		reg.sink.Ingest(byDID[reg.did])
	}
}

// fetch splits the merged request list into transport-sized batches.
func (c *Coordinator) fetch(ctx context.Context, reqs []proto.PropertyRequest) ([]proto.PropertyValue, error) {
	limit := c.transport.MaxBatch()
	if limit <= 0 {
		limit = len(reqs)
	}
	results := make([]proto.PropertyValue, 0, len(reqs))
	for start := 0; start < len(reqs); start += limit {
		end := start + limit
		if end > len(reqs) {
			end = len(reqs)
		}
		batch, err := c.transport.GetProperties(ctx, reqs[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (c *Coordinator) stillRegistered(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.regs[token]
	return ok
}
