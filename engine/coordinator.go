package engine

import (
	"fmt"
	"log/slog"
	"sync"
)

// Coordinator manages the set of live output legs attached to a single
// forward stage: creation, attach/detach, and reaping of finished
// channels (spec.md §2 "Channel coordinator", §4.2 item 3).
type Coordinator struct {
	fe     *FrontEnd
	stage  *ForwardStage
	logger *slog.Logger

	mu    sync.Mutex
	legs  map[string]*OutputLeg
}

// NewCoordinator builds a coordinator bound to stage.
func NewCoordinator(fe *FrontEnd, stage *ForwardStage, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		fe:     fe,
		stage:  stage,
		logger: logger,
		legs:   make(map[string]*OutputLeg),
	}
}

// Create builds a new output leg from cfg, attaches it to the forward
// stage (effective at the next block boundary per spec.md §4.2 item 3),
// and registers it under name. A duplicate name is an error.
func (c *Coordinator) Create(name string, cfg LegConfig, out chan<- LegBlock) (*OutputLeg, error) {
	c.mu.Lock()
	if _, exists := c.legs[name]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("coordinator: channel %q already exists", name)
	}
	c.mu.Unlock()

	l, err := NewOutputLeg(c.fe, name, cfg, out, c.logger)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.legs[name] = l
	c.mu.Unlock()

	c.stage.Attach(l)
	return l, nil
}

// Stop requests teardown of the named channel: the leg is marked
// stopped (spec.md §5 "cooperative" shutdown) and detached from the
// forward stage, and the next Reap call removes it from the registry.
func (c *Coordinator) Stop(name string) {
	c.mu.Lock()
	l, ok := c.legs[name]
	c.mu.Unlock()
	if !ok {
		return
	}
	l.Stop()
	c.stage.Detach(l)
}

// Reap removes stopped legs from the coordinator's registry. The
// forward stage independently reaps stopped legs from its own
// attachment set at each block boundary (applyPending); this only
// keeps the coordinator's bookkeeping in sync so a reused name can be
// recreated.
func (c *Coordinator) Reap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, l := range c.legs {
		if l.stopped() {
			delete(c.legs, name)
		}
	}
}

// Get returns the named leg, if live.
func (c *Coordinator) Get(name string) (*OutputLeg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.legs[name]
	return l, ok
}

// Count returns the number of registered (not necessarily yet attached)
// legs.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.legs)
}
