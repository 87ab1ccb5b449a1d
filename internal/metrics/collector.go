package metrics

import (
	"encoding/json"
	"os"
	"sync"

	eb "sensornet/internal/eventbus"
)

type Counters struct {
	TotalSent      uint64 `json:"total_sent"`
	TotalDelivered uint64 `json:"total_delivered"`
	TotalRelayed   uint64 `json:"total_relayed"`
	TotalDropped   uint64 `json:"total_dropped"`
	SendFailures   uint64 `json:"send_failures"`
	RoutesLearned  uint64 `json:"routes_learned"`
	RoutesForgot   uint64 `json:"routes_forgot"`
	IDsAssigned    uint64 `json:"ids_assigned"`
	ParentChanges  uint64 `json:"parent_changes"`
}

// Collector aggregates mesh events into counters. It is safe to feed
// from multiple goroutines.
type Collector struct {
	mu sync.Mutex
	Counters
}

func NewCollector() *Collector {
	return &Collector{}
}

// Observe folds one event into the counters.
func (c *Collector) Observe(ev eb.Event) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case eb.EventFrameSent:
		c.TotalSent++
	case eb.EventFrameDelivered:
		c.TotalDelivered++
	case eb.EventFrameRelayed:
		c.TotalRelayed++
	case eb.EventFrameDropped:
		c.TotalDropped++
	case eb.EventSendFailed:
		c.SendFailures++
	case eb.EventRouteLearned:
		c.RoutesLearned++
	case eb.EventRouteForgot:
		c.RoutesForgot++
	case eb.EventIDAssigned:
		c.IDsAssigned++
	case eb.EventParentChosen:
		c.ParentChanges++
	}
}

// Consume drains ch into the collector until it closes.
func (c *Collector) Consume(ch chan eb.Event) {
	for ev := range ch {
		c.Observe(ev)
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Counters
}

// DumpJSON writes the counters to path as indented JSON.
func (c *Collector) DumpJSON(path string) error {
	snap := c.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
