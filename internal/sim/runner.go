package sim

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	eb "sensornet/internal/eventbus"
	"sensornet/internal/gateway"
	"sensornet/internal/logging"
	"sensornet/internal/metrics"
	"sensornet/internal/node"
	"sensornet/internal/protocol"
	"sensornet/internal/radio"
	"sensornet/internal/server"
	"sensornet/internal/storage"
)

// Runner builds a whole mesh on the simulated medium and drives it:
// gateway first, then nodes joining one by one, each running its own
// host loop (bootstrap, Process, periodic sensor traffic).
type Runner struct {
	sc   *Scenario
	bus  *eb.Bus
	net  *radio.Network
	coll *metrics.Collector

	sends   chan server.SendRequest
	creates chan server.CreateRequest
	created int64 // stations added via create requests, gateway loop only
	log     logging.Logger

	wg   sync.WaitGroup
	quit chan struct{}
}

func NewRunner(sc *Scenario, bus *eb.Bus, net *radio.Network, coll *metrics.Collector) *Runner {
	return &Runner{
		sc: sc, bus: bus, net: net, coll: coll,
		sends:   make(chan server.SendRequest, 64),
		creates: make(chan server.CreateRequest, 16),
		log:     logging.NOOPLogger{},
		quit:    make(chan struct{}),
	}
}

// UseLogger installs the logger handed to every node the runner builds.
func (r *Runner) UseLogger(l logging.Logger) { r.log = l }

// EnqueueSend hands a front-end send request to the gateway loop; it
// is the only safe way for another goroutine to inject traffic.
func (r *Runner) EnqueueSend(req server.SendRequest) bool {
	select {
	case r.sends <- req:
		return true
	default:
		return false
	}
}

// EnqueueCreate hands a front-end station-creation request to the
// gateway loop, which links and boots the node.
func (r *Runner) EnqueueCreate(req server.CreateRequest) bool {
	select {
	case r.creates <- req:
		return true
	default:
		return false
	}
}

// Run executes the scenario and blocks until its duration elapses.
func (r *Runner) Run() error {
	sub := r.bus.Subscribe()
	go r.coll.Consume(sub)

	// Gateway comes up first; everything else bootstraps against it.
	gwEndpoint := r.net.NewEndpoint("gateway")
	gw := node.New(gwEndpoint, storage.NewMemory(), node.WithEventBus(r.bus), node.WithLogger(r.log))
	gw.SetConfig(node.ControllerConfig{IsMetric: r.sc.Gateway.Metric})

	var bridge *gateway.Bridge
	gwCallback := func(e *protocol.Envelope) {
		log.Printf("[gw] from=%d sensor=%d type=%d sub=%d payload=%v",
			e.Sender, e.SensorID, e.Type, e.SubType, e.Payload)
	}
	if r.sc.Gateway.Enabled {
		var err error
		bridge, err = gateway.New(r.sc.Gateway.Bridge, gw, r.log)
		if err != nil {
			return fmt.Errorf("starting gateway bridge: %w", err)
		}
		defer bridge.Disconnect()
		gwCallback = bridge.HandleMeshMessage
	}

	gw.Begin(gwCallback, true, protocol.GatewayAddress, node.RadioParams{
		PowerLevel: r.sc.Radio.PowerLevel,
		Channel:    r.sc.Radio.Channel,
		DataRate:   r.sc.Radio.DataRate,
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.quit:
				return
			default:
			}
			if bridge != nil {
				bridge.Pump()
			}
			r.pumpSends(gw)
			r.pumpCreates()
			if !gw.Process() {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	// Nodes join staggered so identifier assignment happens one node
	// at a time; simultaneous unassigned neighbors would race for the
	// same id, as on real hardware.
	rng := rand.New(rand.NewSource(r.sc.Seed))
	names := []string{"gateway"}
	for i := 1; i <= r.sc.Nodes.Count; i++ {
		name := fmt.Sprintf("node-%d", i)
		r.linkByTopology(name, names, rng)
		names = append(names, name)

		relay := rng.Float64() < r.sc.Nodes.RelayShare
		id := byte(i)
		if r.sc.Nodes.AutoIDs {
			id = protocol.IDUnassigned
		}
		nodeSeed := r.sc.Seed + int64(i)
		r.wg.Add(1)
		go r.runNode(name, id, relay, nodeSeed)

		select {
		case <-time.After(r.sc.Nodes.JoinDelay):
		case <-r.quit:
		}
	}

	select {
	case <-time.After(r.sc.Duration):
		r.Stop()
	case <-r.quit:
	}
	r.wg.Wait()

	if r.sc.Logging.MetricsFile != "" {
		if err := r.coll.DumpJSON(r.sc.Logging.MetricsFile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// pumpSends applies queued front-end send requests from inside the
// gateway's own loop, preserving the node's single-writer rule.
func (r *Runner) pumpSends(gw *node.Node) {
	for {
		select {
		case req := <-r.sends:
			gw.Send(&protocol.Envelope{
				Destination: req.Destination,
				SensorID:    req.SensorID,
				Type:        req.Type,
				SubType:     req.SubType,
				Payload:     req.Payload,
			}, req.Ack)
		default:
			return
		}
	}
}

// pumpCreates boots stations requested through the front end. Links
// are made before the node begins so parent discovery can hear
// someone.
func (r *Runner) pumpCreates() {
	for {
		select {
		case req := <-r.creates:
			for _, peer := range req.Links {
				r.net.Link(req.Name, peer)
			}
			id := req.NodeID
			if id == protocol.GatewayAddress {
				id = protocol.IDUnassigned
			}
			r.created++
			seed := r.sc.Seed + int64(r.sc.Nodes.Count) + r.created
			r.wg.Add(1)
			go r.runNode(req.Name, id, req.Relay, seed)
		default:
			return
		}
	}
}

// Stop aborts a running scenario.
func (r *Runner) Stop() {
	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
}

func (r *Runner) linkByTopology(name string, existing []string, rng *rand.Rand) {
	switch r.sc.Topology {
	case "star":
		r.net.Link(name, "gateway")
	case "random":
		r.net.Link(name, existing[rng.Intn(len(existing))])
	case "grid":
		// Stations sit row-major on a square grid, gateway in the
		// corner; each newcomer links to its left and upper neighbors.
		i := len(existing)
		w := int(math.Ceil(math.Sqrt(float64(r.sc.Nodes.Count + 1))))
		if i%w != 0 {
			r.net.Link(name, existing[i-1])
		}
		if i >= w {
			r.net.Link(name, existing[i-w])
		}
	default: // chain
		r.net.Link(name, existing[len(existing)-1])
	}
}

// runNode is one simulated station's host application: bootstrap, then
// a Process loop interleaved with periodic sensor readings.
func (r *Runner) runNode(name string, id byte, relay bool, seed int64) {
	defer r.wg.Done()

	endpoint := r.net.NewEndpoint(name)
	n := node.New(endpoint, storage.NewMemory(), node.WithEventBus(r.bus), node.WithLogger(r.log))
	r.bus.Publish(eb.Event{Type: eb.EventNodeJoined, Detail: name})

	n.Begin(func(e *protocol.Envelope) {
		log.Printf("[%s] message from=%d type=%d sub=%d", name, e.Sender, e.Type, e.SubType)
	}, relay, id, node.RadioParams{
		PowerLevel: r.sc.Radio.PowerLevel,
		Channel:    r.sc.Radio.Channel,
		DataRate:   r.sc.Radio.DataRate,
	})
	if n.State() != node.StateOperational {
		log.Printf("[%s] bootstrap failed: %s", name, n.State())
		return
	}
	n.Present(1, 0)
	n.SendSketchInfo(name, "1.0")

	rng := rand.New(rand.NewSource(seed))
	interval := time.Duration(float64(time.Minute) / r.sc.Traffic.MsgPerNodePerMin)
	next := time.Now().Add(interval)

	for {
		select {
		case <-r.quit:
			return
		default:
		}
		if !n.Process() {
			time.Sleep(time.Millisecond)
		}
		if time.Now().After(next) {
			next = time.Now().Add(interval)
			ack := rng.Float64() < r.sc.Traffic.AckShare
			n.Send(&protocol.Envelope{
				Destination: protocol.GatewayAddress,
				SensorID:    1,
				Type:        protocol.TypeSet,
				SubType:     0,
				Payload:     []byte{byte(rng.Intn(256))},
			}, ack)
		}
	}
}
