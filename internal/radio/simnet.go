package radio

import (
	"sync"

	"sensornet/internal/eventbus"
)

const endpointQueueSize = 16

// Network is a simulated radio medium. Reachability is an explicit
// link set made and cut by the harness, so tests control topology
// deterministically instead of deriving it from coordinates.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	links     map[linkKey]bool
	bus       *eventbus.Bus
}

type linkKey struct{ a, b string }

func key(a, b string) linkKey {
	if a > b {
		a, b = b, a
	}
	return linkKey{a, b}
}

// NewNetwork creates an empty medium. bus may be nil.
func NewNetwork(bus *eventbus.Bus) *Network {
	return &Network{
		endpoints: make(map[string]*Endpoint),
		links:     make(map[linkKey]bool),
		bus:       bus,
	}
}

// Endpoint is one station on the medium; it implements Transceiver.
type Endpoint struct {
	net   *Network
	name  string
	pipes map[byte]byte // pipe index -> listen address
	rx    chan []byte
}

// NewEndpoint joins a named station to the medium.
func (n *Network) NewEndpoint(name string) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep := &Endpoint{
		net:   n,
		name:  name,
		pipes: make(map[byte]byte),
		rx:    make(chan []byte, endpointQueueSize),
	}
	n.endpoints[name] = ep
	return ep
}

// Link makes a and b able to hear each other.
func (n *Network) Link(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links[key(a, b)] = true
}

// Unlink cuts the link between a and b, simulating the pair moving out
// of range.
func (n *Network) Unlink(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.links, key(a, b))
}

// Remove detaches a station from the medium entirely.
func (n *Network) Remove(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, name)
	for k := range n.links {
		if k.a == name || k.b == name {
			delete(n.links, k)
		}
	}
}

func (e *Endpoint) Configure(power, channel, dataRate byte) error { return nil }

func (e *Endpoint) ListenOnAddress(pipe byte, addr byte) {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	e.pipes[pipe] = addr
}

// Transmit delivers frame to every linked endpoint listening on addr.
// For unicast it reports whether some neighbor accepted the frame,
// mirroring a hardware-acknowledged radio; broadcasts always "succeed".
func (e *Endpoint) Transmit(addr byte, frame []byte) bool {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	cp := make([]byte, len(frame))
	copy(cp, frame)

	broadcast := addr == 0xFF
	accepted := false
	for name, peer := range e.net.endpoints {
		if name == e.name || !e.net.links[key(e.name, name)] {
			continue
		}
		if !peer.listensOn(addr) {
			continue
		}
		select {
		case peer.rx <- cp:
			accepted = true
		default:
			// Receiver queue full: frame lost on air.
			e.net.bus.Publish(eventbus.Event{
				Type:   eventbus.EventFrameDropped,
				Detail: "rx queue full",
			})
		}
	}
	return broadcast || accepted
}

func (e *Endpoint) listensOn(addr byte) bool {
	for _, a := range e.pipes {
		if a == addr {
			return true
		}
	}
	return false
}

func (e *Endpoint) ReceiveAvailable() bool {
	return len(e.rx) > 0
}

func (e *Endpoint) Receive() []byte {
	select {
	case frame := <-e.rx:
		return frame
	default:
		return nil
	}
}
