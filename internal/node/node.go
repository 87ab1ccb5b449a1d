// Package node implements the network layer of the sensor mesh: node
// identity bootstrap, parent and route discovery, message relay and the
// dispatch loop the host application drives.
package node

import (
	"time"

	"sensornet/internal/eventbus"
	"sensornet/internal/logging"
	"sensornet/internal/protocol"
	"sensornet/internal/radio"
	"sensornet/internal/routing"
	"sensornet/internal/storage"
)

// State of the bootstrap machine.
type State byte

const (
	StateUnidentified State = iota
	StateRequestingID
	StateFindingParent
	StateOperational
	// StateFailed means bootstrap exhausted its retries. The node will
	// not participate in the network until it is begun again.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnidentified:
		return "unidentified"
	case StateRequestingID:
		return "requesting-id"
	case StateFindingParent:
		return "finding-parent"
	case StateOperational:
		return "operational"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Identity is the persistent identity of a node: who it is, who it
// sends upward traffic to, and how far from the gateway it sits.
type Identity struct {
	NodeID       byte
	ParentNodeID byte
	Distance     byte
}

// ControllerConfig is the configuration the controller pushes out.
type ControllerConfig struct {
	IsMetric bool
}

// RadioParams configure the transceiver at Begin time.
type RadioParams struct {
	PowerLevel byte
	Channel    byte
	DataRate   byte
}

// DefaultRadioParams returns the stock radio setup.
func DefaultRadioParams() RadioParams {
	return RadioParams{PowerLevel: 3, Channel: 76, DataRate: 1}
}

// Search for a new parent after this many consecutive failed
// transmissions toward the current one.
const searchFailures = 5

// Bootstrap retry bounds. Each attempt broadcasts once and polls for
// replies for replyWindow; a node that exhausts every attempt gives up.
const (
	idRequestRetries  = 5
	findParentRetries = 5
	replyWindow       = 500 * time.Millisecond
	pollEvery         = 2 * time.Millisecond
)

// MessageCallback receives every application message addressed to this
// node, ack echoes included.
type MessageCallback func(*protocol.Envelope)

// TimeCallback receives the answer to RequestTime, in Unix seconds.
type TimeCallback func(uint32)

// Node is one station's network layer. All state is owned by the node
// and mutated only from Begin, Process and the methods the application
// calls between Process cycles; there is no internal goroutine.
type Node struct {
	radio radio.Transceiver
	store storage.Store
	log   logging.Logger
	bus   *eventbus.Bus

	now   func() time.Time
	sleep func(time.Duration)

	state     State
	identity  Identity
	config    ControllerConfig
	routes    *routing.Table
	relayMode bool

	failedTransmissions byte

	msgCallback  MessageCallback
	timeCallback TimeCallback
	lastMessage  *protocol.Envelope
}

// Option tweaks a Node at construction.
type Option func(*Node)

// WithLogger installs a logger; the default says nothing.
func WithLogger(l logging.Logger) Option {
	return func(n *Node) { n.log = l }
}

// WithEventBus publishes the node's lifecycle onto bus for a simulator
// front end or metrics collector to watch.
func WithEventBus(b *eventbus.Bus) Option {
	return func(n *Node) { n.bus = b }
}

// WithClock overrides the wall clock (gateway time service, tests).
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// WithSleep overrides the bootstrap wait primitive so tests run the
// retry loops without real delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(n *Node) { n.sleep = sleep }
}

// New wires a node to its transceiver and persistent store. Call Begin
// before anything else.
func New(r radio.Transceiver, s storage.Store, opts ...Option) *Node {
	n := &Node{
		radio: r,
		store: s,
		log:   logging.NOOPLogger{},
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Begin starts the network layer: configures the radio, loads or
// acquires the node's identity, finds a parent and leaves the node
// Operational. nodeID is protocol.IDUnassigned to auto-acquire one, or
// a fixed id (0 makes this node the gateway). Failure leaves the node
// in StateFailed; consistent with a best-effort transport it is
// observed through State(), not returned as an error.
func (n *Node) Begin(cb MessageCallback, relayMode bool, nodeID byte, params RadioParams) {
	n.msgCallback = cb
	n.relayMode = relayMode
	n.state = StateUnidentified
	n.failedTransmissions = 0

	if err := n.radio.Configure(params.PowerLevel, params.Channel, params.DataRate); err != nil {
		n.log.Error("radio configure failed", "err", err)
		n.state = StateFailed
		return
	}
	n.radio.ListenOnAddress(protocol.BroadcastPipe, protocol.BroadcastAddress)

	n.loadIdentity()
	if nodeID != protocol.IDUnassigned {
		n.setNodeID(nodeID)
	}
	n.routes = routing.Load(n.store)

	if n.identity.NodeID == protocol.GatewayAddress {
		// The gateway is its own root: distance 0, no parent search.
		n.identity.ParentNodeID = protocol.GatewayAddress
		n.identity.Distance = 0
		n.persistIdentity()
		n.radio.ListenOnAddress(protocol.CurrentNodePipe, n.identity.NodeID)
		n.state = StateOperational
		n.log.Info("gateway operational")
		return
	}

	if n.identity.NodeID == protocol.IDUnassigned {
		n.state = StateRequestingID
		if !n.requestNodeID() {
			n.log.Error("no identifier assigned, giving up")
			n.state = StateFailed
			return
		}
	}
	n.radio.ListenOnAddress(protocol.CurrentNodePipe, n.identity.NodeID)

	// A node that already knows its parent goes straight to work;
	// bootstrap re-runs only from a blank identity or a forced reset.
	if n.identity.ParentNodeID == protocol.IDUnassigned ||
		n.identity.Distance == 0xFF {
		n.state = StateFindingParent
		if !n.findParentNode() {
			n.log.Error("no parent found, giving up")
			n.state = StateFailed
			return
		}
	}

	n.state = StateOperational
	n.log.Info("operational",
		"node", n.identity.NodeID,
		"parent", n.identity.ParentNodeID,
		"distance", n.identity.Distance)

	// Ask the controller for its configuration; the answer arrives
	// through the dispatch loop whenever it does.
	n.sendRoute(&protocol.Envelope{
		Destination: protocol.GatewayAddress,
		Sender:      n.identity.NodeID,
		SensorID:    protocol.NodeSensorID,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalConfig,
	})
}

// State reports where the bootstrap machine is.
func (n *Node) State() State { return n.state }

// NodeID returns this node's identifier.
func (n *Node) NodeID() byte { return n.identity.NodeID }

// ParentNodeID returns the current upward hop.
func (n *Node) ParentNodeID() byte { return n.identity.ParentNodeID }

// Distance returns the hop count to the gateway.
func (n *Node) Distance() byte { return n.identity.Distance }

// GetConfig returns the most recent controller configuration.
func (n *Node) GetConfig() ControllerConfig { return n.config }

// GetLastMessage returns the last message delivered to the application.
func (n *Node) GetLastMessage() *protocol.Envelope { return n.lastMessage }

// SaveState stores one byte in the application region of the
// persistent store, independent of the network layer's own layout.
func (n *Node) SaveState(slot byte, value byte) {
	n.store.WriteByte(storage.AppStateOffset+uint16(slot), value)
}

// LoadState reads back a byte stored with SaveState.
func (n *Node) LoadState(slot byte) byte {
	return n.store.ReadByte(storage.AppStateOffset + uint16(slot))
}

func (n *Node) loadIdentity() {
	n.identity.NodeID = n.store.ReadByte(storage.NodeIDOffset)
	n.identity.ParentNodeID = n.store.ReadByte(storage.ParentNodeIDOffset)
	n.identity.Distance = n.store.ReadByte(storage.DistanceOffset)
}

func (n *Node) persistIdentity() {
	n.store.WriteByte(storage.NodeIDOffset, n.identity.NodeID)
	n.store.WriteByte(storage.ParentNodeIDOffset, n.identity.ParentNodeID)
	n.store.WriteByte(storage.DistanceOffset, n.identity.Distance)
}

func (n *Node) setNodeID(id byte) {
	if n.identity.NodeID == id {
		return
	}
	n.identity.NodeID = id
	n.store.WriteByte(storage.NodeIDOffset, id)
	n.bus.Publish(eventbus.Event{Type: eventbus.EventIDAssigned, NodeID: id})
}

func (n *Node) isGateway() bool {
	return n.identity.NodeID == protocol.GatewayAddress
}
