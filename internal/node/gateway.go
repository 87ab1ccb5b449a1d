package node

import (
	"sensornet/internal/protocol"
	"sensornet/internal/storage"
)

// Gateway-side protocol services: identifier assignment, time and
// configuration. A node is the gateway iff its id is 0; these handlers
// are never reached on ordinary nodes.

// SetConfig sets the configuration the gateway serves to the mesh.
// Meaningful on the gateway only.
func (n *Node) SetConfig(cfg ControllerConfig) {
	n.config = cfg
}

// assignID answers an identifier request with the next free id. The
// response is a one-hop broadcast: the requester has no identifier yet,
// so there is nothing to address. If two unassigned nodes are waiting
// in earshot at once, both will take the same id; the original design
// has the same race and resolves it operationally (one node at a time).
func (n *Node) assignID() {
	// The counter persists outside the application state region, so
	// assignments survive a restart and SaveState can never clobber
	// them. A fresh store reads 0xFF, meaning none assigned.
	last := n.store.ReadByte(storage.LastAssignedIDOffset)
	if last == 0xFF {
		last = 0
	}
	next := last + 1
	if next == protocol.IDUnassigned {
		n.log.Warn("identifier space exhausted")
		return
	}
	n.store.WriteByte(storage.LastAssignedIDOffset, next)

	n.transmit(protocol.BroadcastAddress, &protocol.Envelope{
		Destination: protocol.BroadcastAddress,
		Sender:      n.identity.NodeID,
		SensorID:    protocol.NodeSensorID,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalIDResponse,
		Payload:     []byte{next},
	})
	n.log.Info("identifier assigned", "id", next)
}

func (n *Node) sendConfig(dest byte) {
	metric := byte(0)
	if n.config.IsMetric {
		metric = 1
	}
	n.sendRoute(&protocol.Envelope{
		Destination: dest,
		Sender:      n.identity.NodeID,
		SensorID:    protocol.NodeSensorID,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalConfig,
		Payload:     []byte{metric},
	})
}

func (n *Node) sendTime(dest byte) {
	n.sendRoute(&protocol.Envelope{
		Destination: dest,
		Sender:      n.identity.NodeID,
		SensorID:    protocol.NodeSensorID,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalTime,
		Payload:     encodeTime(uint32(n.now().Unix())),
	})
}

// persistControllerBlob mirrors the controller's raw config payload
// into its reserved storage region. The in-memory copy stays
// authoritative; the blob is not read back at boot.
func (n *Node) persistControllerBlob(payload []byte) {
	for i := 0; i < storage.ControllerSize; i++ {
		var b byte
		if i < len(payload) {
			b = payload[i]
		}
		n.store.WriteByte(storage.ControllerOffset+uint16(i), b)
	}
}
