package node

import (
	"encoding/binary"

	"sensornet/internal/eventbus"
	"sensornet/internal/protocol"
	"sensornet/internal/routing"
)

// Send transmits msg toward its destination. The sender field is set to
// this node; the return value reports acceptance by the first hop only,
// not end-to-end delivery. Set ack to have the destination echo the
// message back.
func (n *Node) Send(msg *protocol.Envelope, ack bool) bool {
	msg.Sender = n.identity.NodeID
	msg.AckRequested = ack
	msg.IsAck = false
	return n.sendRoute(msg)
}

// Present announces an attached sensor to the controller. Call once per
// sensor after Begin.
func (n *Node) Present(sensorID, sensorType byte) {
	n.sendRoute(&protocol.Envelope{
		Destination: protocol.GatewayAddress,
		Sender:      n.identity.NodeID,
		SensorID:    sensorID,
		Type:        protocol.TypePresentation,
		SubType:     sensorType,
	})
}

// SendSketchInfo reports the application's name and version to the
// controller. Either string may be empty.
func (n *Node) SendSketchInfo(name, version string) {
	if name != "" {
		n.sendRoute(&protocol.Envelope{
			Destination: protocol.GatewayAddress,
			Sender:      n.identity.NodeID,
			SensorID:    protocol.NodeSensorID,
			Type:        protocol.TypeInternal,
			SubType:     protocol.InternalSketchName,
			Payload:     clampPayload([]byte(name)),
		})
	}
	if version != "" {
		n.sendRoute(&protocol.Envelope{
			Destination: protocol.GatewayAddress,
			Sender:      n.identity.NodeID,
			SensorID:    protocol.NodeSensorID,
			Type:        protocol.TypeInternal,
			SubType:     protocol.InternalSketchVersion,
			Payload:     clampPayload([]byte(version)),
		})
	}
}

// SendBatteryLevel reports the node's battery level (0-100 %).
func (n *Node) SendBatteryLevel(level byte) {
	if level > 100 {
		level = 100
	}
	n.sendRoute(&protocol.Envelope{
		Destination: protocol.GatewayAddress,
		Sender:      n.identity.NodeID,
		SensorID:    protocol.NodeSensorID,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalBatteryLevel,
		Payload:     []byte{level},
	})
}

// Request asks destination for the current value of one of its sensor
// variables. The answer arrives as an ordinary set-message through the
// message callback. Only one request per message type is tracked at a
// time; a newer request simply supersedes the previous one.
func (n *Node) Request(childSensorID, variableType, destination byte) {
	n.sendRoute(&protocol.Envelope{
		Destination: destination,
		Sender:      n.identity.NodeID,
		SensorID:    childSensorID,
		Type:        protocol.TypeRequest,
		SubType:     variableType,
	})
}

// RequestTime asks the controller for the current time. cb receives
// Unix seconds when the reply arrives; a second RequestTime before the
// reply replaces the callback.
func (n *Node) RequestTime(cb TimeCallback) {
	n.timeCallback = cb
	n.sendRoute(&protocol.Envelope{
		Destination: protocol.GatewayAddress,
		Sender:      n.identity.NodeID,
		SensorID:    protocol.NodeSensorID,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalTime,
	})
}

// resolveNextHop picks the neighbor a frame for destination should be
// handed to: a recorded descendant route when one exists, otherwise up
// the tree to the parent. The gateway has no parent; for destinations
// it holds no route for it tries the destination's own address.
func (n *Node) resolveNextHop(destination byte) byte {
	if destination == protocol.GatewayAddress && !n.isGateway() {
		return n.identity.ParentNodeID
	}
	if hop, ok := n.routes.Lookup(destination); ok {
		return hop
	}
	if n.isGateway() {
		return destination
	}
	return n.identity.ParentNodeID
}

// sendRoute resolves the next hop for msg and transmits it, keeping the
// failure counter that drives parent re-discovery. A counter already at
// the threshold triggers re-entry into parent discovery before this
// transmission is attempted.
func (n *Node) sendRoute(msg *protocol.Envelope) bool {
	if n.state != StateOperational {
		return false
	}

	if msg.Destination == protocol.BroadcastAddress {
		// One-hop only; recipients do not relay broadcasts.
		return n.transmit(protocol.BroadcastAddress, msg)
	}

	if msg.Destination == n.identity.NodeID {
		// No next hop: the message is for this very node.
		n.deliver(msg)
		return true
	}

	if n.failedTransmissions >= searchFailures && !n.isGateway() {
		n.log.Warn("too many failed transmissions, searching for a new parent",
			"failures", n.failedTransmissions)
		if !n.findParentNode() {
			// Keep the old parent and start counting afresh rather
			// than going dark on a transient radio outage.
			n.failedTransmissions = 0
		}
	}

	hop := n.resolveNextHop(msg.Destination)
	ok := n.transmit(hop, msg)

	if hop == n.identity.ParentNodeID && !n.isGateway() {
		if ok {
			n.failedTransmissions = 0
		} else {
			n.failedTransmissions++
			n.bus.Publish(eventbus.Event{
				Type:    eventbus.EventSendFailed,
				NodeID:  n.identity.NodeID,
				OtherID: hop,
			})
		}
	} else if !ok && hop != n.identity.ParentNodeID {
		// A stale descendant route; drop it so the next attempt goes
		// up the tree instead.
		n.routes.Forget(msg.Destination)
		n.bus.Publish(eventbus.Event{
			Type:    eventbus.EventRouteForgot,
			NodeID:  n.identity.NodeID,
			OtherID: msg.Destination,
		})
	}
	return ok
}

// transmit stamps this node as the last hop, encodes and sends. Frames
// that fail to encode are dropped; oversize payloads are a programming
// error the mesh stays silent about, like any other transport fault.
func (n *Node) transmit(addr byte, msg *protocol.Envelope) bool {
	msg.LastHop = n.identity.NodeID
	frame, err := protocol.Encode(msg)
	if err != nil {
		n.log.Error("encode failed", "err", err)
		return false
	}
	ok := n.radio.Transmit(addr, frame)
	if ok {
		n.bus.Publish(eventbus.Event{
			Type:    eventbus.EventFrameSent,
			NodeID:  n.identity.NodeID,
			OtherID: addr,
		})
	}
	return ok
}

// sendAck echoes a received message back to its sender with the ack
// flag set.
func (n *Node) sendAck(msg *protocol.Envelope) {
	n.sendRoute(msg.AckEcho(n.identity.NodeID))
}

// ForgetRoute unregisters a descendant, e.g. a child that left the
// network.
func (n *Node) ForgetRoute(descendant byte) {
	if n.routes == nil {
		return
	}
	n.routes.Forget(descendant)
}

// LookupRoute exposes the routing table for inspection.
func (n *Node) LookupRoute(destination byte) (byte, bool) {
	if n.routes == nil {
		return routing.NoRoute, false
	}
	return n.routes.Lookup(destination)
}

func clampPayload(p []byte) []byte {
	if len(p) > protocol.MaxPayloadSize {
		return p[:protocol.MaxPayloadSize]
	}
	return p
}

func encodeTime(sec uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, sec)
	return buf
}

func decodeTime(p []byte) (uint32, bool) {
	if len(p) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(p), true
}
