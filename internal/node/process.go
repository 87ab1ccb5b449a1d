package node

import (
	"sensornet/internal/eventbus"
	"sensornet/internal/protocol"
)

// Process runs one receive-and-process cycle. The host application
// must call it often enough that the transceiver's buffer never
// overflows; nothing here blocks. It returns true iff a frame
// addressed to this node was handed to the message callback. Corrupt
// frames are discarded without a trace: line noise is not the
// application's problem.
func (n *Node) Process() bool {
	if n.state != StateOperational {
		return false
	}
	if !n.radio.ReceiveAvailable() {
		return false
	}

	frame := n.radio.Receive()
	if frame == nil {
		return false
	}
	msg, err := protocol.Decode(frame)
	if err != nil {
		n.log.Debug("dropping frame", "err", err)
		return false
	}

	n.learnRoute(msg)

	if msg.Destination == n.identity.NodeID ||
		msg.Destination == protocol.BroadcastAddress {
		if n.handleInternal(msg) {
			return false
		}
		if msg.Destination == protocol.BroadcastAddress &&
			msg.Type == protocol.TypeInternal {
			// Stray control broadcast not meant for an operational
			// node (id responses, discovery chatter).
			return false
		}
		if msg.AckRequested && !msg.IsAck &&
			msg.Destination == n.identity.NodeID {
			n.sendAck(msg)
		}
		n.deliver(msg)
		return true
	}

	if n.relayMode {
		n.relay(msg)
	}
	return false
}

// learnRoute records where traffic from msg.Sender arrives from, which
// is all a tree needs: a node is reachable via whatever neighbor last
// carried its frames here.
func (n *Node) learnRoute(msg *protocol.Envelope) {
	if n.routes == nil {
		return
	}
	if msg.Sender == n.identity.NodeID ||
		msg.Sender == protocol.IDUnassigned ||
		msg.LastHop == n.identity.NodeID {
		return
	}
	if hop, ok := n.routes.Lookup(msg.Sender); ok && hop == msg.LastHop {
		return
	}
	n.routes.Record(msg.Sender, msg.LastHop)
	n.bus.Publish(eventbus.Event{
		Type:    eventbus.EventRouteLearned,
		NodeID:  n.identity.NodeID,
		OtherID: msg.Sender,
	})
}

// relay forwards a frame addressed elsewhere. The last-hop field is
// rewritten to this node on the way out; everything else travels
// untouched.
func (n *Node) relay(msg *protocol.Envelope) {
	n.bus.Publish(eventbus.Event{
		Type:    eventbus.EventFrameRelayed,
		NodeID:  n.identity.NodeID,
		OtherID: msg.Destination,
	})
	n.sendRoute(msg)
}

func (n *Node) deliver(msg *protocol.Envelope) {
	n.lastMessage = msg
	n.bus.Publish(eventbus.Event{
		Type:    eventbus.EventFrameDelivered,
		NodeID:  n.identity.NodeID,
		OtherID: msg.Sender,
	})
	if n.msgCallback != nil {
		n.msgCallback(msg)
	}
}

// handleInternal consumes protocol control traffic. It returns true
// when the message was control plane and must not reach the
// application callback. Malformed control frames are discarded
// silently, same as checksum failures.
func (n *Node) handleInternal(msg *protocol.Envelope) bool {
	if msg.Type != protocol.TypeInternal || msg.IsAck {
		return false
	}

	switch msg.SubType {
	case protocol.InternalFindParent:
		// A neighbor is looking for a way up the tree. Only answer
		// when this node can actually carry its traffic.
		if n.relayMode || n.isGateway() {
			n.transmit(msg.Sender, &protocol.Envelope{
				Destination: msg.Sender,
				Sender:      n.identity.NodeID,
				SensorID:    protocol.NodeSensorID,
				Type:        protocol.TypeInternal,
				SubType:     protocol.InternalFindParentResponse,
				Payload:     []byte{n.identity.Distance},
			})
		}
		return true

	case protocol.InternalFindParentResponse, protocol.InternalIDResponse:
		// Bootstrap chatter; an operational node has no use for it.
		return true

	case protocol.InternalIDRequest:
		if n.isGateway() {
			n.assignID()
		}
		return true

	case protocol.InternalConfig:
		if n.isGateway() {
			n.sendConfig(msg.Sender)
		} else {
			n.applyConfig(msg)
		}
		return true

	case protocol.InternalTime:
		if n.isGateway() {
			n.sendTime(msg.Sender)
		} else if sec, ok := decodeTime(msg.Payload); ok {
			// Matched against the most recent RequestTime; there are
			// no request tags, the latest caller wins.
			if n.timeCallback != nil {
				n.timeCallback(sec)
			}
		}
		return true
	}

	// Battery levels, presentations, sketch info and the rest ride the
	// internal type but are application-visible at the gateway.
	return false
}

func (n *Node) applyConfig(msg *protocol.Envelope) {
	if len(msg.Payload) < 1 {
		return
	}
	n.config.IsMetric = msg.Payload[0] != 0
	n.persistControllerBlob(msg.Payload)
	n.log.Debug("controller config updated", "metric", n.config.IsMetric)
}
