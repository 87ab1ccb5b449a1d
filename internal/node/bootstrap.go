package node

import (
	"sensornet/internal/eventbus"
	"sensornet/internal/protocol"
)

// requestNodeID asks the gateway for an identifier. The request is
// addressed to the gateway but transmitted on the broadcast address,
// since a node with no identifier has no parent to route through;
// relays in earshot forward it up the tree. The answer comes back as a
// broadcast carrying the assigned id. Returns false when every attempt
// goes unanswered.
func (n *Node) requestNodeID() bool {
	req := &protocol.Envelope{
		Destination: protocol.GatewayAddress,
		Sender:      protocol.IDUnassigned,
		LastHop:     protocol.IDUnassigned,
		SensorID:    protocol.NodeSensorID,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalIDRequest,
	}

	for attempt := 0; attempt < idRequestRetries; attempt++ {
		n.transmit(protocol.BroadcastAddress, req)
		n.log.Debug("identifier request sent", "attempt", attempt+1)

		if id, ok := n.awaitIDResponse(); ok {
			n.setNodeID(id)
			n.log.Info("identifier assigned", "node", id)
			return true
		}
	}
	return false
}

func (n *Node) awaitIDResponse() (byte, bool) {
	for elapsed := int64(0); elapsed < int64(replyWindow); elapsed += int64(pollEvery) {
		e := n.pollControlFrame()
		if e == nil {
			continue
		}
		if e.Type == protocol.TypeInternal &&
			e.SubType == protocol.InternalIDResponse &&
			len(e.Payload) >= 1 {
			id := e.Payload[0]
			if id != protocol.GatewayAddress && id != protocol.IDUnassigned {
				return id, true
			}
		}
	}
	return 0, false
}

// findParentNode broadcasts a parent-discovery request, collects the
// replies arriving within the window and adopts the neighbor reporting
// the smallest distance to the gateway (first seen wins a tie). Used
// both during bootstrap and for self-healing after repeated send
// failures; the node's identifier is never touched here.
func (n *Node) findParentNode() bool {
	req := &protocol.Envelope{
		Destination: protocol.BroadcastAddress,
		Sender:      n.identity.NodeID,
		SensorID:    protocol.NodeSensorID,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalFindParent,
	}

	for attempt := 0; attempt < findParentRetries; attempt++ {
		n.transmit(protocol.BroadcastAddress, req)
		n.log.Debug("parent discovery sent", "attempt", attempt+1)

		if parent, distance, ok := n.collectParentReplies(); ok {
			n.identity.ParentNodeID = parent
			n.identity.Distance = distance + 1
			n.persistIdentity()
			n.failedTransmissions = 0
			n.bus.Publish(eventbus.Event{
				Type:    eventbus.EventParentChosen,
				NodeID:  n.identity.NodeID,
				OtherID: parent,
			})
			n.log.Info("parent chosen",
				"parent", parent, "distance", n.identity.Distance)
			return true
		}
	}
	return false
}

func (n *Node) collectParentReplies() (parent, distance byte, ok bool) {
	best := byte(0xFF)
	for elapsed := int64(0); elapsed < int64(replyWindow); elapsed += int64(pollEvery) {
		e := n.pollControlFrame()
		if e == nil {
			continue
		}
		if e.Type != protocol.TypeInternal ||
			e.SubType != protocol.InternalFindParentResponse ||
			len(e.Payload) < 1 {
			continue
		}
		if e.Destination != n.identity.NodeID &&
			e.Destination != protocol.BroadcastAddress {
			continue
		}
		// First seen wins on equal distance: strictly-smaller check.
		if d := e.Payload[0]; d < best {
			best = d
			parent = e.Sender
			ok = true
		}
	}
	return parent, best, ok
}

// pollControlFrame reads at most one frame off the radio during a
// bootstrap wait. Frames that fail the checksum, or that are not
// bootstrap control traffic, are dropped; the node is not yet in a
// position to relay or deliver anything.
func (n *Node) pollControlFrame() *protocol.Envelope {
	if !n.radio.ReceiveAvailable() {
		n.sleep(pollEvery)
		return nil
	}
	frame := n.radio.Receive()
	if frame == nil {
		return nil
	}
	e, err := protocol.Decode(frame)
	if err != nil {
		return nil
	}
	return e
}
