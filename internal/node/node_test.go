package node

import (
	"testing"
	"time"

	"sensornet/internal/protocol"
	"sensornet/internal/storage"
)

// mockRadio scripts the transceiver: queued frames are received in
// order, transmissions are logged, and individual addresses can be
// made to refuse frames.
type mockRadio struct {
	txLog   []transmission
	rx      [][]byte
	refuse  map[byte]bool
	listens map[byte]byte
}

type transmission struct {
	addr  byte
	frame []byte
}

func newMockRadio() *mockRadio {
	return &mockRadio{refuse: make(map[byte]bool), listens: make(map[byte]byte)}
}

func (m *mockRadio) Configure(power, channel, dataRate byte) error { return nil }

func (m *mockRadio) ListenOnAddress(pipe byte, addr byte) { m.listens[pipe] = addr }

func (m *mockRadio) Transmit(addr byte, frame []byte) bool {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.txLog = append(m.txLog, transmission{addr: addr, frame: cp})
	return !m.refuse[addr]
}

func (m *mockRadio) ReceiveAvailable() bool { return len(m.rx) > 0 }

func (m *mockRadio) Receive() []byte {
	if len(m.rx) == 0 {
		return nil
	}
	frame := m.rx[0]
	m.rx = m.rx[1:]
	return frame
}

func (m *mockRadio) queue(t *testing.T, e *protocol.Envelope) {
	t.Helper()
	frame, err := protocol.Encode(e)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	m.rx = append(m.rx, frame)
}

// sent decodes the i-th transmitted frame (negative i counts from the
// end).
func (m *mockRadio) sent(t *testing.T, i int) (byte, *protocol.Envelope) {
	t.Helper()
	if i < 0 {
		i += len(m.txLog)
	}
	if i < 0 || i >= len(m.txLog) {
		t.Fatalf("no transmission %d (have %d)", i, len(m.txLog))
	}
	e, err := protocol.Decode(m.txLog[i].frame)
	if err != nil {
		t.Fatalf("transmitted frame %d does not decode: %v", i, err)
	}
	return m.txLog[i].addr, e
}

func seededStore(nodeID, parent, distance byte) *storage.Memory {
	s := storage.NewMemory()
	s.WriteByte(storage.NodeIDOffset, nodeID)
	s.WriteByte(storage.ParentNodeIDOffset, parent)
	s.WriteByte(storage.DistanceOffset, distance)
	return s
}

func noSleep(time.Duration) {}

// operationalNode builds a node with a persisted identity, already
// begun and Operational.
func operationalNode(t *testing.T, radio *mockRadio, store *storage.Memory,
	relay bool, cb MessageCallback) *Node {
	t.Helper()
	n := New(radio, store, WithSleep(noSleep))
	n.Begin(cb, relay, protocol.IDUnassigned, DefaultRadioParams())
	if n.State() != StateOperational {
		t.Fatalf("node state = %s, want operational", n.State())
	}
	// Begin closes with a config request; drop it so tests count only
	// the traffic they cause.
	radio.txLog = nil
	return n
}

func TestBeginWithPersistedIdentity(t *testing.T) {
	radio := newMockRadio()
	n := operationalNode(t, radio, seededStore(12, 3, 2), false, nil)

	if n.NodeID() != 12 || n.ParentNodeID() != 3 || n.Distance() != 2 {
		t.Errorf("identity = %d/%d/%d, want 12/3/2",
			n.NodeID(), n.ParentNodeID(), n.Distance())
	}
	if radio.listens[protocol.CurrentNodePipe] != 12 {
		t.Errorf("unicast pipe = %d, want 12", radio.listens[protocol.CurrentNodePipe])
	}
	if radio.listens[protocol.BroadcastPipe] != protocol.BroadcastAddress {
		t.Error("broadcast pipe not opened")
	}
}

func TestBeginGatewaySkipsParentSearch(t *testing.T) {
	radio := newMockRadio()
	n := New(radio, storage.NewMemory(), WithSleep(noSleep))
	n.Begin(nil, true, protocol.GatewayAddress, DefaultRadioParams())

	if n.State() != StateOperational {
		t.Fatalf("state = %s, want operational", n.State())
	}
	if n.Distance() != 0 {
		t.Errorf("gateway distance = %d, want 0", n.Distance())
	}
	if len(radio.txLog) != 0 {
		t.Errorf("gateway transmitted %d frames during Begin, want 0", len(radio.txLog))
	}
}

func TestBootstrapAcquiresIDAndParent(t *testing.T) {
	radio := newMockRadio()
	// Script the neighborhood: an id assignment, then two parent
	// candidates; the closer one (distance 1) must win.
	radio.queue(t, &protocol.Envelope{
		Destination: protocol.BroadcastAddress,
		Sender:      protocol.GatewayAddress,
		LastHop:     protocol.GatewayAddress,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalIDResponse,
		Payload:     []byte{5},
	})
	radio.queue(t, &protocol.Envelope{
		Destination: 5,
		Sender:      3,
		LastHop:     3,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalFindParentResponse,
		Payload:     []byte{2},
	})
	radio.queue(t, &protocol.Envelope{
		Destination: 5,
		Sender:      9,
		LastHop:     9,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalFindParentResponse,
		Payload:     []byte{1},
	})

	store := storage.NewMemory()
	n := New(radio, store, WithSleep(noSleep))
	n.Begin(nil, false, protocol.IDUnassigned, DefaultRadioParams())

	if n.State() != StateOperational {
		t.Fatalf("state = %s, want operational", n.State())
	}
	if n.NodeID() != 5 {
		t.Errorf("node id = %d, want 5", n.NodeID())
	}
	if n.ParentNodeID() != 9 || n.Distance() != 2 {
		t.Errorf("parent/distance = %d/%d, want 9/2", n.ParentNodeID(), n.Distance())
	}

	// Identity must be persisted.
	if store.ReadByte(storage.NodeIDOffset) != 5 ||
		store.ReadByte(storage.ParentNodeIDOffset) != 9 ||
		store.ReadByte(storage.DistanceOffset) != 2 {
		t.Error("identity not persisted")
	}
}

func TestParentElectionFirstSeenWinsTies(t *testing.T) {
	radio := newMockRadio()
	for _, sender := range []byte{3, 7} {
		radio.queue(t, &protocol.Envelope{
			Destination: 12,
			Sender:      sender,
			LastHop:     sender,
			Type:        protocol.TypeInternal,
			SubType:     protocol.InternalFindParentResponse,
			Payload:     []byte{2},
		})
	}

	store := seededStore(12, protocol.IDUnassigned, 0xFF)
	n := New(radio, store, WithSleep(noSleep))
	n.Begin(nil, false, protocol.IDUnassigned, DefaultRadioParams())

	if n.State() != StateOperational {
		t.Fatalf("state = %s, want operational", n.State())
	}
	if n.ParentNodeID() != 3 {
		t.Errorf("parent = %d, want first-seen 3", n.ParentNodeID())
	}
}

func TestBootstrapExhaustionIsFatal(t *testing.T) {
	radio := newMockRadio()
	n := New(radio, storage.NewMemory(), WithSleep(noSleep))
	n.Begin(nil, false, protocol.IDUnassigned, DefaultRadioParams())

	if n.State() != StateFailed {
		t.Fatalf("state = %s, want failed", n.State())
	}
	// Every attempt must have broadcast a request, and no more.
	if len(radio.txLog) != idRequestRetries {
		t.Errorf("transmitted %d requests, want %d", len(radio.txLog), idRequestRetries)
	}

	// A failed node must refuse traffic rather than run with the
	// sentinel identifier.
	if n.Send(&protocol.Envelope{Destination: protocol.GatewayAddress}, false) {
		t.Error("failed node accepted a send")
	}
	if n.Process() {
		t.Error("failed node processed traffic")
	}
}

func TestProcessDeliversAndLearnsRoute(t *testing.T) {
	radio := newMockRadio()
	var delivered *protocol.Envelope
	n := operationalNode(t, radio, seededStore(12, 3, 2), false,
		func(e *protocol.Envelope) { delivered = e })

	radio.queue(t, &protocol.Envelope{
		Destination: 12,
		Sender:      40,
		LastHop:     3,
		SensorID:    2,
		Type:        protocol.TypeSet,
		SubType:     7,
		Payload:     []byte{21},
	})

	if !n.Process() {
		t.Fatal("Process() = false, want true")
	}
	if delivered == nil || delivered.Sender != 40 {
		t.Fatalf("callback got %+v, want message from 40", delivered)
	}
	if hop, ok := n.LookupRoute(40); !ok || hop != 3 {
		t.Errorf("route to 40 = %d,%v, want 3,true", hop, ok)
	}
	if n.GetLastMessage() != delivered {
		t.Error("GetLastMessage() does not match delivered message")
	}
}

func TestProcessRelaysForeignFrames(t *testing.T) {
	radio := newMockRadio()
	var delivered bool
	n := operationalNode(t, radio, seededStore(3, 1, 1), true,
		func(*protocol.Envelope) { delivered = true })

	radio.queue(t, &protocol.Envelope{
		Destination: 12,
		Sender:      40,
		LastHop:     17,
		Type:        protocol.TypeSet,
		Payload:     []byte{1},
	})

	if n.Process() {
		t.Fatal("Process() = true for a relayed frame, want false")
	}
	if delivered {
		t.Fatal("relayed frame reached the application callback")
	}

	// No route to 12: goes up the tree, with this node as last hop.
	addr, fwd := radio.sent(t, -1)
	if addr != 1 {
		t.Errorf("forwarded to %d, want parent 1", addr)
	}
	if fwd.LastHop != 3 {
		t.Errorf("forwarded lastHop = %d, want 3", fwd.LastHop)
	}
	if fwd.Sender != 40 || fwd.Destination != 12 {
		t.Errorf("forwarded frame mutated: %+v", fwd)
	}

	// The sender was learned via the hop it arrived from.
	if hop, ok := n.LookupRoute(40); !ok || hop != 17 {
		t.Errorf("route to 40 = %d,%v, want 17,true", hop, ok)
	}
}

func TestProcessRelaysDownKnownRoutes(t *testing.T) {
	radio := newMockRadio()
	store := seededStore(3, 1, 1)
	store.WriteByte(storage.RoutesOffset+12, 5)
	n := operationalNode(t, radio, store, true, nil)

	radio.queue(t, &protocol.Envelope{
		Destination: 12,
		Sender:      protocol.GatewayAddress,
		LastHop:     1,
		Type:        protocol.TypeSet,
	})
	n.Process()

	addr, _ := radio.sent(t, -1)
	if addr != 5 {
		t.Errorf("forwarded to %d, want recorded hop 5", addr)
	}
}

func TestProcessDiscardsWhenRelayDisabled(t *testing.T) {
	radio := newMockRadio()
	n := operationalNode(t, radio, seededStore(3, 1, 1), false, nil)

	radio.queue(t, &protocol.Envelope{
		Destination: 12,
		Sender:      40,
		LastHop:     17,
		Type:        protocol.TypeSet,
	})
	if n.Process() {
		t.Fatal("Process() = true, want false")
	}
	if len(radio.txLog) != 0 {
		t.Error("non-relay node forwarded a frame")
	}
}

func TestProcessDiscardsCorruptFrames(t *testing.T) {
	radio := newMockRadio()
	var delivered bool
	n := operationalNode(t, radio, seededStore(12, 3, 2), true,
		func(*protocol.Envelope) { delivered = true })

	frame, _ := protocol.Encode(&protocol.Envelope{
		Destination: 12, Sender: 40, LastHop: 3, Type: protocol.TypeSet,
	})
	frame[1] ^= 0x40
	radio.rx = append(radio.rx, frame)

	if n.Process() {
		t.Fatal("Process() accepted a corrupt frame")
	}
	if delivered || len(radio.txLog) != 0 {
		t.Error("corrupt frame was delivered or relayed")
	}
}

func TestProcessAcksWhenRequested(t *testing.T) {
	radio := newMockRadio()
	n := operationalNode(t, radio, seededStore(12, 3, 2), false, func(*protocol.Envelope) {})

	radio.queue(t, &protocol.Envelope{
		Destination:  12,
		Sender:       40,
		LastHop:      3,
		SensorID:     2,
		Type:         protocol.TypeSet,
		SubType:      7,
		AckRequested: true,
		Payload:      []byte{21},
	})
	if !n.Process() {
		t.Fatal("Process() = false, want true")
	}

	// The echo goes back via the hop the message arrived from.
	addr, echo := radio.sent(t, -1)
	if addr != 3 {
		t.Errorf("ack sent to %d, want 3", addr)
	}
	if !echo.IsAck || echo.AckRequested {
		t.Errorf("echo flags = ack:%v req:%v", echo.IsAck, echo.AckRequested)
	}
	if echo.Destination != 40 || echo.Sender != 12 {
		t.Errorf("echo addressing = %d->%d, want 12->40", echo.Sender, echo.Destination)
	}
}

func TestBroadcastDeliveredButNeverRelayed(t *testing.T) {
	radio := newMockRadio()
	var delivered bool
	n := operationalNode(t, radio, seededStore(12, 3, 2), true,
		func(*protocol.Envelope) { delivered = true })

	radio.queue(t, &protocol.Envelope{
		Destination: protocol.BroadcastAddress,
		Sender:      40,
		LastHop:     40,
		Type:        protocol.TypeSet,
	})
	if !n.Process() {
		t.Fatal("Process() = false for a broadcast, want true")
	}
	if !delivered {
		t.Fatal("broadcast not delivered")
	}
	if len(radio.txLog) != 0 {
		t.Error("broadcast was relayed; broadcasts are one-hop only")
	}
}

func TestResolveNextHop(t *testing.T) {
	radio := newMockRadio()
	n := operationalNode(t, radio, seededStore(12, 3, 2), false, nil)
	n.routes.Record(40, 7)

	tests := []struct {
		dest byte
		want byte
	}{
		{protocol.GatewayAddress, 3}, // up the tree
		{99, 3},                      // unknown: up the tree
		{40, 7},                      // known descendant
	}
	for _, tt := range tests {
		if got := n.resolveNextHop(tt.dest); got != tt.want {
			t.Errorf("resolveNextHop(%d) = %d, want %d", tt.dest, got, tt.want)
		}
	}
}

func TestFailureCounterTriggersParentSearch(t *testing.T) {
	radio := newMockRadio()
	n := operationalNode(t, radio, seededStore(12, 3, 2), false, nil)
	radio.refuse[3] = true

	msg := &protocol.Envelope{
		Destination: protocol.GatewayAddress,
		SensorID:    1,
		Type:        protocol.TypeSet,
	}
	for i := 1; i <= searchFailures; i++ {
		if n.Send(msg, false) {
			t.Fatalf("send %d succeeded against a dead parent", i)
		}
		if n.failedTransmissions != byte(i) {
			t.Fatalf("after %d failures counter = %d", i, n.failedTransmissions)
		}
	}

	// The sixth send must search for a new parent first; node 9 at
	// distance 0 answers.
	radio.queue(t, &protocol.Envelope{
		Destination: 12,
		Sender:      9,
		LastHop:     9,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalFindParentResponse,
		Payload:     []byte{0},
	})
	if !n.Send(msg, false) {
		t.Fatal("send after re-parenting failed")
	}
	if n.ParentNodeID() != 9 || n.Distance() != 1 {
		t.Errorf("parent/distance = %d/%d, want 9/1", n.ParentNodeID(), n.Distance())
	}
	if n.failedTransmissions != 0 {
		t.Errorf("counter = %d after success, want 0", n.failedTransmissions)
	}
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	radio := newMockRadio()
	n := operationalNode(t, radio, seededStore(12, 3, 2), false, nil)
	msg := &protocol.Envelope{Destination: protocol.GatewayAddress, Type: protocol.TypeSet}

	radio.refuse[3] = true
	for i := 0; i < searchFailures-1; i++ {
		n.Send(msg, false)
	}
	radio.refuse[3] = false
	if !n.Send(msg, false) {
		t.Fatal("send failed with a healthy parent")
	}
	if n.failedTransmissions != 0 {
		t.Errorf("counter = %d after success, want 0", n.failedTransmissions)
	}
}

func TestConfigFrameUpdatesConfig(t *testing.T) {
	radio := newMockRadio()
	var delivered bool
	n := operationalNode(t, radio, seededStore(12, 3, 2), false,
		func(*protocol.Envelope) { delivered = true })

	radio.queue(t, &protocol.Envelope{
		Destination: 12,
		Sender:      protocol.GatewayAddress,
		LastHop:     3,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalConfig,
		Payload:     []byte{1},
	})
	if n.Process() {
		t.Fatal("config frame reached the application")
	}
	if delivered {
		t.Fatal("config frame invoked the callback")
	}
	if !n.GetConfig().IsMetric {
		t.Error("config not applied")
	}
}

func TestRequestTimeCallback(t *testing.T) {
	radio := newMockRadio()
	n := operationalNode(t, radio, seededStore(12, 3, 2), false, nil)

	var got uint32
	n.RequestTime(func(sec uint32) { got = sec })

	addr, req := radio.sent(t, -1)
	if addr != 3 || req.SubType != protocol.InternalTime {
		t.Fatalf("time request went to %d subtype %d", addr, req.SubType)
	}

	radio.queue(t, &protocol.Envelope{
		Destination: 12,
		Sender:      protocol.GatewayAddress,
		LastHop:     3,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalTime,
		Payload:     encodeTime(1735689600),
	})
	n.Process()
	if got != 1735689600 {
		t.Errorf("time callback got %d, want 1735689600", got)
	}
}

func TestGatewayAssignsSequentialIDs(t *testing.T) {
	radio := newMockRadio()
	n := New(radio, storage.NewMemory(), WithSleep(noSleep))
	n.Begin(nil, true, protocol.GatewayAddress, DefaultRadioParams())

	for want := byte(1); want <= 2; want++ {
		radio.queue(t, &protocol.Envelope{
			Destination: protocol.GatewayAddress,
			Sender:      protocol.IDUnassigned,
			LastHop:     protocol.IDUnassigned,
			Type:        protocol.TypeInternal,
			SubType:     protocol.InternalIDRequest,
		})
		if n.Process() {
			t.Fatal("id request reached the application")
		}
		addr, resp := radio.sent(t, -1)
		if addr != protocol.BroadcastAddress {
			t.Errorf("id response sent to %d, want broadcast", addr)
		}
		if resp.SubType != protocol.InternalIDResponse || len(resp.Payload) != 1 || resp.Payload[0] != want {
			t.Errorf("id response = %+v, want id %d", resp, want)
		}
	}
}

func TestIDAssignmentImmuneToAppState(t *testing.T) {
	radio := newMockRadio()
	store := storage.NewMemory()
	n := New(radio, store, WithSleep(noSleep))
	n.Begin(nil, true, protocol.GatewayAddress, DefaultRadioParams())

	request := func() byte {
		radio.queue(t, &protocol.Envelope{
			Destination: protocol.GatewayAddress,
			Sender:      protocol.IDUnassigned,
			LastHop:     protocol.IDUnassigned,
			Type:        protocol.TypeInternal,
			SubType:     protocol.InternalIDRequest,
		})
		n.Process()
		_, resp := radio.sent(t, -1)
		return resp.Payload[0]
	}

	if got := request(); got != 1 {
		t.Fatalf("first assignment = %d, want 1", got)
	}

	// Application state writes, slot 0 included, must not disturb the
	// assignment counter.
	n.SaveState(0, 77)
	if got := request(); got != 2 {
		t.Errorf("assignment after SaveState(0, ...) = %d, want 2", got)
	}
	if got := n.LoadState(0); got != 77 {
		t.Errorf("LoadState(0) = %d, want 77", got)
	}
	if store.ReadByte(storage.LastAssignedIDOffset) != 2 {
		t.Error("assignment counter not at its reserved offset")
	}
}

func TestGatewayAnswersTimeAndConfig(t *testing.T) {
	radio := newMockRadio()
	fixed := time.Unix(1735689600, 0)
	n := New(radio, storage.NewMemory(), WithSleep(noSleep), WithClock(func() time.Time { return fixed }))
	n.Begin(nil, true, protocol.GatewayAddress, DefaultRadioParams())
	n.SetConfig(ControllerConfig{IsMetric: true})

	radio.queue(t, &protocol.Envelope{
		Destination: protocol.GatewayAddress,
		Sender:      12,
		LastHop:     12,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalTime,
	})
	n.Process()
	addr, reply := radio.sent(t, -1)
	if addr != 12 || reply.SubType != protocol.InternalTime {
		t.Fatalf("time reply to %d subtype %d", addr, reply.SubType)
	}
	if sec, ok := decodeTime(reply.Payload); !ok || sec != 1735689600 {
		t.Errorf("time payload = %v", reply.Payload)
	}

	radio.queue(t, &protocol.Envelope{
		Destination: protocol.GatewayAddress,
		Sender:      12,
		LastHop:     12,
		Type:        protocol.TypeInternal,
		SubType:     protocol.InternalConfig,
	})
	n.Process()
	_, cfg := radio.sent(t, -1)
	if cfg.SubType != protocol.InternalConfig || len(cfg.Payload) != 1 || cfg.Payload[0] != 1 {
		t.Errorf("config reply = %+v, want metric flag 1", cfg)
	}
}

func TestSendStampsSenderAndFirstHopResult(t *testing.T) {
	radio := newMockRadio()
	n := operationalNode(t, radio, seededStore(12, 3, 2), false, nil)

	ok := n.Send(&protocol.Envelope{
		Destination: protocol.GatewayAddress,
		SensorID:    1,
		Type:        protocol.TypeSet,
		Payload:     []byte{42},
	}, true)
	if !ok {
		t.Fatal("Send() = false")
	}

	addr, sent := radio.sent(t, -1)
	if addr != 3 {
		t.Errorf("sent to %d, want parent 3", addr)
	}
	if sent.Sender != 12 || sent.LastHop != 12 {
		t.Errorf("sender/lastHop = %d/%d, want 12/12", sent.Sender, sent.LastHop)
	}
	if !sent.AckRequested {
		t.Error("ack flag not set")
	}
}

func TestSaveLoadState(t *testing.T) {
	radio := newMockRadio()
	store := seededStore(12, 3, 2)
	n := operationalNode(t, radio, store, false, nil)

	n.SaveState(7, 200)
	if got := n.LoadState(7); got != 200 {
		t.Errorf("LoadState(7) = %d, want 200", got)
	}
	// State slots live above the network layer's reserved region.
	if store.ReadByte(storage.AppStateOffset+7) != 200 {
		t.Error("state byte not at the expected offset")
	}
}

func TestStaleRouteForgottenOnSendFailure(t *testing.T) {
	radio := newMockRadio()
	store := seededStore(3, 1, 1)
	store.WriteByte(storage.RoutesOffset+12, 5)
	n := operationalNode(t, radio, store, true, nil)

	radio.refuse[5] = true
	n.Send(&protocol.Envelope{Destination: 12, Type: protocol.TypeSet}, false)

	if _, ok := n.LookupRoute(12); ok {
		t.Error("stale route to 12 survived a failed transmission")
	}
	// Next attempt goes up the tree instead.
	if !n.Send(&protocol.Envelope{Destination: 12, Type: protocol.TypeSet}, false) {
		t.Fatal("fallback send failed")
	}
	if addr, _ := radio.sent(t, -1); addr != 1 {
		t.Errorf("fallback sent to %d, want parent 1", addr)
	}
}
