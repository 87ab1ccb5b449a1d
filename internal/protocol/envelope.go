package protocol

// Envelope is the frame exchanged between nodes.
//
// Wire layout:
//
//	Destination(1) | Sender(1) | LastHop(1) | SensorID(1) |
//	Type(1) | SubType(1) | Flags(1) | Payload(0-24) | CRC8(1)
//
// LastHop is rewritten by every forwarding node; all other fields are
// immutable in transit. The trailing checksum covers every preceding
// byte, header included.
type Envelope struct {
	Destination  byte
	Sender       byte
	LastHop      byte
	SensorID     byte
	Type         byte
	SubType      byte
	AckRequested bool
	IsAck        bool
	Payload      []byte
}

// Encode serialises e into a wire frame, computing the checksum last.
func Encode(e *Envelope) ([]byte, error) {
	if len(e.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize+len(e.Payload)+ChecksumSize)
	buf[0] = e.Destination
	buf[1] = e.Sender
	buf[2] = e.LastHop
	buf[3] = e.SensorID
	buf[4] = e.Type
	buf[5] = e.SubType
	buf[6] = e.flags()
	copy(buf[HeaderSize:], e.Payload)
	buf[len(buf)-1] = Checksum(buf[:len(buf)-1])
	return buf, nil
}

// Decode parses a wire frame. A frame whose recomputed checksum does
// not match its trailer is rejected with ErrChecksum.
func Decode(frame []byte) (*Envelope, error) {
	if len(frame) < HeaderSize+ChecksumSize {
		return nil, ErrTruncated
	}
	if Checksum(frame[:len(frame)-1]) != frame[len(frame)-1] {
		return nil, ErrChecksum
	}

	e := &Envelope{
		Destination:  frame[0],
		Sender:       frame[1],
		LastHop:      frame[2],
		SensorID:     frame[3],
		Type:         frame[4],
		SubType:      frame[5],
		AckRequested: frame[6]&flagAckRequested != 0,
		IsAck:        frame[6]&flagIsAck != 0,
	}
	if payloadLen := len(frame) - HeaderSize - ChecksumSize; payloadLen > 0 {
		e.Payload = make([]byte, payloadLen)
		copy(e.Payload, frame[HeaderSize:len(frame)-1])
	}
	return e, nil
}

func (e *Envelope) flags() byte {
	var f byte
	if e.AckRequested {
		f |= flagAckRequested
	}
	if e.IsAck {
		f |= flagIsAck
	}
	return f
}

// AckEcho returns the ack copy sent back to a sender that requested an
// acknowledgement: same message, ack flag swapped, no further ack asked.
func (e *Envelope) AckEcho(ownID byte) *Envelope {
	ack := *e
	ack.Destination = e.Sender
	ack.Sender = ownID
	ack.LastHop = ownID
	ack.AckRequested = false
	ack.IsAck = true
	if e.Payload != nil {
		ack.Payload = make([]byte, len(e.Payload))
		copy(ack.Payload, e.Payload)
	}
	return &ack
}
