// Package radio defines the transceiver port the network layer drives,
// plus an in-process simulated medium for running many nodes in one
// binary or test.
package radio

// Transceiver is the point-to-point radio the mesh layer is built on.
// Implementations wrap real hardware or the simulated medium; the mesh
// layer never touches a radio register itself.
type Transceiver interface {
	// Configure sets power level, RF channel and data rate.
	Configure(power, channel, dataRate byte) error
	// Transmit sends one frame to the given radio address and reports
	// whether the hop accepted it.
	Transmit(addr byte, frame []byte) bool
	// ReceiveAvailable reports whether a frame is waiting.
	ReceiveAvailable() bool
	// Receive pops the next waiting frame, or nil if none.
	Receive() []byte
	// ListenOnAddress opens pipe for frames sent to addr.
	ListenOnAddress(pipe byte, addr byte)
}
