// Package storage abstracts the byte-addressed non-volatile store a node
// keeps its identity and routing table in. On real hardware this is an
// EEPROM; in the simulator it is RAM or a file.
package storage

// Persisted layout. Offsets below AppStateOffset belong to the network
// layer; everything from AppStateOffset up is free for the application.
const (
	NodeIDOffset       uint16 = 0
	ParentNodeIDOffset uint16 = 1
	DistanceOffset     uint16 = 2
	RoutesOffset       uint16 = 3   // 256 bytes, one per possible node id
	ControllerOffset   uint16 = 259 // last controller-sent config blob
	ControllerSize            = 24
	AppStateOffset     uint16 = 283

	// LastAssignedIDOffset holds the root's id-assignment counter. It
	// reuses the controller region's last byte: config originates at
	// the root, so the root never stores a blob there, and ordinary
	// nodes never assign ids. Keeping it below AppStateOffset leaves
	// every application state slot free on every node.
	LastAssignedIDOffset = ControllerOffset + ControllerSize - 1
)

// Store is a byte-addressed persistent store.
type Store interface {
	ReadByte(addr uint16) byte
	WriteByte(addr uint16, value byte)
}
