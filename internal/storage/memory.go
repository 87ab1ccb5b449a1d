package storage

// Memory is an in-RAM Store. Fresh memory reads back 0xFF in every
// cell, like an unprogrammed EEPROM, so a brand-new node sees the
// unassigned-id sentinel at the identity offsets.
type Memory struct {
	cells map[uint16]byte
}

func NewMemory() *Memory {
	return &Memory{cells: make(map[uint16]byte)}
}

func (m *Memory) ReadByte(addr uint16) byte {
	if v, ok := m.cells[addr]; ok {
		return v
	}
	return 0xFF
}

func (m *Memory) WriteByte(addr uint16, value byte) {
	m.cells[addr] = value
}
