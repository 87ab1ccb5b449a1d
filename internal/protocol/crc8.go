package protocol

// Checksum computes the Dallas/Maxim CRC-8 (reflected polynomial 0x8C)
// over data. Every node on the mesh must use the same polynomial or no
// two nodes will accept each other's frames.
func Checksum(data []byte) byte {
	var crc byte
	for _, b := range data {
		for bit := 0; bit < 8; bit++ {
			mix := (crc ^ b) & 0x01
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8C
			}
			b >>= 1
		}
	}
	return crc
}
