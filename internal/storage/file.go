package storage

import (
	"fmt"
	"os"
)

const fileSize = 1024

// File is a Store backed by a fixed-size file, so a simulated node's
// identity and routes survive process restarts. Writes go straight to
// disk; the image is small and writes are rare.
type File struct {
	path  string
	image []byte
}

// OpenFile loads (or creates) the backing image at path.
func OpenFile(path string) (*File, error) {
	image := make([]byte, fileSize)
	for i := range image {
		image[i] = 0xFF
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		copy(image, data)
	case os.IsNotExist(err):
		if err := os.WriteFile(path, image, 0o644); err != nil {
			return nil, fmt.Errorf("creating store image: %w", err)
		}
	default:
		return nil, fmt.Errorf("reading store image: %w", err)
	}

	return &File{path: path, image: image}, nil
}

func (f *File) ReadByte(addr uint16) byte {
	if int(addr) >= len(f.image) {
		return 0xFF
	}
	return f.image[addr]
}

func (f *File) WriteByte(addr uint16, value byte) {
	if int(addr) >= len(f.image) {
		return
	}
	if f.image[addr] == value {
		return
	}
	f.image[addr] = value
	// Best effort; a failed flush costs one write, not correctness.
	_ = os.WriteFile(f.path, f.image, 0o644)
}
