package protocol

import "errors"

var (
	ErrChecksum        = errors.New("checksum mismatch")
	ErrTruncated       = errors.New("frame too short for header")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
)
