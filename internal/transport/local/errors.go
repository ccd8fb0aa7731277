package local

import "errors"

// Sentinel errors for local transport operations.
var (
	// ErrBadToken indicates the configured device token is malformed.
	ErrBadToken = errors.New("local: bad device token")

	// ErrBadPacket indicates a datagram failed framing validation.
	ErrBadPacket = errors.New("local: bad packet")

	// ErrChecksum indicates a datagram failed checksum validation.
	ErrChecksum = errors.New("local: checksum mismatch")

	// ErrNotConnected indicates the client socket is closed.
	ErrNotConnected = errors.New("local: not connected")

	// ErrRPC indicates the device returned an RPC-level error.
	ErrRPC = errors.New("local: rpc error")

	// ErrBatchTooLarge indicates a request exceeds the per-call batch limit.
	ErrBatchTooLarge = errors.New("local: batch too large")
)
