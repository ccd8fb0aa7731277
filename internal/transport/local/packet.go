package local

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // Protocol-mandated: the device checksum and key derivation use MD5
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Wire framing constants for the local device protocol.
const (
	// packetMagic is the fixed first two bytes of every packet.
	packetMagic = 0x2131

	// headerSize is the fixed header length in bytes.
	headerSize = 32

	// checksumOffset is where the MD5 checksum starts within the header.
	checksumOffset = 16

	// helloFill is the filler value for hello packet fields.
	helloFill = 0xFFFFFFFF

	// tokenSize is the device token length in bytes.
	tokenSize = 16
)

// parseToken decodes a 32-character hex device token.
func parseToken(token string) ([]byte, error) {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: token is not hex: %w", ErrBadToken, err)
	}
	if len(raw) != tokenSize {
		return nil, fmt.Errorf("%w: token is %d bytes, want %d", ErrBadToken, len(raw), tokenSize)
	}
	return raw, nil
}

// cipherKeyIV derives the AES key and IV from the device token.
//
// key = MD5(token), iv = MD5(key || token). Both are protocol-mandated.
func cipherKeyIV(token []byte) (key, iv []byte) {
	k := md5.Sum(token) //nolint:gosec // Protocol-mandated
	key = k[:]
	i := md5.Sum(append(append([]byte{}, key...), token...)) //nolint:gosec // Protocol-mandated
	iv = i[:]
	return key, iv
}

// encryptPayload encrypts a JSON payload with AES-128-CBC and PKCS#7
// padding using the token-derived key and IV.
func encryptPayload(token, payload []byte) ([]byte, error) {
	key, iv := cipherKeyIV(token)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	padded := pkcs7Pad(payload, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// decryptPayload reverses encryptPayload.
func decryptPayload(token, data []byte) ([]byte, error) {
	key, iv := cipherKeyIV(token)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: payload length %d", ErrBadPacket, len(data))
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return pkcs7Unpad(out, block.BlockSize())
}

// pkcs7Pad appends PKCS#7 padding.
func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}

// pkcs7Unpad strips and validates PKCS#7 padding.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty padded payload", ErrBadPacket)
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, fmt.Errorf("%w: invalid padding %d", ErrBadPacket, pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: corrupt padding", ErrBadPacket)
		}
	}
	return data[:len(data)-pad], nil
}

// encodeHello builds the 32-byte handshake packet. Device ID, stamp, and
// checksum fields are all filler; any device on the network answers with
// its identity.
func encodeHello() []byte {
	pkt := make([]byte, headerSize)
	binary.BigEndian.PutUint16(pkt[0:2], packetMagic)
	binary.BigEndian.PutUint16(pkt[2:4], headerSize)
	for i := 4; i < headerSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// encodePacket frames and encrypts one request payload.
//
// Header layout (big endian):
//
//	magic (2) | length (2) | unknown (4) | device id (4) | stamp (4) | checksum (16)
//
// The checksum is MD5 over the header (with the token in the checksum
// field) plus the encrypted payload.
func encodePacket(token []byte, deviceID, stamp uint32, payload []byte) ([]byte, error) {
	enc, err := encryptPayload(token, payload)
	if err != nil {
		return nil, err
	}

	total := headerSize + len(enc)
	pkt := make([]byte, total)
	binary.BigEndian.PutUint16(pkt[0:2], packetMagic)
	binary.BigEndian.PutUint16(pkt[2:4], uint16(total)) //nolint:gosec // Payloads are far below 64 KiB
	binary.BigEndian.PutUint32(pkt[4:8], 0)
	binary.BigEndian.PutUint32(pkt[8:12], deviceID)
	binary.BigEndian.PutUint32(pkt[12:16], stamp)
	copy(pkt[checksumOffset:headerSize], token)
	copy(pkt[headerSize:], enc)

	sum := md5.Sum(pkt) //nolint:gosec // Protocol-mandated checksum
	copy(pkt[checksumOffset:headerSize], sum[:])
	return pkt, nil
}

// decodedPacket is a parsed and decrypted device packet.
type decodedPacket struct {
	deviceID uint32
	stamp    uint32
	payload  []byte // nil for hello replies and keepalives
}

// decodePacket validates framing and checksum, then decrypts the payload.
//
// Hello replies (no payload) skip checksum validation: the checksum field
// carries the device token during provisioning, not an MD5.
func decodePacket(token, data []byte) (*decodedPacket, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadPacket, len(data))
	}
	if binary.BigEndian.Uint16(data[0:2]) != packetMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadPacket)
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length != len(data) {
		return nil, fmt.Errorf("%w: length field %d, datagram %d", ErrBadPacket, length, len(data))
	}

	pkt := &decodedPacket{
		deviceID: binary.BigEndian.Uint32(data[8:12]),
		stamp:    binary.BigEndian.Uint32(data[12:16]),
	}
	if length == headerSize {
		return pkt, nil
	}

	// Verify checksum with the token substituted back in.
	check := make([]byte, len(data))
	copy(check, data)
	copy(check[checksumOffset:headerSize], token)
	sum := md5.Sum(check) //nolint:gosec // Protocol-mandated checksum
	if !bytes.Equal(sum[:], data[checksumOffset:headerSize]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrChecksum)
	}

	payload, err := decryptPayload(token, data[headerSize:])
	if err != nil {
		return nil, err
	}
	pkt.payload = payload
	return pkt, nil
}
