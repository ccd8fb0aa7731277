package local

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

const testToken = "00112233445566778899aabbccddeeff"

// ─── Token ─────────────────────────────────────────────────────────

func TestParseToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", testToken, false},
		{"too short", "0011223344", true},
		{"not hex", "zz112233445566778899aabbccddeeff", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrBadToken) {
				t.Errorf("error = %v, want ErrBadToken", err)
			}
		})
	}
}

// ─── Framing ───────────────────────────────────────────────────────

func TestEncodeHello(t *testing.T) {
	pkt := encodeHello()
	if len(pkt) != headerSize {
		t.Fatalf("hello length = %d, want %d", len(pkt), headerSize)
	}
	if binary.BigEndian.Uint16(pkt[0:2]) != packetMagic {
		t.Error("hello missing magic")
	}
	if binary.BigEndian.Uint32(pkt[4:8]) != helloFill {
		t.Error("hello unknown field not filler")
	}
}

func TestPacketRoundTrip(t *testing.T) {
	token, err := parseToken(testToken)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{"id":1,"method":"get_properties","params":[]}`)
	pkt, err := encodePacket(token, 0x11223344, 100, payload)
	if err != nil {
		t.Fatalf("encodePacket() error = %v", err)
	}

	decoded, err := decodePacket(token, pkt)
	if err != nil {
		t.Fatalf("decodePacket() error = %v", err)
	}
	if decoded.deviceID != 0x11223344 {
		t.Errorf("deviceID = %#x, want 0x11223344", decoded.deviceID)
	}
	if decoded.stamp != 100 {
		t.Errorf("stamp = %d, want 100", decoded.stamp)
	}
	if !bytes.Equal(decoded.payload, payload) {
		t.Errorf("payload = %q, want %q", decoded.payload, payload)
	}
}

func TestDecodePacketErrors(t *testing.T) {
	token, _ := parseToken(testToken)
	valid, _ := encodePacket(token, 1, 1, []byte(`{}`))

	corruptChecksum := make([]byte, len(valid))
	copy(corruptChecksum, valid)
	corruptChecksum[checksumOffset] ^= 0xFF

	badMagic := make([]byte, len(valid))
	copy(badMagic, valid)
	badMagic[0] = 0x00

	badLength := make([]byte, len(valid))
	copy(badLength, valid)
	binary.BigEndian.PutUint16(badLength[2:4], uint16(len(valid)+8))

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"truncated", valid[:10], ErrBadPacket},
		{"bad magic", badMagic, ErrBadPacket},
		{"length mismatch", badLength, ErrBadPacket},
		{"checksum mismatch", corruptChecksum, ErrChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodePacket(token, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("decodePacket() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeHelloReply(t *testing.T) {
	// A header-only reply carries identity but no payload and skips
	// checksum validation.
	token, _ := parseToken(testToken)

	pkt := make([]byte, headerSize)
	binary.BigEndian.PutUint16(pkt[0:2], packetMagic)
	binary.BigEndian.PutUint16(pkt[2:4], headerSize)
	binary.BigEndian.PutUint32(pkt[8:12], 0xAABBCCDD)
	binary.BigEndian.PutUint32(pkt[12:16], 7)

	decoded, err := decodePacket(token, pkt)
	if err != nil {
		t.Fatalf("decodePacket() error = %v", err)
	}
	if decoded.deviceID != 0xAABBCCDD || decoded.stamp != 7 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.payload != nil {
		t.Errorf("payload = %v, want nil", decoded.payload)
	}
}

// ─── Crypto ────────────────────────────────────────────────────────

func TestEncryptDecryptRoundTrip(t *testing.T) {
	token, _ := parseToken(testToken)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"short", []byte("x")},
		{"block aligned", bytes.Repeat([]byte("a"), 16)},
		{"json", []byte(`{"id":3,"method":"action","params":{"siid":2,"aiid":1}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := encryptPayload(token, tt.payload)
			if err != nil {
				t.Fatalf("encryptPayload() error = %v", err)
			}
			dec, err := decryptPayload(token, enc)
			if err != nil {
				t.Fatalf("decryptPayload() error = %v", err)
			}
			if !bytes.Equal(dec, tt.payload) {
				t.Errorf("round trip = %q, want %q", dec, tt.payload)
			}
		})
	}
}

func TestTrimNulls(t *testing.T) {
	got := trimNulls([]byte("{}\x00\x00"))
	if !bytes.Equal(got, []byte("{}")) {
		t.Errorf("trimNulls() = %q", got)
	}
}
