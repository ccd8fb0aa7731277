package cloud

import (
	"encoding/base64"
	"testing"
	"time"
)

// ─── Nonce ─────────────────────────────────────────────────────────

func TestGenerateNonce(t *testing.T) {
	now := time.Unix(29000000*60, 0) // minute counter 29000000

	nonce, err := generateNonce(now)
	if err != nil {
		t.Fatalf("generateNonce() error = %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		t.Fatalf("nonce is not base64: %v", err)
	}
	if len(raw) != nonceRandomBytes+nonceTimeBytes {
		t.Fatalf("nonce length = %d, want %d", len(raw), nonceRandomBytes+nonceTimeBytes)
	}

	// The suffix is the minute counter, big endian.
	minutes := uint32(raw[8])<<24 | uint32(raw[9])<<16 | uint32(raw[10])<<8 | uint32(raw[11])
	if minutes != 29000000 {
		t.Errorf("minute counter = %d, want 29000000", minutes)
	}
}

func TestGenerateNonceUnique(t *testing.T) {
	now := time.Now()
	a, _ := generateNonce(now)
	b, _ := generateNonce(now)
	if a == b {
		t.Error("two nonces in the same minute are identical")
	}
}

// ─── Signature golden test ─────────────────────────────────────────

// Golden values computed independently from the protocol definition:
// ssecurity = base64(00 01 ... 0f), nonce = base64(0011223344556677
// concatenated with minute counter 29000000 big endian).
const (
	goldenSSecurity   = "AAECAwQFBgcICQoLDA0ODw=="
	goldenNonce       = "ABEiM0RVZncBuoFA"
	goldenSignedNonce = "jBeN+4vxWIJnKKE5iO3dOjdxmANtLgWqwc6cVwqmZJg="
	goldenSignature   = "AJBbyIcHcqYdLs/EWwWoCF1ePvhfxtsOSRsIuFVUCHI="
	goldenPath        = "/miotspec/prop/get"
	goldenPayload     = `{"params":[{"did":"123","siid":2,"piid":1}]}`
)

func TestSignedNonceGolden(t *testing.T) {
	got, err := signedNonce(goldenSSecurity, goldenNonce)
	if err != nil {
		t.Fatalf("signedNonce() error = %v", err)
	}
	if got != goldenSignedNonce {
		t.Errorf("signedNonce() = %q, want %q", got, goldenSignedNonce)
	}
}

func TestSignRequestGolden(t *testing.T) {
	got, err := signRequest(goldenPath, goldenSignedNonce, goldenNonce, goldenPayload)
	if err != nil {
		t.Fatalf("signRequest() error = %v", err)
	}
	if got != goldenSignature {
		t.Errorf("signRequest() = %q, want %q", got, goldenSignature)
	}
}

func TestSignedNonceBadSSecurity(t *testing.T) {
	if _, err := signedNonce("not base64!!", goldenNonce); err == nil {
		t.Error("signedNonce() succeeded with malformed ssecurity")
	}
}
