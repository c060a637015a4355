package firmware

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"fwupdcore/pkg/ferrors"
)

// trailingSignature splits a detached Ed25519 signature off the tail of
// buf, generalizing the fixed-size trailing signature block the
// Synaptics Prometheus firmware format carries (signature_size bytes
// appended after the payload, verified before the header is trusted).
func trailingSignature(buf []byte) (payload, sig []byte, err error) {
	if len(buf) < ed25519.SignatureSize {
		return nil, nil, ferrors.New(ferrors.InvalidData, fmt.Sprintf("firmware too short for a trailing signature: %d bytes", len(buf)))
	}
	split := len(buf) - ed25519.SignatureSize
	return buf[:split], buf[split:], nil
}

// Digest returns a Blake2b-256 digest of buf, used as the value a
// detached signature is computed over — a stronger integrity check than
// the Sum8/CRC16 checksums transports embed inline, for formats whose
// authenticity (not just transmission integrity) needs verifying.
func Digest(buf []byte) ([32]byte, error) {
	return blake2b.Sum256(buf), nil
}

// VerifyDetachedSignature splits the trailing Ed25519 signature off buf
// and checks it against pubKey over a Blake2b-256 digest of the
// remaining payload. It returns the payload with the signature stripped
// on success.
func VerifyDetachedSignature(buf []byte, pubKey ed25519.PublicKey) ([]byte, error) {
	payload, sig, err := trailingSignature(buf)
	if err != nil {
		return nil, err
	}
	digest, err := Digest(payload)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(pubKey, digest[:], sig) {
		return nil, ferrors.New(ferrors.AuthFailed, "firmware signature verification failed")
	}
	return payload, nil
}
