package attestation

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"inference_gateway/internal/models"
)

// CanonicalText reproduces the byte sequence backends sign: the output
// text with normalized line endings and no surrounding whitespace.
func CanonicalText(text string) []byte {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return []byte(strings.TrimSpace(text))
}

// VerifySignature checks a hex signature over the canonical text under the
// given algorithm.
//
//   - ecdsa: secp256k1 over sha256(text); address is the 33-byte compressed
//     public key, signature is compact r||s (64 bytes).
//   - ed25519: address is the 32-byte public key, signature 64 bytes; the
//     message is signed directly.
func VerifySignature(signingAlgo, signingAddress string, canonicalText []byte, signature string) (bool, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	addrBytes, err := hex.DecodeString(strings.TrimPrefix(signingAddress, "0x"))
	if err != nil {
		return false, fmt.Errorf("invalid signing address hex: %w", err)
	}

	switch signingAlgo {
	case models.SigningAlgoECDSA:
		return verifySecp256k1(addrBytes, canonicalText, sigBytes)
	case models.SigningAlgoEd25519:
		return verifyEd25519(addrBytes, canonicalText, sigBytes)
	default:
		return false, fmt.Errorf("unsupported signing algorithm %q", signingAlgo)
	}
}

func verifySecp256k1(pubKeyBytes, canonicalText, sigBytes []byte) (bool, error) {
	pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("invalid secp256k1 public key: %w", err)
	}
	if len(sigBytes) != 64 {
		return false, fmt.Errorf("compact signature must be 64 bytes, got %d", len(sigBytes))
	}

	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sigBytes[:32]) || s.SetByteSlice(sigBytes[32:]) {
		return false, fmt.Errorf("signature scalar out of range")
	}
	sig := ecdsa.NewSignature(&r, &s)

	digest := sha256.Sum256(canonicalText)
	return sig.Verify(digest[:], pubKey), nil
}

func verifyEd25519(pubKeyBytes, canonicalText, sigBytes []byte) (bool, error) {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubKeyBytes))
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return false, fmt.Errorf("ed25519 signature must be %d bytes, got %d", ed25519.SignatureSize, len(sigBytes))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), canonicalText, sigBytes), nil
}
