package attestation

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inference_gateway/internal/models"
)

func TestCanonicalText(t *testing.T) {
	assert.Equal(t, []byte("hello\nworld"), CanonicalText("  hello\r\nworld \n"))
	assert.Equal(t, []byte("x"), CanonicalText("x"))
}

func signSecp256k1(t *testing.T, text string) (address, signature string) {
	t.Helper()

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	digest := sha256.Sum256(CanonicalText(text))
	// SignCompact yields [recovery_flag, r(32), s(32)]; the stored wire
	// format is the bare r||s.
	compact := ecdsa.SignCompact(priv, digest[:], false)

	return hex.EncodeToString(priv.PubKey().SerializeCompressed()), hex.EncodeToString(compact[1:65])
}

func TestVerifySecp256k1RoundTrip(t *testing.T) {
	const text = "The capital of France is Paris."
	address, signature := signSecp256k1(t, text)

	ok, err := VerifySignature(models.SigningAlgoECDSA, address, CanonicalText(text), signature)
	require.NoError(t, err)
	assert.True(t, ok)

	// A different text does not verify.
	ok, err = VerifySignature(models.SigningAlgoECDSA, address, CanonicalText("tampered"), signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyEd25519RoundTrip(t *testing.T) {
	const text = "hello attested world"

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, CanonicalText(text))

	ok, verr := VerifySignature(models.SigningAlgoEd25519,
		hex.EncodeToString(pub), CanonicalText(text), hex.EncodeToString(sig))
	require.NoError(t, verr)
	assert.True(t, ok)

	ok, verr = VerifySignature(models.SigningAlgoEd25519,
		hex.EncodeToString(pub), CanonicalText("other"), hex.EncodeToString(sig))
	require.NoError(t, verr)
	assert.False(t, ok)
}

func TestVerifyMalformedInputs(t *testing.T) {
	_, err := VerifySignature(models.SigningAlgoECDSA, "not-hex", []byte("x"), "deadbeef")
	assert.Error(t, err)

	_, err = VerifySignature(models.SigningAlgoECDSA, "02aabb", []byte("x"), "zz")
	assert.Error(t, err)

	_, err = VerifySignature("rsa", "aabb", []byte("x"), "deadbeef")
	assert.Error(t, err)
}
