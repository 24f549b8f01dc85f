package models

import "time"

// Signing algorithms accepted for chat signatures.
const (
	SigningAlgoECDSA   = "ecdsa"   // secp256k1, compact r||s
	SigningAlgoEd25519 = "ed25519"
)

// ChatSignature is a backend-obtained signature over the canonicalized
// output text of a completed response. Primary key is
// (chat_id, signing_algo) so several algorithms can coexist per response.
type ChatSignature struct {
	ChatID         string    `db:"chat_id"`
	Text           string    `db:"text"`
	Signature      string    `db:"signature"` // hex, optionally 0x-prefixed, for every algorithm
	SigningAddress string    `db:"signing_address"`
	SigningAlgo    string    `db:"signing_algo"`
	CreatedAt      time.Time `db:"created_at"`
}
