package wire

import (
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

// VerifySnapshot checks that ss.Signature is a valid Ed25519 signature by
// ss.PubKey over ss.Hash. A SignedPinRollback or SignedSnapshot whose
// signature doesn't verify is an offense (spec.md §3 "externally signed
// checkpoint"): this module never accepts a rollback the author can't
// prove authorization for.
func VerifySnapshot(ss SignedSnapshot) bool {
	return ed25519.Verify(ed25519.PublicKey(ss.PubKey[:]), ss.Hash[:], ss.Signature[:])
}
