package didledger

import (
	"go.dedis.ch/kyber/v3/suites"
)

// Suite is the cryptographic suite used for every signing key handled by the
// ledger core. All DID keys and method-key identities are points of this
// suite, and all action signatures are schnorr signatures over it.
var Suite = suites.MustFind("Ed25519")
