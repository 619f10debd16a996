// Package didledger is the authorization core of a permissioned registry for
// decentralized identifiers and the resources they control.
//
// Every mutation of replicated state enters as a signed action: a target
// resource, a batched update, a nonce and one or more signatures. The core
// recomputes the canonical bytes of the action, verifies each signature
// against the identity store, evaluates the target's policy over the
// surviving signers, checks the replay-protection nonce and finally applies
// the update atomically. Each concern lives in its own package:
//
//   - did: the identity store (keys, controllers, service endpoints)
//   - nonce: the sequence-counter wrapper shared by every stored entity
//   - batch: the generic insert/remove/modify algebra for keyed collections
//   - policy: the quorum evaluator over sets of identities
//   - action: the signed-action pipeline tying the above together
//   - state: the key-value arena records are persisted in
//
// The resource packages (revocation, accumulator, offchainsigs, statuslist,
// trustregistry) are consumers of the core: each owns a map of resource
// records and drives all mutations through action.AuthorizeAndMutate.
package didledger
