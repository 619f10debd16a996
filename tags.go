package didledger

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
)

// ActionTag domain-separates the canonical bytes of signed actions. Every
// operation of every module owns one tag, so the bytes a client signs are
// unambiguous about which mutation was intended. Never change the order of
// these values.
type ActionTag byte

const (
	// TagDidUpdate - mutation of an identity record.
	TagDidUpdate ActionTag = iota + 1
	// TagDidRemove - tombstoning of an identity record.
	TagDidRemove
	// TagReplacePolicy - atomic replacement of a resource's policy.
	TagReplacePolicy
	// TagRevoke - revocation of credential ids in a registry.
	TagRevoke
	// TagUnrevoke - un-revocation of credential ids.
	TagUnrevoke
	// TagRemoveRegistry - removal of a whole revocation registry.
	TagRemoveRegistry
	// TagAddAccumulator - creation of an accumulator.
	TagAddAccumulator
	// TagUpdateAccumulator - update of an accumulated value.
	TagUpdateAccumulator
	// TagRemoveAccumulator - removal of an accumulator.
	TagRemoveAccumulator
	// TagAddAccumulatorParams - publication of accumulator parameters.
	TagAddAccumulatorParams
	// TagRemoveAccumulatorParams - removal of accumulator parameters.
	TagRemoveAccumulatorParams
	// TagAddAccumulatorKey - publication of an accumulator public key.
	TagAddAccumulatorKey
	// TagRemoveAccumulatorKey - removal of an accumulator public key.
	TagRemoveAccumulatorKey
	// TagAddSignatureParams - publication of offchain signature parameters.
	TagAddSignatureParams
	// TagRemoveSignatureParams - removal of offchain signature parameters.
	TagRemoveSignatureParams
	// TagUpdateStatusList - update of a status-list credential.
	TagUpdateStatusList
	// TagRemoveStatusList - removal of a status-list credential.
	TagRemoveStatusList
	// TagInitTrustRegistry - creation of a trust registry.
	TagInitTrustRegistry
	// TagSetSchemaMetadata - update of schema metadata in a trust registry.
	TagSetSchemaMetadata
	// TagSetAttestationClaim - replacement of a DID's attestation claim.
	TagSetAttestationClaim
	// TagAddBlob - creation of an immutable blob.
	TagAddBlob
)

// Canonical computes the digest every signer of an action signs: a sha256
// over the action tag, the target id, the nonce and the deterministic byte
// stream of the proposed update. It is exposed so off-chain signing clients
// can construct valid envelopes.
func Canonical(tag ActionTag, target []byte, nonce uint64, payload func(io.Writer) error) ([]byte, error) {
	h := sha256.New()
	h.Write([]byte{byte(tag)})

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(target)))
	h.Write(lenBuf)
	h.Write(target)

	nonceBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(nonceBuf, nonce)
	h.Write(nonceBuf)

	if payload != nil {
		if err := payload(h); err != nil {
			return nil, err
		}
	}
	return h.Sum(nil), nil
}
