// Package action implements the signed-action verifier: the single pipeline
// every resource mutation passes through. It recomputes the canonical bytes
// of {target, nonce, update}, verifies the gathered signatures against the
// identity store, evaluates the target's policy over the surviving signers,
// checks the replay nonce and applies the update - committing the new state
// and the advanced nonce together, or nothing at all.
package action

import (
	"io"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/did"
	"github.com/didledger/didledger/nonce"
	"github.com/didledger/didledger/policy"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned by resource modules when an action names an
// unknown target.
var ErrNotFound = xerrors.New("resource does not exist")

// ErrDuplicateSigner is returned when an envelope carries more than one
// signature from the same DID while the verifier consumes DID nonces.
var ErrDuplicateSigner = xerrors.New("duplicate signature from one signer")

// Payload is the deterministic byte stream of a proposed update, the part of
// the canonical bytes that differs per operation.
type Payload interface {
	EncodeTo(w io.Writer) error
}

// Envelope carries the replay nonce an action claims and the signatures
// gathered over its canonical bytes.
type Envelope struct {
	Nonce uint64
	Sigs  []did.Signature
}

// KeyResolver resolves the public key a signer claims to have signed with.
type KeyResolver func(signer did.Identity, keyID did.KeyID) (kyber.Point, error)

// Record is the stored shape shared by every controllable resource: the
// policy guarding it and its nonce-wrapped domain state.
type Record[S any] struct {
	Policy policy.Policy
	State  nonce.WithNonce[S]
}

// NewRecord wraps fresh domain state under a policy, starting at the given
// sequence number.
func NewRecord[S any](p policy.Policy, data S, at uint64) Record[S] {
	return Record[S]{Policy: p, State: nonce.NewAt(data, at)}
}

// Digest computes the canonical bytes signers of the action must sign.
// payload may be nil for operations without one.
func Digest(tag didledger.ActionTag, target []byte, n uint64, payload Payload) ([]byte, error) {
	var stream func(io.Writer) error
	if payload != nil {
		stream = payload.EncodeTo
	}
	return didledger.Canonical(tag, target, n, stream)
}

// Verify is the filter phase: every signature is checked over the digest and
// the ones that do not check out are dropped, never fatal. The surviving
// signers are what the policy decision runs on.
func Verify(digest []byte, sigs []did.Signature, resolve KeyResolver) []did.Identity {
	var signers []did.Identity
	for _, sig := range sigs {
		point, err := resolve(sig.Signer, sig.KeyID)
		if err != nil {
			log.Lvl2("dropping signer", sig.Signer.String(), ":", err)
			continue
		}
		if err := schnorr.Verify(didledger.Suite, point, digest, sig.Sig); err != nil {
			log.Lvl2("dropping signer", sig.Signer.String(), ": bad signature")
			continue
		}
		signers = append(signers, sig.Signer)
	}
	return signers
}

// Verifier runs the pipeline. By default only the target resource's nonce is
// consumed per action; a verifier built with ConsumeDidNonces additionally
// advances each authorized DID signer's own nonce.
type Verifier struct {
	resolve   KeyResolver
	didNonces *did.Registry
}

type verifierConfig struct {
	consumeDidNonces bool
}

// VerifierOption configures a Verifier.
type VerifierOption func(*verifierConfig)

// ConsumeDidNonces makes every accepted action also advance the record nonce
// of each authorized DID signer, serializing a signer's actions across all
// resources it controls.
func ConsumeDidNonces() VerifierOption {
	return func(c *verifierConfig) {
		c.consumeDidNonces = true
	}
}

// NewVerifier builds a verifier resolving keys through the identity store.
func NewVerifier(reg *did.Registry, opts ...VerifierOption) *Verifier {
	var cfg verifierConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	v := &Verifier{resolve: reg.ResolveKey}
	if cfg.consumeDidNonces {
		v.didNonces = reg
	}
	return v
}

// AuthorizeAndMutate is the single entry point of the core: it gates the
// proposed mutation behind signature
// verification, policy evaluation and the replay nonce, and commits the new
// domain state together with the advanced nonce. Every failure is terminal
// for the action and leaves rec untouched; the caller decides whether to
// resubmit with a corrected nonce or more signatures.
func AuthorizeAndMutate[S any](v *Verifier, rec *Record[S], tag didledger.ActionTag,
	target []byte, env Envelope, payload Payload, mutate func(S) (S, error)) error {

	digest, err := Digest(tag, target, env.Nonce, payload)
	if err != nil {
		return err
	}

	signers := Verify(digest, env.Sigs, v.resolve)
	if err := rec.Policy.Authorize(signers); err != nil {
		return err
	}

	next, err := nonce.TryAdvance(rec.State.Nonce, env.Nonce)
	if err != nil {
		return err
	}

	data, err := mutate(rec.State.Data)
	if err != nil {
		return err
	}

	if v.didNonces != nil {
		if err := consumeDidNonces(v.didNonces, signers, env.Sigs); err != nil {
			return err
		}
	}

	// single commit: state and nonce move together
	rec.State = nonce.WithNonce[S]{Nonce: next, Data: data}
	log.Lvl3("action", tag, "committed at nonce", next)
	return nil
}

// ReplacePolicy atomically replaces the policy of a record. The action must
// satisfy the policy being replaced, and it consumes the resource nonce like
// any other mutation, so there is no window of dual validity.
func ReplacePolicy[S any](v *Verifier, rec *Record[S], target []byte,
	env Envelope, replacement policy.Policy) error {

	if err := replacement.Validate(); err != nil {
		return err
	}
	err := AuthorizeAndMutate(v, rec, didledger.TagReplacePolicy, target, env,
		replacement, func(data S) (S, error) {
			return data, nil
		})
	if err != nil {
		return err
	}
	rec.Policy = replacement
	return nil
}

// consumeDidNonces advances the own nonce of every authorized DID signer.
// All supplied nonces are checked before any of them is consumed, and an
// envelope carrying two signatures from the same DID is rejected outright:
// only one advancement per signer can be valid, so a duplicate could
// otherwise pass the check phase and still fail the consumption.
func consumeDidNonces(reg *did.Registry, signers []did.Identity, sigs []did.Signature) error {
	type bump struct {
		id       did.Did
		supplied uint64
	}
	var bumps []bump
	seen := make(map[did.Did]struct{})
	for _, sig := range sigs {
		if sig.Signer.Did == nil {
			continue
		}
		authorized := false
		for _, s := range signers {
			if s.Equal(sig.Signer) {
				authorized = true
				break
			}
		}
		if !authorized {
			continue
		}
		if _, ok := seen[*sig.Signer.Did]; ok {
			return xerrors.Errorf("signer %s: %w", sig.Signer.String(), ErrDuplicateSigner)
		}
		seen[*sig.Signer.Did] = struct{}{}
		_, current, err := reg.Resolve(*sig.Signer.Did)
		if err != nil {
			return err
		}
		if _, err := nonce.TryAdvance(current, sig.Nonce); err != nil {
			return xerrors.Errorf("signer %s: %w", sig.Signer.String(), err)
		}
		bumps = append(bumps, bump{id: *sig.Signer.Did, supplied: sig.Nonce})
	}
	for _, b := range bumps {
		if err := reg.BumpNonce(b.id, b.supplied); err != nil {
			return err
		}
	}
	return nil
}
