package did

import (
	"io"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/batch"
	"github.com/didledger/didledger/nonce"
	"github.com/didledger/didledger/state"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var bucketDids = []byte("dids")

// Errors of the identity store. They are all local to one rejected action:
// no failed call leaves any trace in the store.
var (
	// ErrNotFound - the DID has no record.
	ErrNotFound = xerrors.New("did does not exist")
	// ErrAlreadyExists - registration of a taken DID.
	ErrAlreadyExists = xerrors.New("did already exists")
	// ErrTombstoned - the DID was removed; it accepts no further actions.
	ErrTombstoned = xerrors.New("did has been removed")
	// ErrNoControllers - a record must always name at least one controller.
	ErrNoControllers = xerrors.New("no controller provided")
	// ErrWouldOrphan - the update would remove the last controller.
	ErrWouldOrphan = xerrors.New("update would leave the did unmanageable")
	// ErrNotAuthorized - no surviving signer is a controller of the record.
	ErrNotAuthorized = xerrors.New("no authorized controller signed")
)

// Signature is one signer's schnorr signature over the canonical bytes of an
// action. DID signers name the key of their record that produced it; for
// method-key signers the key is the identity itself and KeyID is ignored.
// Nonce is the signer DID's own next nonce; it is only consumed by verifiers
// configured to serialize a signer's actions across resources.
type Signature struct {
	Signer Identity
	KeyID  KeyID
	Sig    []byte
	Nonce  uint64
}

// RecordUpdate is the batched mutation of one identity record: keyed updates
// of its keys, controllers and service endpoints, applied as one atomic unit.
// Controller entries are keyed by the controller identity's string form.
type RecordUpdate struct {
	Keys        batch.MultiTargetUpdate[KeyID, DidKey]
	Controllers batch.MultiTargetUpdate[string, Identity]
	Endpoints   batch.MultiTargetUpdate[string, ServiceEndpoint]
}

// EncodeTo writes the deterministic byte form of the update.
func (u RecordUpdate) EncodeTo(w io.Writer) error {
	if err := u.Keys.EncodeTo(w); err != nil {
		return err
	}
	if err := u.Controllers.EncodeTo(w); err != nil {
		return err
	}
	return u.Endpoints.EncodeTo(w)
}

// UpdateEnvelope is a signed RecordUpdate: the nonce it claims and the
// signatures gathered over the canonical bytes of (target, nonce, update).
type UpdateEnvelope struct {
	Nonce  uint64
	Update RecordUpdate
	Sigs   []Signature
}

// RemoveEnvelope is a signed tombstone request.
type RemoveEnvelope struct {
	Nonce uint64
	Sigs  []Signature
}

// Registry is the identity store, bound to the key-value arena its records
// live in.
type Registry struct {
	store state.Store
	clock func() uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the monotonic sequence clock new records take their initial
// nonce from. Starting the nonce at the creation sequence prevents a removed
// and re-created DID from accepting replays of its previous life.
func WithClock(clock func() uint64) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// NewRegistry returns a registry reading and writing records in store.
func NewRegistry(store state.Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		clock: func() uint64 { return 0 },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates the record of a fresh DID. A DID registered with at least
// one capability key controls itself; explicit extra controllers may be
// named. A record without any controller is rejected.
func (r *Registry) Register(id Did, keys []UncheckedDidKey, controllers []Identity) error {
	buf, err := r.store.Get(bucketDids, id.Bytes())
	if err != nil {
		return err
	}
	if buf != nil {
		return xerrors.Errorf("registering %v: %w", id, ErrAlreadyExists)
	}

	details := NewDetails()
	selfControlled := false
	for i, uk := range keys {
		k, err := NewDidKey(uk.Public, uk.VerRels)
		if err != nil {
			return xerrors.Errorf("key %d: %w", i+1, err)
		}
		details.Keys[KeyID(i+1)] = k
		if k.CanControl() {
			selfControlled = true
		}
	}
	details.LastKeyID = KeyID(len(keys))
	if selfControlled {
		self := NewIdentityDid(id)
		details.Controllers[self.String()] = self
	}
	for _, ctrl := range controllers {
		details.Controllers[ctrl.String()] = ctrl
	}
	if len(details.Controllers) == 0 {
		return xerrors.Errorf("registering %v: %w", id, ErrNoControllers)
	}

	stored, err := encodeDetails(r.clock(), false, details)
	if err != nil {
		return err
	}
	if err := r.store.Put(bucketDids, id.Bytes(), stored); err != nil {
		return err
	}
	log.Lvl2("registered did", id.String(), "with", len(details.Keys), "keys")
	return nil
}

// Resolve returns the record of a DID and its current nonce. Tombstoned and
// unknown DIDs both resolve as not found.
func (r *Registry) Resolve(id Did) (*Details, uint64, error) {
	n, tombstone, details, err := r.load(id)
	if err != nil {
		return nil, 0, err
	}
	if tombstone {
		return nil, 0, xerrors.Errorf("resolving %v: %w", id, ErrNotFound)
	}
	return details, n, nil
}

// ResolveKey resolves the public key a signer claims to sign with. DID
// signers resolve through their record and the key must hold
// CapabilityInvocation; method-key signers resolve to the embedded key.
func (r *Registry) ResolveKey(signer Identity, keyID KeyID) (kyber.Point, error) {
	switch {
	case signer.MethodKey != nil:
		return signer.MethodKey.Point, nil
	case signer.Did != nil:
		_, tombstone, details, err := r.load(*signer.Did)
		if err != nil {
			return nil, err
		}
		if tombstone {
			return nil, xerrors.Errorf("resolving key of %v: %w", signer.Did, ErrTombstoned)
		}
		k, err := details.ControlKey(keyID)
		if err != nil {
			return nil, err
		}
		return k.Public, nil
	default:
		return nil, xerrors.New("empty identity")
	}
}

// Update applies a signed batched mutation to the record of id. The
// management policy of a DID is fixed: any member of its controller set may
// authorize, signing with a key that holds CapabilityInvocation. Invalid
// signatures are dropped before the decision; the action fails only if no
// surviving signer is a controller. The nonce must be the stored nonce plus
// one and the whole update is applied atomically or not at all.
func (r *Registry) Update(id Did, env UpdateEnvelope) error {
	current, tombstone, details, err := r.load(id)
	if err != nil {
		return err
	}
	if tombstone {
		return xerrors.Errorf("updating %v: %w", id, ErrTombstoned)
	}

	digest, err := didledger.Canonical(didledger.TagDidUpdate, id.Bytes(), env.Nonce, env.Update.EncodeTo)
	if err != nil {
		return err
	}
	signers := r.filterSigners(digest, env.Sigs, id, details)
	if err := authorizeControllers(details, signers); err != nil {
		return err
	}

	next, err := nonce.TryAdvance(current, env.Nonce)
	if err != nil {
		return err
	}

	// Fresh keys continue the record's id sequence: a removed id is never
	// handed out again, and keys cannot be parked at arbitrary ids.
	lastKeyID := details.LastKeyID
	for _, tu := range env.Update.Keys {
		var cur *DidKey
		if v, ok := details.Keys[tu.Key]; ok {
			k := v
			cur = &k
		}
		if tu.Update.Kind(cur) != batch.KindAdd {
			continue
		}
		if tu.Key != lastKeyID+1 {
			return xerrors.Errorf("key id %d: fresh keys must continue at %d",
				tu.Key, lastKeyID+1)
		}
		lastKeyID++
	}

	// All three collections are validated against the pre-update snapshot
	// before any of them is touched.
	if err := env.Update.Keys.Validate(details.Keys); err != nil {
		return err
	}
	if err := env.Update.Controllers.Validate(details.Controllers); err != nil {
		return err
	}
	if err := env.Update.Endpoints.Validate(details.Endpoints); err != nil {
		return err
	}

	keys, err := env.Update.Keys.Apply(details.Keys)
	if err != nil {
		return err
	}
	controllers, err := env.Update.Controllers.Apply(details.Controllers)
	if err != nil {
		return err
	}
	endpoints, err := env.Update.Endpoints.Apply(details.Endpoints)
	if err != nil {
		return err
	}

	// Every key the batch touched goes through the same validation as at
	// registration, empty relationship sets included.
	for _, tu := range env.Update.Keys {
		k, ok := keys[tu.Key]
		if !ok {
			continue
		}
		checked, err := NewDidKey(k.Public, k.VerRels)
		if err != nil {
			return xerrors.Errorf("key %d: %w", tu.Key, err)
		}
		keys[tu.Key] = checked
	}
	for key, ctrl := range controllers {
		if ctrl.String() != key {
			return xerrors.Errorf("controller entry %s does not match its key", key)
		}
	}
	for eid, se := range endpoints {
		if err := se.Validate(); err != nil {
			return xerrors.Errorf("endpoint %s: %w", eid, err)
		}
	}
	if len(controllers) == 0 {
		return xerrors.Errorf("updating %v: %w", id, ErrWouldOrphan)
	}

	updated := &Details{
		Keys:        keys,
		Controllers: controllers,
		Endpoints:   endpoints,
		LastKeyID:   lastKeyID,
	}
	stored, err := encodeDetails(next, false, updated)
	if err != nil {
		return err
	}
	if err := r.store.Put(bucketDids, id.Bytes(), stored); err != nil {
		return err
	}
	log.Lvl2("updated did", id.String(), "nonce", next)
	return nil
}

// Remove tombstones the record of id. The tombstone is permanent: every
// later action against the DID fails, and the id can never be re-registered.
func (r *Registry) Remove(id Did, env RemoveEnvelope) error {
	current, tombstone, details, err := r.load(id)
	if err != nil {
		return err
	}
	if tombstone {
		return xerrors.Errorf("removing %v: %w", id, ErrTombstoned)
	}

	digest, err := didledger.Canonical(didledger.TagDidRemove, id.Bytes(), env.Nonce, nil)
	if err != nil {
		return err
	}
	signers := r.filterSigners(digest, env.Sigs, id, details)
	if err := authorizeControllers(details, signers); err != nil {
		return err
	}

	next, err := nonce.TryAdvance(current, env.Nonce)
	if err != nil {
		return err
	}

	stored, err := encodeDetails(next, true, nil)
	if err != nil {
		return err
	}
	if err := r.store.Put(bucketDids, id.Bytes(), stored); err != nil {
		return err
	}
	log.Lvl2("removed did", id.String())
	return nil
}

// filterSigners is the first phase of every decision: verify each signature
// over the digest and drop the ones that do not check out. An invalid
// signature is never fatal, it just does not count.
func (r *Registry) filterSigners(digest []byte, sigs []Signature, target Did, targetDetails *Details) []Identity {
	var signers []Identity
	for _, sig := range sigs {
		point, err := r.signerPoint(sig, target, targetDetails)
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

// signerPoint resolves a signer's key, reusing the already-loaded target
// record when the signer is the target itself so the decision is made
// against the pre-update snapshot.
func (r *Registry) signerPoint(sig Signature, target Did, targetDetails *Details) (kyber.Point, error) {
	if sig.Signer.Did != nil && *sig.Signer.Did == target {
		k, err := targetDetails.ControlKey(sig.KeyID)
		if err != nil {
			return nil, err
		}
		return k.Public, nil
	}
	return r.ResolveKey(sig.Signer, sig.KeyID)
}

// authorizeControllers is the second phase: at least one surviving signer
// must be a controller of the record.
func authorizeControllers(details *Details, signers []Identity) error {
	for _, signer := range signers {
		if details.IsController(signer) {
			return nil
		}
	}
	return ErrNotAuthorized
}

// BumpNonce advances a DID's own nonce without touching the rest of its
// record. It backs the verifier mode where a resource action also consumes
// the signer DID's nonce.
func (r *Registry) BumpNonce(id Did, supplied uint64) error {
	current, tombstone, details, err := r.load(id)
	if err != nil {
		return err
	}
	if tombstone {
		return xerrors.Errorf("bumping %v: %w", id, ErrTombstoned)
	}
	next, err := nonce.TryAdvance(current, supplied)
	if err != nil {
		return err
	}
	stored, err := encodeDetails(next, false, details)
	if err != nil {
		return err
	}
	return r.store.Put(bucketDids, id.Bytes(), stored)
}

func (r *Registry) load(id Did) (uint64, bool, *Details, error) {
	buf, err := r.store.Get(bucketDids, id.Bytes())
	if err != nil {
		return 0, false, nil, err
	}
	if buf == nil {
		return 0, false, nil, xerrors.Errorf("loading %v: %w", id, ErrNotFound)
	}
	return decodeDetails(buf)
}

