// Package revocation implements credential revocation registries. A registry
// is a named set of revoked credential ids guarded by a policy; revoking and
// unrevoking are idempotent batched set mutations, and a registry created as
// add-only accepts revocations forever but never an unrevocation or its own
// removal.
package revocation

import (
	"io"
	"sort"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/action"
	"github.com/didledger/didledger/batch"
	"github.com/didledger/didledger/nonce"
	"github.com/didledger/didledger/policy"
	"github.com/didledger/didledger/state"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

var bucketRegistries = []byte("revocation-registries")

var (
	// ErrAlreadyExists - creation of a taken registry id.
	ErrAlreadyExists = xerrors.New("registry already exists")
	// ErrAddOnly - the registry does not allow unrevocation or removal.
	ErrAddOnly = xerrors.New("registry is add-only")
)

// RegistryID names a revocation registry.
type RegistryID [32]byte

func (id RegistryID) Bytes() []byte {
	return id[:]
}

// RevokeID names one revocable credential within a registry.
type RevokeID [32]byte

func (id RevokeID) EncodeTo(w io.Writer) error {
	_, err := w.Write(id[:])
	return err
}

// Registry is the domain state of one revocation registry.
type Registry struct {
	AddOnly bool
	Revoked map[RevokeID]struct{}
	// Count mirrors len(Revoked); it is maintained incrementally so a
	// reader never pays for a full scan.
	Count uint64
}

// idsPayload is the canonical byte form of a batch of revoke ids: the count
// followed by the ids in sorted order, so the signed bytes do not depend on
// the submission order.
type idsPayload []RevokeID

func (p idsPayload) EncodeTo(w io.Writer) error {
	sorted := make([]RevokeID, len(p))
	copy(sorted, p)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i][:]) < string(sorted[j][:])
	})
	if err := batch.EncodeValue(w, uint32(len(sorted))); err != nil {
		return err
	}
	for _, id := range sorted {
		if err := id.EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}

// Module exposes the revocation operations over a store.
type Module struct {
	store state.Store
	v     *action.Verifier
}

// NewModule binds the revocation bucket of store to a verifier.
func NewModule(store state.Store, v *action.Verifier) *Module {
	return &Module{store: store, v: v}
}

// NewRegistry creates an empty revocation registry under the given policy.
// Creation is unsigned: there is no policy to satisfy before one exists.
func (m *Module) NewRegistry(id RegistryID, pol policy.Policy, addOnly bool) error {
	if err := pol.Validate(); err != nil {
		return err
	}
	buf, err := m.store.Get(bucketRegistries, id.Bytes())
	if err != nil {
		return err
	}
	if buf != nil {
		return xerrors.Errorf("creating registry: %w", ErrAlreadyExists)
	}
	rec := action.NewRecord(pol, Registry{
		AddOnly: addOnly,
		Revoked: make(map[RevokeID]struct{}),
	}, 0)
	log.Lvlf2("new revocation registry %x", id[:])
	return m.save(id, &rec)
}

// Revoke marks the given credential ids revoked. Revoking an id that is
// already revoked is allowed and has no effect.
func (m *Module) Revoke(id RegistryID, env action.Envelope, ids []RevokeID) error {
	rec, err := m.load(id)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagRevoke, id.Bytes(),
		env, idsPayload(ids), func(r Registry) (Registry, error) {
			next := cloneRegistry(r)
			for _, rid := range ids {
				if _, ok := next.Revoked[rid]; ok {
					continue
				}
				next.Revoked[rid] = struct{}{}
				next.Count = *batch.Inc.Apply(&next.Count)
			}
			return next, nil
		})
	if err != nil {
		return err
	}
	return m.save(id, rec)
}

// Unrevoke clears the given credential ids. Unrevoking an id that is not
// revoked is allowed and has no effect. Add-only registries reject it.
func (m *Module) Unrevoke(id RegistryID, env action.Envelope, ids []RevokeID) error {
	rec, err := m.load(id)
	if err != nil {
		return err
	}
	if rec.State.Data.AddOnly {
		return xerrors.Errorf("unrevoking: %w", ErrAddOnly)
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagUnrevoke, id.Bytes(),
		env, idsPayload(ids), func(r Registry) (Registry, error) {
			next := cloneRegistry(r)
			for _, rid := range ids {
				if _, ok := next.Revoked[rid]; !ok {
					continue
				}
				delete(next.Revoked, rid)
				if err := batch.Dec.Validate(&next.Count); err != nil {
					return r, err
				}
				next.Count = *batch.Dec.Apply(&next.Count)
			}
			return next, nil
		})
	if err != nil {
		return err
	}
	return m.save(id, rec)
}

// RemoveRegistry deletes the registry and every revocation in it. Add-only
// registries reject removal.
func (m *Module) RemoveRegistry(id RegistryID, env action.Envelope) error {
	rec, err := m.load(id)
	if err != nil {
		return err
	}
	if rec.State.Data.AddOnly {
		return xerrors.Errorf("removing registry: %w", ErrAddOnly)
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagRemoveRegistry,
		id.Bytes(), env, nil, func(r Registry) (Registry, error) {
			return r, nil
		})
	if err != nil {
		return err
	}
	return m.store.Delete(bucketRegistries, id.Bytes())
}

// Get returns the registry's domain state and its current nonce.
func (m *Module) Get(id RegistryID) (*Registry, uint64, error) {
	rec, err := m.load(id)
	if err != nil {
		return nil, 0, err
	}
	r := cloneRegistry(rec.State.Data)
	return &r, rec.State.Nonce, nil
}

// IsRevoked reports whether the credential id is revoked in the registry.
func (m *Module) IsRevoked(id RegistryID, rid RevokeID) (bool, error) {
	rec, err := m.load(id)
	if err != nil {
		return false, err
	}
	_, ok := rec.State.Data.Revoked[rid]
	return ok, nil
}

func cloneRegistry(r Registry) Registry {
	next := Registry{
		AddOnly: r.AddOnly,
		Revoked: make(map[RevokeID]struct{}, len(r.Revoked)),
		Count:   r.Count,
	}
	for rid := range r.Revoked {
		next.Revoked[rid] = struct{}{}
	}
	return next
}

// storedRegistry is the reflection-protobuf form of a registry record.
// The revoked set is flattened into a sorted slice.
type storedRegistry struct {
	Policy  []byte
	Nonce   uint64
	AddOnly bool
	Revoked [][]byte
	Count   uint64
}

func (m *Module) load(id RegistryID) (*action.Record[Registry], error) {
	buf, err := m.store.Get(bucketRegistries, id.Bytes())
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, xerrors.Errorf("registry %x: %w", id[:], action.ErrNotFound)
	}
	var st storedRegistry
	if err := protobuf.Decode(buf, &st); err != nil {
		return nil, xerrors.Errorf("decoding registry: %v", err)
	}
	pol, err := policy.Unmarshal(st.Policy)
	if err != nil {
		return nil, err
	}
	r := Registry{
		AddOnly: st.AddOnly,
		Revoked: make(map[RevokeID]struct{}, len(st.Revoked)),
		Count:   st.Count,
	}
	for _, raw := range st.Revoked {
		if len(raw) != len(RevokeID{}) {
			return nil, xerrors.New("malformed revoke id in store")
		}
		var rid RevokeID
		copy(rid[:], raw)
		r.Revoked[rid] = struct{}{}
	}
	return &action.Record[Registry]{
		Policy: pol,
		State:  nonce.WithNonce[Registry]{Nonce: st.Nonce, Data: r},
	}, nil
}

func (m *Module) save(id RegistryID, rec *action.Record[Registry]) error {
	polBuf, err := rec.Policy.Marshal()
	if err != nil {
		return err
	}
	st := storedRegistry{
		Policy:  polBuf,
		Nonce:   rec.State.Nonce,
		AddOnly: rec.State.Data.AddOnly,
		Count:   rec.State.Data.Count,
	}
	for rid := range rec.State.Data.Revoked {
		st.Revoked = append(st.Revoked, append([]byte{}, rid[:]...))
	}
	sort.Slice(st.Revoked, func(i, j int) bool {
		return string(st.Revoked[i]) < string(st.Revoked[j])
	})
	buf, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	return m.store.Put(bucketRegistries, id.Bytes(), buf)
}
