package accumulator

import (
	"io"
	"sort"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/action"
	"github.com/didledger/didledger/batch"
	"github.com/didledger/didledger/did"
	"github.com/didledger/didledger/nonce"
	"github.com/didledger/didledger/policy"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

var bucketOwners = []byte("accumulator-owners")

// ownerState is the per-owner workspace: published parameter sets and public
// keys under incremental ids. Ids are never reused after removal.
type ownerState struct {
	NextParamsID uint32
	NextKeyID    uint32
	Params       map[uint32]Params
	Keys         map[uint32]PublicKey
}

func (s ownerState) clone() ownerState {
	next := ownerState{
		NextParamsID: s.NextParamsID,
		NextKeyID:    s.NextKeyID,
		Params:       make(map[uint32]Params, len(s.Params)),
		Keys:         make(map[uint32]PublicKey, len(s.Keys)),
	}
	for id, p := range s.Params {
		next.Params[id] = p
	}
	for id, k := range s.Keys {
		next.Keys[id] = k
	}
	return next
}

// idPayload is the canonical byte form of a removal naming one incremental id.
type idPayload uint32

func (p idPayload) EncodeTo(w io.Writer) error {
	return batch.EncodeValue(w, uint32(p))
}

// AddParams publishes a parameter set under the owner, returning its id.
func (m *Module) AddParams(owner did.Identity, env action.Envelope, p Params) (uint32, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	rec, err := m.loadOwner(owner)
	if err != nil {
		return 0, err
	}
	var id uint32
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagAddAccumulatorParams,
		ownerTarget(owner), env, p, func(s ownerState) (ownerState, error) {
			next := s.clone()
			next.NextParamsID++
			id = next.NextParamsID
			next.Params[id] = p
			return next, nil
		})
	if err != nil {
		return 0, err
	}
	return id, m.saveOwner(owner, rec)
}

// RemoveParams removes a published parameter set.
func (m *Module) RemoveParams(owner did.Identity, env action.Envelope, id uint32) error {
	rec, err := m.loadOwner(owner)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagRemoveAccumulatorParams,
		ownerTarget(owner), env, idPayload(id), func(s ownerState) (ownerState, error) {
			if _, ok := s.Params[id]; !ok {
				return s, xerrors.Errorf("params %d: %w", id, action.ErrNotFound)
			}
			next := s.clone()
			delete(next.Params, id)
			return next, nil
		})
	if err != nil {
		return err
	}
	return m.saveOwner(owner, rec)
}

// AddKey publishes an accumulator public key under the owner, returning its
// id. A key referencing parameters requires them to be published first.
func (m *Module) AddKey(owner did.Identity, env action.Envelope, k PublicKey) (uint32, error) {
	if err := k.Validate(); err != nil {
		return 0, err
	}
	rec, err := m.loadOwner(owner)
	if err != nil {
		return 0, err
	}
	var id uint32
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagAddAccumulatorKey,
		ownerTarget(owner), env, k, func(s ownerState) (ownerState, error) {
			if k.ParamsID != 0 {
				if _, ok := s.Params[k.ParamsID]; !ok {
					return s, xerrors.Errorf("key params %d: %w", k.ParamsID, ErrNoSuchParams)
				}
			}
			next := s.clone()
			next.NextKeyID++
			id = next.NextKeyID
			next.Keys[id] = k
			return next, nil
		})
	if err != nil {
		return 0, err
	}
	return id, m.saveOwner(owner, rec)
}

// RemoveKey removes a published public key.
func (m *Module) RemoveKey(owner did.Identity, env action.Envelope, id uint32) error {
	rec, err := m.loadOwner(owner)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagRemoveAccumulatorKey,
		ownerTarget(owner), env, idPayload(id), func(s ownerState) (ownerState, error) {
			if _, ok := s.Keys[id]; !ok {
				return s, xerrors.Errorf("key %d: %w", id, action.ErrNotFound)
			}
			next := s.clone()
			delete(next.Keys, id)
			return next, nil
		})
	if err != nil {
		return err
	}
	return m.saveOwner(owner, rec)
}

// GetParams returns a published parameter set.
func (m *Module) GetParams(owner did.Identity, id uint32) (*Params, error) {
	rec, err := m.loadOwner(owner)
	if err != nil {
		return nil, err
	}
	p, ok := rec.State.Data.Params[id]
	if !ok {
		return nil, xerrors.Errorf("params %d: %w", id, action.ErrNotFound)
	}
	return &p, nil
}

// GetKey returns a published public key.
func (m *Module) GetKey(owner did.Identity, id uint32) (*PublicKey, error) {
	rec, err := m.loadOwner(owner)
	if err != nil {
		return nil, err
	}
	k, ok := rec.State.Data.Keys[id]
	if !ok {
		return nil, xerrors.Errorf("key %d: %w", id, action.ErrNotFound)
	}
	return &k, nil
}

func ownerTarget(owner did.Identity) []byte {
	return []byte(owner.String())
}

// ownerPolicy is the fixed management rule of an owner workspace: the owner
// alone.
func ownerPolicy(owner did.Identity) (policy.Policy, error) {
	return policy.NewAnyOf(owner)
}

// storedParams, storedKey and storedOwner are the reflection-protobuf forms
// of the workspace, with maps flattened into id-sorted slices.
type storedParams struct {
	ID    uint32
	Label []byte
	Curve string
	Bytes []byte
}

type storedKey struct {
	ID       uint32
	Curve    string
	Bytes    []byte
	ParamsID uint32
}

type storedOwner struct {
	Nonce        uint64
	NextParamsID uint32
	NextKeyID    uint32
	Params       []storedParams
	Keys         []storedKey
}

// loadOwner returns the owner's workspace record, an empty one when the
// owner never published anything. The policy is not stored: a workspace is
// always managed by its owner alone.
func (m *Module) loadOwner(owner did.Identity) (*action.Record[ownerState], error) {
	pol, err := ownerPolicy(owner)
	if err != nil {
		return nil, err
	}
	s := ownerState{
		Params: make(map[uint32]Params),
		Keys:   make(map[uint32]PublicKey),
	}
	buf, err := m.store.Get(bucketOwners, ownerTarget(owner))
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return &action.Record[ownerState]{Policy: pol, State: nonce.New(s)}, nil
	}
	var st storedOwner
	if err := protobuf.Decode(buf, &st); err != nil {
		return nil, xerrors.Errorf("decoding owner workspace: %v", err)
	}
	s.NextParamsID = st.NextParamsID
	s.NextKeyID = st.NextKeyID
	for _, p := range st.Params {
		s.Params[p.ID] = Params{Label: p.Label, Curve: p.Curve, Bytes: p.Bytes}
	}
	for _, k := range st.Keys {
		s.Keys[k.ID] = PublicKey{Curve: k.Curve, Bytes: k.Bytes, ParamsID: k.ParamsID}
	}
	return &action.Record[ownerState]{
		Policy: pol,
		State:  nonce.WithNonce[ownerState]{Nonce: st.Nonce, Data: s},
	}, nil
}

func (m *Module) saveOwner(owner did.Identity, rec *action.Record[ownerState]) error {
	st := storedOwner{
		Nonce:        rec.State.Nonce,
		NextParamsID: rec.State.Data.NextParamsID,
		NextKeyID:    rec.State.Data.NextKeyID,
	}
	for id, p := range rec.State.Data.Params {
		st.Params = append(st.Params, storedParams{
			ID: id, Label: p.Label, Curve: p.Curve, Bytes: p.Bytes,
		})
	}
	sort.Slice(st.Params, func(i, j int) bool { return st.Params[i].ID < st.Params[j].ID })
	for id, k := range rec.State.Data.Keys {
		st.Keys = append(st.Keys, storedKey{
			ID: id, Curve: k.Curve, Bytes: k.Bytes, ParamsID: k.ParamsID,
		})
	}
	sort.Slice(st.Keys, func(i, j int) bool { return st.Keys[i].ID < st.Keys[j].ID })

	buf, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	return m.store.Put(bucketOwners, ownerTarget(owner), buf)
}
