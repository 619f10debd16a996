// Package offchainsigs publishes parameter sets for offchain signature
// schemes (BBS, BBS+, PS). Issuers anchor the parameters their credentials
// are signed against under their own identity with incremental ids; the
// chain stores them as opaque bytes and only the owner may add or remove
// them.
package offchainsigs

import (
	"io"
	"sort"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/action"
	"github.com/didledger/didledger/batch"
	"github.com/didledger/didledger/did"
	"github.com/didledger/didledger/nonce"
	"github.com/didledger/didledger/policy"
	"github.com/didledger/didledger/state"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

var bucketParams = []byte("offchain-params")

// Storage bounds, matching the published network limits.
const (
	MaxLabelSize = 128
	MaxBytesSize = 65536
)

// ErrTooLarge - a field exceeds its storage bound.
var ErrTooLarge = xerrors.New("value exceeds its size bound")

// Scheme is the signature scheme a parameter set belongs to.
type Scheme byte

const (
	// SchemeBBS - BBS signatures.
	SchemeBBS Scheme = iota + 1
	// SchemeBBSPlus - BBS+ signatures.
	SchemeBBSPlus
	// SchemePS - Pointcheval-Sanders signatures.
	SchemePS
)

func (s Scheme) String() string {
	switch s {
	case SchemeBBS:
		return "BBS"
	case SchemeBBSPlus:
		return "BBS+"
	case SchemePS:
		return "PS"
	default:
		return "unknown"
	}
}

// Params is one published parameter set.
type Params struct {
	Scheme Scheme
	// Label is the generating string the params were derived from, if any.
	Label []byte
	Curve string
	Bytes []byte
}

func (p Params) Validate() error {
	switch p.Scheme {
	case SchemeBBS, SchemeBBSPlus, SchemePS:
	default:
		return xerrors.New("unknown signature scheme")
	}
	if len(p.Label) > MaxLabelSize {
		return xerrors.Errorf("label: %w", ErrTooLarge)
	}
	if len(p.Bytes) == 0 || len(p.Bytes) > MaxBytesSize {
		return xerrors.Errorf("params: %w", ErrTooLarge)
	}
	return nil
}

func (p Params) EncodeTo(w io.Writer) error {
	if _, err := w.Write([]byte{byte(p.Scheme)}); err != nil {
		return err
	}
	if err := batch.EncodeValue(w, p.Label); err != nil {
		return err
	}
	if err := batch.EncodeValue(w, p.Curve); err != nil {
		return err
	}
	return batch.EncodeValue(w, p.Bytes)
}

type idPayload uint32

func (p idPayload) EncodeTo(w io.Writer) error {
	return batch.EncodeValue(w, uint32(p))
}

// ownerParams is the per-owner collection. Ids are incremental and never
// reused.
type ownerParams struct {
	NextID uint32
	Params map[uint32]Params
}

func (s ownerParams) clone() ownerParams {
	next := ownerParams{
		NextID: s.NextID,
		Params: make(map[uint32]Params, len(s.Params)),
	}
	for id, p := range s.Params {
		next.Params[id] = p
	}
	return next
}

// Module exposes the offchain signature parameter operations over a store.
type Module struct {
	store state.Store
	v     *action.Verifier
}

// NewModule binds the parameter bucket of store to a verifier.
func NewModule(store state.Store, v *action.Verifier) *Module {
	return &Module{store: store, v: v}
}

// AddParams publishes a parameter set under the owner, returning its id.
func (m *Module) AddParams(owner did.Identity, env action.Envelope, p Params) (uint32, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	rec, err := m.load(owner)
	if err != nil {
		return 0, err
	}
	var id uint32
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagAddSignatureParams,
		ownerTarget(owner), env, p, func(s ownerParams) (ownerParams, error) {
			next := s.clone()
			next.NextID++
			id = next.NextID
			next.Params[id] = p
			return next, nil
		})
	if err != nil {
		return 0, err
	}
	return id, m.save(owner, rec)
}

// RemoveParams removes a published parameter set.
func (m *Module) RemoveParams(owner did.Identity, env action.Envelope, id uint32) error {
	rec, err := m.load(owner)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagRemoveSignatureParams,
		ownerTarget(owner), env, idPayload(id), func(s ownerParams) (ownerParams, error) {
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
	return m.save(owner, rec)
}

// GetParams returns a published parameter set.
func (m *Module) GetParams(owner did.Identity, id uint32) (*Params, error) {
	rec, err := m.load(owner)
	if err != nil {
		return nil, err
	}
	p, ok := rec.State.Data.Params[id]
	if !ok {
		return nil, xerrors.Errorf("params %d: %w", id, action.ErrNotFound)
	}
	return &p, nil
}

// ListParams returns every parameter set of the owner, ordered by id.
func (m *Module) ListParams(owner did.Identity) (map[uint32]Params, error) {
	rec, err := m.load(owner)
	if err != nil {
		return nil, err
	}
	return rec.State.Data.Params, nil
}

func ownerTarget(owner did.Identity) []byte {
	return []byte(owner.String())
}

type storedParams struct {
	ID     uint32
	Scheme uint32
	Label  []byte
	Curve  string
	Bytes  []byte
}

type storedOwner struct {
	Nonce  uint64
	NextID uint32
	Params []storedParams
}

// load returns the owner's collection, an empty one when the owner never
// published anything. The policy is fixed: the owner alone.
func (m *Module) load(owner did.Identity) (*action.Record[ownerParams], error) {
	pol, err := policy.NewAnyOf(owner)
	if err != nil {
		return nil, err
	}
	s := ownerParams{Params: make(map[uint32]Params)}
	buf, err := m.store.Get(bucketParams, ownerTarget(owner))
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return &action.Record[ownerParams]{Policy: pol, State: nonce.New(s)}, nil
	}
	var st storedOwner
	if err := protobuf.Decode(buf, &st); err != nil {
		return nil, xerrors.Errorf("decoding params collection: %v", err)
	}
	s.NextID = st.NextID
	for _, p := range st.Params {
		s.Params[p.ID] = Params{
			Scheme: Scheme(p.Scheme),
			Label:  p.Label,
			Curve:  p.Curve,
			Bytes:  p.Bytes,
		}
	}
	return &action.Record[ownerParams]{
		Policy: pol,
		State:  nonce.WithNonce[ownerParams]{Nonce: st.Nonce, Data: s},
	}, nil
}

func (m *Module) save(owner did.Identity, rec *action.Record[ownerParams]) error {
	st := storedOwner{
		Nonce:  rec.State.Nonce,
		NextID: rec.State.Data.NextID,
	}
	for id, p := range rec.State.Data.Params {
		st.Params = append(st.Params, storedParams{
			ID:     id,
			Scheme: uint32(p.Scheme),
			Label:  p.Label,
			Curve:  p.Curve,
			Bytes:  p.Bytes,
		})
	}
	sort.Slice(st.Params, func(i, j int) bool { return st.Params[i].ID < st.Params[j].ID })
	buf, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	return m.store.Put(bucketParams, ownerTarget(owner), buf)
}
