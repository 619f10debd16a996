package accumulator

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/action"
	"github.com/didledger/didledger/did"
	"github.com/didledger/didledger/nonce"
	"github.com/didledger/didledger/state"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

var (
	bucketAccumulators = []byte("accumulators")
	bucketHistory      = []byte("accumulator-history")
)

// Module exposes the accumulator operations over a store.
type Module struct {
	store state.Store
	v     *action.Verifier
}

// NewModule binds the accumulator buckets of store to a verifier.
func NewModule(store state.Store, v *action.Verifier) *Module {
	return &Module{store: store, v: v}
}

// Add creates an accumulator. The creation is itself a signed action
// satisfying the owner's rule, and the referenced public key must already be
// published under the owner.
func (m *Module) Add(id ID, acc Accumulator, env action.Envelope) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	buf, err := m.store.Get(bucketAccumulators, id.Bytes())
	if err != nil {
		return err
	}
	if buf != nil {
		return xerrors.Errorf("accumulator %x: %w", id[:], ErrAlreadyExists)
	}
	if acc.KeyID != 0 {
		if _, err := m.GetKey(acc.Owner, acc.KeyID); err != nil {
			return xerrors.Errorf("accumulator %x: %w", id[:], ErrNoSuchKey)
		}
	}

	pol, err := ownerPolicy(acc.Owner)
	if err != nil {
		return err
	}
	rec := action.NewRecord(pol, acc, 0)
	err = action.AuthorizeAndMutate(m.v, &rec, didledger.TagAddAccumulator,
		id.Bytes(), env, acc, func(a Accumulator) (Accumulator, error) {
			a.Created = env.Nonce
			a.LastUpdated = env.Nonce
			return a, nil
		})
	if err != nil {
		return err
	}
	if err := m.save(id, &rec); err != nil {
		return err
	}
	entry := Update{Accumulated: acc.Accumulated}
	if err := m.appendHistory(id, rec.State.Nonce, entry); err != nil {
		return err
	}
	log.Lvlf2("added accumulator %x", id[:])
	return nil
}

// Update replaces the accumulated value and records the transition in the
// accumulator's history.
func (m *Module) Update(id ID, env action.Envelope, upd Update) error {
	if err := upd.Validate(); err != nil {
		return err
	}
	rec, err := m.load(id)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagUpdateAccumulator,
		id.Bytes(), env, upd, func(a Accumulator) (Accumulator, error) {
			a.Accumulated = upd.Accumulated
			a.LastUpdated = env.Nonce
			return a, nil
		})
	if err != nil {
		return err
	}
	if err := m.save(id, rec); err != nil {
		return err
	}
	return m.appendHistory(id, rec.State.Nonce, upd)
}

// Remove deletes the accumulator and its history.
func (m *Module) Remove(id ID, env action.Envelope) error {
	rec, err := m.load(id)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagRemoveAccumulator,
		id.Bytes(), env, nil, func(a Accumulator) (Accumulator, error) {
			return a, nil
		})
	if err != nil {
		return err
	}
	if err := m.store.Delete(bucketAccumulators, id.Bytes()); err != nil {
		return err
	}
	var stale [][]byte
	err = m.store.ForEach(bucketHistory, func(key, _ []byte) error {
		if bytes.HasPrefix(key, id.Bytes()) {
			stale = append(stale, append([]byte{}, key...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if err := m.store.Delete(bucketHistory, key); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the accumulator and its current nonce.
func (m *Module) Get(id ID) (*Accumulator, uint64, error) {
	rec, err := m.load(id)
	if err != nil {
		return nil, 0, err
	}
	a := rec.State.Data
	return &a, rec.State.Nonce, nil
}

// History returns every recorded transition of the accumulator in order,
// starting with its creation. Witness holders replay it to refresh.
func (m *Module) History(id ID) ([]Update, error) {
	type seqEntry struct {
		seq uint64
		upd Update
	}
	var entries []seqEntry
	err := m.store.ForEach(bucketHistory, func(key, value []byte) error {
		if !bytes.HasPrefix(key, id.Bytes()) {
			return nil
		}
		var st storedUpdate
		if err := protobuf.Decode(value, &st); err != nil {
			return xerrors.Errorf("decoding history entry: %v", err)
		}
		entries = append(entries, seqEntry{
			seq: binary.BigEndian.Uint64(key[len(id):]),
			upd: Update{
				Accumulated: st.Accumulated,
				Additions:   st.Additions,
				Removals:    st.Removals,
				Witness:     st.Witness,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	updates := make([]Update, len(entries))
	for i, e := range entries {
		updates[i] = e.upd
	}
	return updates, nil
}

// storedAccumulator is the reflection-protobuf form of a record. The policy
// is not stored: an accumulator is always managed by its owner alone.
type storedAccumulator struct {
	Nonce       uint64
	Type        uint32
	Accumulated []byte
	MaxSize     uint64
	Owner       string
	KeyID       uint32
	Created     uint64
	LastUpdated uint64
}

type storedUpdate struct {
	Accumulated []byte
	Additions   [][]byte
	Removals    [][]byte
	Witness     []byte
}

func (m *Module) load(id ID) (*action.Record[Accumulator], error) {
	buf, err := m.store.Get(bucketAccumulators, id.Bytes())
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, xerrors.Errorf("accumulator %x: %w", id[:], action.ErrNotFound)
	}
	var st storedAccumulator
	if err := protobuf.Decode(buf, &st); err != nil {
		return nil, xerrors.Errorf("decoding accumulator: %v", err)
	}
	owner, err := did.ParseIdentity(st.Owner)
	if err != nil {
		return nil, err
	}
	pol, err := ownerPolicy(owner)
	if err != nil {
		return nil, err
	}
	acc := Accumulator{
		Type:        Type(st.Type),
		Accumulated: st.Accumulated,
		MaxSize:     st.MaxSize,
		Owner:       owner,
		KeyID:       st.KeyID,
		Created:     st.Created,
		LastUpdated: st.LastUpdated,
	}
	return &action.Record[Accumulator]{
		Policy: pol,
		State:  nonce.WithNonce[Accumulator]{Nonce: st.Nonce, Data: acc},
	}, nil
}

func (m *Module) save(id ID, rec *action.Record[Accumulator]) error {
	a := rec.State.Data
	st := storedAccumulator{
		Nonce:       rec.State.Nonce,
		Type:        uint32(a.Type),
		Accumulated: a.Accumulated,
		MaxSize:     a.MaxSize,
		Owner:       a.Owner.String(),
		KeyID:       a.KeyID,
		Created:     a.Created,
		LastUpdated: a.LastUpdated,
	}
	buf, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	return m.store.Put(bucketAccumulators, id.Bytes(), buf)
}

func (m *Module) appendHistory(id ID, seq uint64, upd Update) error {
	key := make([]byte, len(id)+8)
	copy(key, id.Bytes())
	binary.BigEndian.PutUint64(key[len(id):], seq)
	st := storedUpdate{
		Accumulated: upd.Accumulated,
		Additions:   upd.Additions,
		Removals:    upd.Removals,
		Witness:     upd.Witness,
	}
	buf, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	return m.store.Put(bucketHistory, key, buf)
}
