// Package statuslist stores status-list credentials: verifiable credentials
// that encapsulate a revocation or suspension bitstring for a whole batch of
// issued credentials. The chain treats the credential as opaque bytes within
// size bounds; updating and removing one is guarded by its policy.
package statuslist

import (
	"io"

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

var bucketCredentials = []byte("status-list-credentials")

// Size bounds of a stored credential, matching the published network limits.
const (
	MinCredentialSize = 500
	MaxCredentialSize = 40000
)

var (
	// ErrAlreadyExists - creation of a taken credential id.
	ErrAlreadyExists = xerrors.New("status list credential already exists")
	// ErrTooSmall - the credential is below the minimum stored size.
	ErrTooSmall = xerrors.New("status list credential too small")
	// ErrTooLarge - the credential exceeds the maximum stored size.
	ErrTooLarge = xerrors.New("status list credential too large")
)

// ID names a status-list credential.
type ID [32]byte

func (id ID) Bytes() []byte {
	return id[:]
}

// Kind is the W3C credential flavour held in the record.
type Kind byte

const (
	// RevocationList2020 - a RevocationList2020Credential.
	RevocationList2020 Kind = iota + 1
	// StatusList2021 - a StatusList2021Credential.
	StatusList2021
)

// Credential is one stored status-list credential.
type Credential struct {
	Kind  Kind
	Bytes []byte
}

func (c Credential) Validate() error {
	switch c.Kind {
	case RevocationList2020, StatusList2021:
	default:
		return xerrors.New("unknown status list credential kind")
	}
	if len(c.Bytes) < MinCredentialSize {
		return ErrTooSmall
	}
	if len(c.Bytes) > MaxCredentialSize {
		return ErrTooLarge
	}
	return nil
}

func (c Credential) EncodeTo(w io.Writer) error {
	if _, err := w.Write([]byte{byte(c.Kind)}); err != nil {
		return err
	}
	return batch.EncodeValue(w, c.Bytes)
}

// Module exposes the status-list operations over a store.
type Module struct {
	store state.Store
	v     *action.Verifier
}

// NewModule binds the credential bucket of store to a verifier.
func NewModule(store state.Store, v *action.Verifier) *Module {
	return &Module{store: store, v: v}
}

// Create stores a fresh credential under the given policy. Creation is
// unsigned: there is no policy to satisfy before one exists.
func (m *Module) Create(id ID, cred Credential, pol policy.Policy) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	if err := pol.Validate(); err != nil {
		return err
	}
	buf, err := m.store.Get(bucketCredentials, id.Bytes())
	if err != nil {
		return err
	}
	if buf != nil {
		return xerrors.Errorf("creating credential: %w", ErrAlreadyExists)
	}
	rec := action.NewRecord(pol, cred, 0)
	log.Lvlf2("new status list credential %x", id[:])
	return m.save(id, &rec)
}

// Update replaces the credential bytes.
func (m *Module) Update(id ID, env action.Envelope, cred Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	rec, err := m.load(id)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagUpdateStatusList,
		id.Bytes(), env, cred, func(Credential) (Credential, error) {
			return cred, nil
		})
	if err != nil {
		return err
	}
	return m.save(id, rec)
}

// Remove deletes the credential.
func (m *Module) Remove(id ID, env action.Envelope) error {
	rec, err := m.load(id)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagRemoveStatusList,
		id.Bytes(), env, nil, func(c Credential) (Credential, error) {
			return c, nil
		})
	if err != nil {
		return err
	}
	return m.store.Delete(bucketCredentials, id.Bytes())
}

// Get returns the credential and its current nonce.
func (m *Module) Get(id ID) (*Credential, uint64, error) {
	rec, err := m.load(id)
	if err != nil {
		return nil, 0, err
	}
	c := rec.State.Data
	return &c, rec.State.Nonce, nil
}

type storedCredential struct {
	Policy []byte
	Nonce  uint64
	Kind   uint32
	Bytes  []byte
}

func (m *Module) load(id ID) (*action.Record[Credential], error) {
	buf, err := m.store.Get(bucketCredentials, id.Bytes())
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, xerrors.Errorf("credential %x: %w", id[:], action.ErrNotFound)
	}
	var st storedCredential
	if err := protobuf.Decode(buf, &st); err != nil {
		return nil, xerrors.Errorf("decoding credential: %v", err)
	}
	pol, err := policy.Unmarshal(st.Policy)
	if err != nil {
		return nil, err
	}
	return &action.Record[Credential]{
		Policy: pol,
		State: nonce.WithNonce[Credential]{
			Nonce: st.Nonce,
			Data:  Credential{Kind: Kind(st.Kind), Bytes: st.Bytes},
		},
	}, nil
}

func (m *Module) save(id ID, rec *action.Record[Credential]) error {
	polBuf, err := rec.Policy.Marshal()
	if err != nil {
		return err
	}
	st := storedCredential{
		Policy: polBuf,
		Nonce:  rec.State.Nonce,
		Kind:   uint32(rec.State.Data.Kind),
		Bytes:  rec.State.Data.Bytes,
	}
	buf, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	return m.store.Put(bucketCredentials, id.Bytes(), buf)
}
