package trustregistry

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
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

var bucketRegistries = []byte("trust-registries")

// SchemaUpdates is the batched schema-metadata mutation of one registry.
type SchemaUpdates = batch.MultiTargetUpdate[SchemaID, SchemaMetadata]

// infoPayload is the canonical byte form of a registry init or info update.
type infoPayload struct {
	name         string
	govFramework []byte
}

func (p infoPayload) EncodeTo(w io.Writer) error {
	if err := batch.EncodeValue(w, p.name); err != nil {
		return err
	}
	return batch.EncodeValue(w, p.govFramework)
}

// schemasPayload wraps a SchemaUpdates batch as an action payload.
type schemasPayload struct {
	updates SchemaUpdates
}

func (p schemasPayload) EncodeTo(w io.Writer) error {
	return p.updates.EncodeTo(w)
}

// Module exposes the trust registry operations over a store.
type Module struct {
	store state.Store
	v     *action.Verifier
}

// NewModule binds the trust registry bucket of store to a verifier.
func NewModule(store state.Store, v *action.Verifier) *Module {
	return &Module{store: store, v: v}
}

// InitOrUpdate creates a trust registry or, when it already exists under the
// same convener, updates its name and governance framework. A different
// convener is rejected: registry ids are claimed for good by their first
// convener.
func (m *Module) InitOrUpdate(id ID, convener did.Identity, env action.Envelope,
	name string, govFramework []byte) error {

	info := Registry{Convener: convener, Name: name, GovFramework: govFramework}
	if err := info.validateInfo(); err != nil {
		return err
	}

	rec, err := m.load(id)
	if err != nil && !xerrors.Is(err, action.ErrNotFound) {
		return err
	}
	if rec == nil {
		pol, err := policy.NewAnyOf(convener)
		if err != nil {
			return err
		}
		fresh := action.NewRecord(pol, Registry{
			Convener: convener,
			Schemas:  make(map[SchemaID]SchemaMetadata),
		}, 0)
		rec = &fresh
		log.Lvlf2("new trust registry %x", id[:])
	} else if !rec.State.Data.Convener.Equal(convener) {
		return xerrors.Errorf("registry %x: %w", id[:], ErrNotConvener)
	}

	payload := infoPayload{name: name, govFramework: govFramework}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagInitTrustRegistry,
		id.Bytes(), env, payload, func(r Registry) (Registry, error) {
			next := r.clone()
			next.Name = name
			next.GovFramework = govFramework
			return next, nil
		})
	if err != nil {
		return err
	}
	return m.save(id, rec)
}

// SetSchemaMetadata applies a batch of schema-metadata updates to the
// registry. The batch is atomic: every update is validated against the
// pre-batch state and any failure rejects the whole action.
func (m *Module) SetSchemaMetadata(id ID, env action.Envelope, updates SchemaUpdates) error {
	rec, err := m.load(id)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagSetSchemaMetadata,
		id.Bytes(), env, schemasPayload{updates: updates},
		func(r Registry) (Registry, error) {
			schemas, err := updates.ApplyWithCapacity(r.Schemas, MaxSchemasPerRegistry)
			if err != nil {
				return r, err
			}
			for _, key := range updates.Keys() {
				md, ok := schemas[key]
				if !ok {
					continue
				}
				if err := md.Validate(); err != nil {
					return r, xerrors.Errorf("schema %v: %w", key, err)
				}
			}
			next := r.clone()
			next.Schemas = schemas
			return next, nil
		})
	if err != nil {
		return err
	}
	return m.save(id, rec)
}

// Get returns the registry and its current nonce.
func (m *Module) Get(id ID) (*Registry, uint64, error) {
	rec, err := m.load(id)
	if err != nil {
		return nil, 0, err
	}
	r := rec.State.Data.clone()
	return &r, rec.State.Nonce, nil
}

// GetSchema returns the metadata of one schema in the registry.
func (m *Module) GetSchema(id ID, schema SchemaID) (*SchemaMetadata, error) {
	rec, err := m.load(id)
	if err != nil {
		return nil, err
	}
	md, ok := rec.State.Data.Schemas[schema]
	if !ok {
		return nil, xerrors.Errorf("schema %v: %w", schema, action.ErrNotFound)
	}
	md = md.clone()
	return &md, nil
}

// storedPrice, storedIssuer, storedSchema and storedRegistry are the
// reflection-protobuf forms, with every map flattened into a sorted slice.
// The policy is not stored: a registry is always managed by its convener.
type storedPrice struct {
	Symbol string
	Amount uint64
}

type storedIssuer struct {
	Identity string
	Prices   []storedPrice
}

type storedSchema struct {
	ID        []byte
	Issuers   []storedIssuer
	Verifiers []string
}

type storedRegistry struct {
	Nonce        uint64
	Convener     string
	Name         string
	GovFramework []byte
	Schemas      []storedSchema
}

func (m *Module) load(id ID) (*action.Record[Registry], error) {
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
	convener, err := did.ParseIdentity(st.Convener)
	if err != nil {
		return nil, err
	}
	pol, err := policy.NewAnyOf(convener)
	if err != nil {
		return nil, err
	}
	r := Registry{
		Convener:     convener,
		Name:         st.Name,
		GovFramework: st.GovFramework,
		Schemas:      make(map[SchemaID]SchemaMetadata, len(st.Schemas)),
	}
	for _, ss := range st.Schemas {
		if len(ss.ID) != len(SchemaID{}) {
			return nil, xerrors.New("malformed schema id in store")
		}
		var sid SchemaID
		copy(sid[:], ss.ID)
		md := SchemaMetadata{
			Issuers:   make(map[string]Prices, len(ss.Issuers)),
			Verifiers: make(map[string]struct{}, len(ss.Verifiers)),
		}
		for _, si := range ss.Issuers {
			prices := make(Prices, len(si.Prices))
			for _, sp := range si.Prices {
				prices[sp.Symbol] = sp.Amount
			}
			md.Issuers[si.Identity] = prices
		}
		for _, verifier := range ss.Verifiers {
			md.Verifiers[verifier] = struct{}{}
		}
		r.Schemas[sid] = md
	}
	return &action.Record[Registry]{
		Policy: pol,
		State:  nonce.WithNonce[Registry]{Nonce: st.Nonce, Data: r},
	}, nil
}

func (m *Module) save(id ID, rec *action.Record[Registry]) error {
	r := rec.State.Data
	st := storedRegistry{
		Nonce:        rec.State.Nonce,
		Convener:     r.Convener.String(),
		Name:         r.Name,
		GovFramework: r.GovFramework,
	}
	for sid, md := range r.Schemas {
		ss := storedSchema{ID: append([]byte{}, sid[:]...)}
		for issuer, prices := range md.Issuers {
			si := storedIssuer{Identity: issuer}
			for sym, amount := range prices {
				si.Prices = append(si.Prices, storedPrice{Symbol: sym, Amount: amount})
			}
			sort.Slice(si.Prices, func(i, j int) bool {
				return si.Prices[i].Symbol < si.Prices[j].Symbol
			})
			ss.Issuers = append(ss.Issuers, si)
		}
		sort.Slice(ss.Issuers, func(i, j int) bool {
			return ss.Issuers[i].Identity < ss.Issuers[j].Identity
		})
		for verifier := range md.Verifiers {
			ss.Verifiers = append(ss.Verifiers, verifier)
		}
		sort.Strings(ss.Verifiers)
		st.Schemas = append(st.Schemas, ss)
	}
	sort.Slice(st.Schemas, func(i, j int) bool {
		return string(st.Schemas[i].ID) < string(st.Schemas[j].ID)
	})

	buf, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	return m.store.Put(bucketRegistries, id.Bytes(), buf)
}
