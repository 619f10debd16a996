package did

import (
	"sort"

	"github.com/didledger/didledger"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Details is an on-chain identity record: the DID's keys, the identities
// permitted to manage the record, and its advertised service endpoints. The
// record is wrapped with a nonce in storage and mutated only through
// authorized actions targeting the DID.
type Details struct {
	Keys        map[KeyID]DidKey
	Controllers map[string]Identity
	Endpoints   map[string]ServiceEndpoint
	// LastKeyID is the highest key id ever assigned to this record. Fresh
	// keys continue from here, so the id of a removed key is never reused.
	LastKeyID KeyID
}

// NewDetails returns an empty record.
func NewDetails() *Details {
	return &Details{
		Keys:        make(map[KeyID]DidKey),
		Controllers: make(map[string]Identity),
		Endpoints:   make(map[string]ServiceEndpoint),
	}
}

// IsController returns whether the identity may manage this record.
func (d *Details) IsController(id Identity) bool {
	_, ok := d.Controllers[id.String()]
	return ok
}

// ControlKey returns the identified key if it holds CapabilityInvocation.
func (d *Details) ControlKey(id KeyID) (DidKey, error) {
	k, ok := d.Keys[id]
	if !ok {
		return DidKey{}, xerrors.Errorf("no key with id %d", id)
	}
	if !k.CanControl() {
		return DidKey{}, xerrors.Errorf("key %d cannot invoke capabilities", id)
	}
	return k, nil
}

// storedKey, storedEndpoint and storedDetails are the reflection-protobuf
// forms of a record. Maps are flattened into key-sorted slices so the stored
// bytes are deterministic.
type storedKey struct {
	ID      uint32
	Public  []byte
	VerRels uint32
}

type storedEndpoint struct {
	ID      string
	Types   uint32
	Origins []string
}

type storedDetails struct {
	Nonce       uint64
	Tombstone   bool
	Keys        []storedKey
	Controllers [][]byte
	Endpoints   []storedEndpoint
	LastKeyID   uint32
}

func encodeDetails(nonce uint64, tombstone bool, d *Details) ([]byte, error) {
	st := storedDetails{
		Nonce:     nonce,
		Tombstone: tombstone,
	}
	if d != nil {
		st.LastKeyID = uint32(d.LastKeyID)
		for id, k := range d.Keys {
			buf, err := k.Public.MarshalBinary()
			if err != nil {
				return nil, xerrors.Errorf("marshalling key %d: %v", id, err)
			}
			st.Keys = append(st.Keys, storedKey{
				ID:      uint32(id),
				Public:  buf,
				VerRels: uint32(k.VerRels),
			})
		}
		sort.Slice(st.Keys, func(i, j int) bool { return st.Keys[i].ID < st.Keys[j].ID })

		for _, ctrl := range d.Controllers {
			buf, err := marshalIdentity(ctrl)
			if err != nil {
				return nil, err
			}
			st.Controllers = append(st.Controllers, buf)
		}
		sort.Slice(st.Controllers, func(i, j int) bool {
			return string(st.Controllers[i]) < string(st.Controllers[j])
		})

		for id, se := range d.Endpoints {
			st.Endpoints = append(st.Endpoints, storedEndpoint{
				ID:      id,
				Types:   uint32(se.Types),
				Origins: se.Origins,
			})
		}
		sort.Slice(st.Endpoints, func(i, j int) bool { return st.Endpoints[i].ID < st.Endpoints[j].ID })
	}
	return protobuf.Encode(&st)
}

func decodeDetails(buf []byte) (nonce uint64, tombstone bool, d *Details, err error) {
	var st storedDetails
	if err = protobuf.Decode(buf, &st); err != nil {
		return 0, false, nil, xerrors.Errorf("decoding record: %v", err)
	}

	d = NewDetails()
	d.LastKeyID = KeyID(st.LastKeyID)
	for _, sk := range st.Keys {
		point := didledger.Suite.Point()
		if err = point.UnmarshalBinary(sk.Public); err != nil {
			return 0, false, nil, xerrors.Errorf("unmarshalling key %d: %v", sk.ID, err)
		}
		d.Keys[KeyID(sk.ID)] = DidKey{Public: point, VerRels: VerRel(sk.VerRels)}
	}
	for _, raw := range st.Controllers {
		ctrl, cerr := unmarshalIdentity(raw)
		if cerr != nil {
			return 0, false, nil, cerr
		}
		d.Controllers[ctrl.String()] = ctrl
	}
	for _, se := range st.Endpoints {
		d.Endpoints[se.ID] = ServiceEndpoint{
			Types:   EndpointType(se.Types),
			Origins: se.Origins,
		}
	}
	return st.Nonce, st.Tombstone, d, nil
}
