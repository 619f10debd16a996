package policy

import (
	"sort"

	"github.com/didledger/didledger/did"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// storedPolicy is the reflection-protobuf form of a policy. Members are
// their string identities, sorted, so the stored bytes are deterministic.
type storedPolicy struct {
	Rule    uint32
	Members []string
}

// Marshal returns the stored byte form of the policy.
func (p Policy) Marshal() ([]byte, error) {
	st := storedPolicy{Rule: uint32(p.Rule)}
	for _, m := range p.Members {
		st.Members = append(st.Members, m.String())
	}
	sort.Strings(st.Members)
	return protobuf.Encode(&st)
}

// Unmarshal decodes a policy from its stored byte form.
func Unmarshal(buf []byte) (Policy, error) {
	var st storedPolicy
	if err := protobuf.Decode(buf, &st); err != nil {
		return Policy{}, xerrors.Errorf("decoding policy: %v", err)
	}
	p := Policy{Rule: Rule(st.Rule)}
	for _, s := range st.Members {
		m, err := did.ParseIdentity(s)
		if err != nil {
			return Policy{}, err
		}
		p.Members = append(p.Members, m)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
