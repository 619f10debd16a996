// Package policy implements the authorization predicate guarding every
// controllable resource: a non-empty set of identities plus a quorum rule.
// The evaluator only ever sees signers that already survived signature
// verification; deciding whether they satisfy the policy is a pure set
// computation.
package policy

import (
	"io"
	"sort"

	"github.com/didledger/didledger/did"
	"golang.org/x/xerrors"
)

// Rule is the quorum requirement of a policy.
type Rule byte

const (
	// AnyOf accepts an action signed by at least one member.
	AnyOf Rule = iota + 1
	// AllOf accepts an action only when every member signed. Reserved for
	// governance-sensitive resources.
	AllOf
)

func (r Rule) String() string {
	switch r {
	case AnyOf:
		return "any-of"
	case AllOf:
		return "all-of"
	default:
		return "unknown"
	}
}

// Errors of the evaluator.
var (
	// ErrEmpty - a policy must name at least one member.
	ErrEmpty = xerrors.New("policy without members")
	// ErrNotAuthorized - the signer set does not satisfy the quorum.
	ErrNotAuthorized = xerrors.New("policy not satisfied")
)

// Policy is the control requirement attached to a resource.
type Policy struct {
	Rule    Rule
	Members []did.Identity
}

// NewAnyOf builds an any-one-of-the-set policy.
func NewAnyOf(members ...did.Identity) (Policy, error) {
	return newPolicy(AnyOf, members)
}

// NewAllOf builds an all-of-the-set policy.
func NewAllOf(members ...did.Identity) (Policy, error) {
	return newPolicy(AllOf, members)
}

func newPolicy(rule Rule, members []did.Identity) (Policy, error) {
	p := Policy{Rule: rule, Members: dedupe(members)}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate refuses empty or malformed policies.
func (p Policy) Validate() error {
	if len(p.Members) == 0 {
		return ErrEmpty
	}
	if p.Rule != AnyOf && p.Rule != AllOf {
		return xerrors.Errorf("unknown rule %d", p.Rule)
	}
	return nil
}

// Len returns the member count.
func (p Policy) Len() int {
	return len(p.Members)
}

// Contains returns whether the identity is a member.
func (p Policy) Contains(id did.Identity) bool {
	for _, m := range p.Members {
		if m.Equal(id) {
			return true
		}
	}
	return false
}

// Authorize decides whether the signer set satisfies the policy. A signer
// appearing several times counts once. AnyOf needs a non-empty intersection
// with the members; AllOf needs every member among the signers.
func (p Policy) Authorize(signers []did.Identity) error {
	if err := p.Validate(); err != nil {
		return err
	}

	set := make(map[string]struct{}, len(signers))
	for _, s := range signers {
		set[s.String()] = struct{}{}
	}

	switch p.Rule {
	case AnyOf:
		for _, m := range p.Members {
			if _, ok := set[m.String()]; ok {
				return nil
			}
		}
	case AllOf:
		missing := 0
		for _, m := range p.Members {
			if _, ok := set[m.String()]; !ok {
				missing++
			}
		}
		if missing == 0 {
			return nil
		}
	}
	return ErrNotAuthorized
}

// EncodeTo writes the deterministic byte form of the policy: the rule
// followed by the members sorted by their string form.
func (p Policy) EncodeTo(w io.Writer) error {
	if _, err := w.Write([]byte{byte(p.Rule)}); err != nil {
		return err
	}
	members := append([]did.Identity{}, p.Members...)
	sort.Slice(members, func(i, j int) bool {
		return members[i].String() < members[j].String()
	})
	for _, m := range members {
		if err := m.EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(members []did.Identity) []did.Identity {
	seen := make(map[string]struct{}, len(members))
	out := make([]did.Identity, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.String()]; ok {
			continue
		}
		seen[m.String()] = struct{}{}
		out = append(out, m)
	}
	return out
}
