package policy

import (
	"bytes"
	"testing"

	"github.com/didledger/didledger/did"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func identities(n int) []did.Identity {
	out := make([]did.Identity, n)
	for i := range out {
		out[i] = did.NewKeypair().MethodKey()
	}
	return out
}

func TestNewPolicy(t *testing.T) {
	_, err := NewAnyOf()
	require.True(t, xerrors.Is(err, ErrEmpty))

	members := identities(2)
	p, err := NewAnyOf(members...)
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())
	require.True(t, p.Contains(members[0]))

	// duplicates collapse
	p, err = NewAllOf(members[0], members[0], members[1])
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())
}

func TestAuthorize_AnyOf(t *testing.T) {
	members := identities(3)
	p, err := NewAnyOf(members...)
	require.NoError(t, err)

	require.NoError(t, p.Authorize([]did.Identity{members[1]}))

	// foreign signers never help
	foreign := identities(5)
	err = p.Authorize(foreign)
	require.True(t, xerrors.Is(err, ErrNotAuthorized))

	// no signers at all
	err = p.Authorize(nil)
	require.True(t, xerrors.Is(err, ErrNotAuthorized))

	// a single member among noise is enough
	require.NoError(t, p.Authorize(append(foreign, members[2])))
}

func TestAuthorize_AllOf(t *testing.T) {
	members := identities(3)
	p, err := NewAllOf(members...)
	require.NoError(t, err)

	// all but one is not enough
	err = p.Authorize(members[:2])
	require.True(t, xerrors.Is(err, ErrNotAuthorized))

	// all of them is
	require.NoError(t, p.Authorize(members))

	// the same member repeated must not count twice
	err = p.Authorize([]did.Identity{members[0], members[0], members[1]})
	require.True(t, xerrors.Is(err, ErrNotAuthorized))
}

func TestEncodeTo_Deterministic(t *testing.T) {
	members := identities(3)
	p, err := NewAnyOf(members...)
	require.NoError(t, err)

	// member order must not influence the bytes
	q, err := NewAnyOf(members[2], members[0], members[1])
	require.NoError(t, err)

	var pb, qb bytes.Buffer
	require.NoError(t, p.EncodeTo(&pb))
	require.NoError(t, q.EncodeTo(&qb))
	require.Equal(t, pb.Bytes(), qb.Bytes())

	r, err := NewAllOf(members...)
	require.NoError(t, err)
	var rb bytes.Buffer
	require.NoError(t, r.EncodeTo(&rb))
	require.NotEqual(t, pb.Bytes(), rb.Bytes())
}
