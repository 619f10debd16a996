package didledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestErrorOrNil(t *testing.T) {
	require.NoError(t, ErrorOrNil(nil, "no-op"))

	sentinel := xerrors.New("refused")
	err := ErrorOrNil(sentinel, "loading record")
	require.Error(t, err)
	require.True(t, xerrors.Is(err, sentinel))
	require.Equal(t, "loading record: refused", err.Error())
}

func TestWrapErrorKeepsChain(t *testing.T) {
	sentinel := xerrors.New("refused")
	err := WrapError(sentinel)
	require.True(t, xerrors.Is(err, sentinel))
	require.Equal(t, "refused", err.Error())
}

func TestErrorDetailCarriesFrame(t *testing.T) {
	err := ErrorOrNil(xerrors.New("refused"), "loading record")
	detail := fmt.Sprintf("%+v", err)
	require.Contains(t, detail, "loading record")
	require.Contains(t, detail, ".go")
}
