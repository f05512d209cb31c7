package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(3, Settings{Reliability: Reliable}))

	for _, s := range []Settings{{Reliability: Reliable}, {Reliability: Unreliable, MessageBufferSize: 8}} {
		err := r.Register(3, s)
		require.ErrorIs(t, err, ErrChannelAlreadyRegistered)
	}
	require.Equal(t, 1, r.Len())
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(1, Settings{}))
	r.Close()
	require.True(t, r.Closed())

	err := r.Register(2, Settings{})
	require.True(t, errors.Is(err, ErrRegistrationClosed), "got %v", err)
	_, ok := r.Lookup(2)
	require.False(t, ok)

	r.Reopen()
	require.False(t, r.Closed())
	require.NoError(t, r.Register(2, Settings{}))
	require.ErrorIs(t, r.Register(1, Settings{}), ErrChannelAlreadyRegistered)
}

func TestRegistryIDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []ID{200, 3, 17, 0} {
		require.NoError(t, r.Register(id, Settings{}))
	}
	require.Equal(t, []ID{0, 3, 17, 200}, r.IDs())
}

func TestParseReliability(t *testing.T) {
	cases := map[string]Reliability{
		"":           Reliable,
		"reliable":   Reliable,
		"sequenced":  Reliable,
		"unreliable": Unreliable,
	}
	for in, want := range cases {
		got, err := ParseReliability(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseReliability("lossy")
	require.Error(t, err)
}

func TestBufferSizeDefault(t *testing.T) {
	require.Equal(t, DefaultMessageBufferSize, Settings{}.BufferSize())
	require.Equal(t, 5, Settings{MessageBufferSize: 5}.BufferSize())
}
