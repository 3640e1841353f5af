package mmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAnon(t *testing.T) {
	m, err := MapAnon(64 * 1024)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 64*1024, m.Size())
	data := m.Bytes()
	require.Len(t, data, 64*1024)

	// Anonymous mappings are zero-filled and writable.
	for _, b := range data[:128] {
		require.Zero(t, b)
	}
	data[0] = 0xAB
	data[len(data)-1] = 0xCD
	assert.Equal(t, byte(0xAB), m.Bytes()[0])
	assert.Equal(t, byte(0xCD), m.Bytes()[len(data)-1])

	require.NoError(t, m.Advise(AccessSequential))
}

func TestMapAnon_InvalidSize(t *testing.T) {
	_, err := MapAnon(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = MapAnon(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestMapping_CloseIdempotent(t *testing.T) {
	m, err := MapAnon(4096)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.Nil(t, m.Bytes())
	assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)
}
