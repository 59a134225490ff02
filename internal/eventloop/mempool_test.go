package eventloop

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/I-luk-I/Warthog/internal/wire"
)

func TestMempoolOverlayInsertRejectsDuplicateID(t *testing.T) {
	m := newMempoolOverlay()
	id := [32]byte{1}

	require.True(t, m.insert(10, id, []byte("tx")))
	require.False(t, m.insert(11, id, []byte("tx again")))
}

func TestMempoolOverlayEntriesAboveOrdersByHeightThenID(t *testing.T) {
	m := newMempoolOverlay()
	low := [32]byte{1}
	high := [32]byte{2}
	m.insert(5, low, []byte("a"))
	m.insert(10, high, []byte("b"))

	above := m.entriesAbove(0)
	require.Len(t, above, 2)
	require.Equal(t, wire.Height(5), above[0].height)
	require.Equal(t, wire.Height(10), above[1].height)

	above = m.entriesAbove(5)
	require.Len(t, above, 1)
	require.Equal(t, wire.Height(10), above[0].height)
}

func TestMempoolOverlayEraseRemovesFromBothIndexes(t *testing.T) {
	m := newMempoolOverlay()
	id := [32]byte{7}
	m.insert(1, id, []byte("tx"))

	m.erase(id)

	_, ok := m.get(id)
	require.False(t, ok)
	require.Empty(t, m.entriesAbove(0))
}
