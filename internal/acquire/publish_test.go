package acquire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nist-peakdrv/peakdrv/internal/frame"
)

func TestPublishSlot_TakeClearsFreshness(t *testing.T) {
	var slot PublishSlot

	_, ok := slot.Take()
	require.False(t, ok, "Take on an empty slot should report not fresh")

	f := frame.Frame{MaxAmplitude: 42}
	slot.Publish(f)

	got, ok := slot.Take()
	require.True(t, ok)
	require.Equal(t, int32(42), got.MaxAmplitude)

	_, ok = slot.Take()
	require.False(t, ok, "a second Take with no intervening Publish should report not fresh")
}

func TestPublishSlot_LastWriterWins(t *testing.T) {
	var slot PublishSlot
	slot.Publish(frame.Frame{MaxAmplitude: 1})
	slot.Publish(frame.Frame{MaxAmplitude: 2})

	got, ok := slot.Take()
	require.True(t, ok)
	require.Equal(t, int32(2), got.MaxAmplitude, "second Publish should supersede the first unread frame")
}

func TestPublishSlot_PeekDoesNotConsume(t *testing.T) {
	var slot PublishSlot
	slot.Publish(frame.Frame{MaxAmplitude: 7})

	require.Equal(t, int32(7), slot.Peek().MaxAmplitude)

	got, ok := slot.Take()
	require.True(t, ok, "Peek must not have consumed the freshness flag")
	require.Equal(t, int32(7), got.MaxAmplitude)
}
