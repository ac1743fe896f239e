package audio

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/require"
)

// oggOpus builds a small Ogg Opus stream with the given number of audio
// packets. Zero packets yields the two header pages only.
func oggOpus(t *testing.T, packets int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := oggwriter.NewWith(&buf, 48000, 1)
	require.NoError(t, err)

	for i := range packets {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: uint16(i),
				Timestamp:      uint32(i * 960),
			},
			// TOC byte for a 20ms SILK frame followed by filler.
			Payload: []byte{0x08, 0xde, 0xad, 0xbe, 0xef},
		}))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}
