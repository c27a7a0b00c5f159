package ipcpipe

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	payload := []byte("ping")
	msg := NewMessage(1, payload)
	require.Equal(t, uint32(1), msg.ID())
	require.Equal(t, uint32(len(payload)), msg.Size())
	require.Equal(t, payload, msg.Payload())
}

func TestFrameDecoderSingleMessage(t *testing.T) {
	msg := NewMessage(7, []byte("hello world"))
	d := newFrameDecoder(0)

	messages, err := d.feed(msg.Bytes())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, uint32(7), messages[0].ID())
	require.Equal(t, []byte("hello world"), messages[0].Payload())
}

func TestFrameDecoderSplitAcrossChunks(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 4100)
	msg := NewMessage(99, payload)

	d := newFrameDecoder(0)
	var got []*Message

	wire := msg.Bytes()
	require.Equal(t, 4108, len(wire))

	// 17 chunks of arbitrary sizes summing to len(wire) (spec §8 S4).
	sizes := splitInto(len(wire), 17)
	cursor := 0
	for _, n := range sizes {
		chunk := wire[cursor : cursor+n]
		cursor += n
		msgs, err := d.feed(chunk)
		require.NoError(t, err)
		got = append(got, msgs...)
	}

	require.Len(t, got, 1)
	require.Equal(t, uint32(99), got[0].ID())
	require.Equal(t, payload, got[0].Payload())
}

func TestFrameDecoderOneByteAtATime(t *testing.T) {
	msg := NewMessage(3, []byte("x"))
	d := newFrameDecoder(0)

	var got []*Message
	for _, b := range msg.Bytes() {
		msgs, err := d.feed([]byte{b})
		require.NoError(t, err)
		got = append(got, msgs...)
	}
	require.Len(t, got, 1)
	require.Equal(t, []byte("x"), got[0].Payload())
}

func TestFrameDecoderMultipleMessagesInOrder(t *testing.T) {
	d := newFrameDecoder(0)
	var wire []byte
	for i := uint32(0); i < 50; i++ {
		wire = append(wire, NewMessage(i, []byte{byte(i)}).Bytes()...)
	}

	messages, err := d.feed(wire)
	require.NoError(t, err)
	require.Len(t, messages, 50)
	for i, m := range messages {
		require.Equal(t, uint32(i), m.ID())
	}
}

func TestFrameDecoderRejectsOversizeFrame(t *testing.T) {
	d := newFrameDecoder(16)
	header := make([]byte, FrameHeaderSize)
	header[4] = 17 // size = 17, exceeds the 16-byte ceiling

	messages, err := d.feed(header)
	require.ErrorIs(t, err, ErrProtocol)
	require.Empty(t, messages)
}

func TestFrameDecoderOversizeDoesNotDropPriorMessages(t *testing.T) {
	d := newFrameDecoder(16)
	good := NewMessage(1, []byte("ok"))
	badHeader := make([]byte, FrameHeaderSize)
	badHeader[4] = 17

	wire := append(append([]byte{}, good.Bytes()...), badHeader...)
	messages, err := d.feed(wire)
	require.ErrorIs(t, err, ErrProtocol)
	require.Len(t, messages, 1)
	require.Equal(t, uint32(1), messages[0].ID())
}

// splitInto returns n positive chunk sizes summing to total (spec §8 S4's
// "arbitrary sizes" is satisfied by any fixed, reproducible partition).
func splitInto(total, n int) []int {
	r := rand.New(rand.NewSource(1))
	cuts := make([]int, 0, n-1)
	for len(cuts) < n-1 {
		cuts = append(cuts, 1+r.Intn(total-1))
	}
	cuts = append(cuts, 0, total)
	// simple selection sort; n is tiny
	for i := 0; i < len(cuts); i++ {
		for j := i + 1; j < len(cuts); j++ {
			if cuts[j] < cuts[i] {
				cuts[i], cuts[j] = cuts[j], cuts[i]
			}
		}
	}
	sizes := make([]int, 0, n)
	for i := 1; i < len(cuts); i++ {
		sizes = append(sizes, cuts[i]-cuts[i-1])
	}
	return sizes
}
