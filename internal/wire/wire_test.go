package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"go.klb.dev/clipvault/internal/selection"
)

func sampleSelections() []selection.Selection {
	return []selection.Selection{
		{
			Source: "org.example.Editor",
			Offers: []selection.Offer{
				selection.NewTextOffer("hello"),
				{MimeType: "text/html", Data: []byte("<b>hello</b>")},
			},
		},
		{
			Offers: []selection.Offer{
				{MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G', 0, 1, 2}},
				{MimeType: "text/plain", Data: nil},
			},
		},
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, sel := range sampleSelections() {
		got, err := Unmarshal(Marshal(sel))
		require.NoError(t, err)
		assert.True(t, sel.Equal(got))
		assert.Equal(t, sel.Source, got.Source)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Marshal(selection.Selection{Offers: []selection.Offer{selection.NewTextOffer("x")}})
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 16, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	sel, err := Unmarshal(b)
	require.NoError(t, err)
	require.Len(t, sel.Offers, 1)
	assert.Equal(t, "x", string(sel.Offers[0].Data))
}

func TestDecoderArbitrarySplits(t *testing.T) {
	sels := sampleSelections()
	var stream []byte
	for _, s := range sels {
		stream = AppendFrame(stream, s)
	}

	for split := 0; split <= len(stream); split++ {
		var d Decoder
		first, err := d.Feed(stream[:split])
		require.NoError(t, err)
		second, err := d.Feed(stream[split:])
		require.NoError(t, err)

		got := append(first, second...)
		require.Len(t, got, len(sels), "split at %d", split)
		for i := range sels {
			assert.True(t, sels[i].Equal(got[i]), "split at %d, frame %d", split, i)
		}
		assert.Zero(t, d.Buffered())
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	sels := sampleSelections()
	var stream []byte
	for _, s := range sels {
		stream = AppendFrame(stream, s)
	}

	var d Decoder
	var got []selection.Selection
	for i := range stream {
		out, err := d.Feed(stream[i : i+1])
		require.NoError(t, err)
		got = append(got, out...)
	}
	require.Len(t, got, len(sels))
}

func TestDecoderSkipsMalformedFrame(t *testing.T) {
	good := selection.Selection{Offers: []selection.Offer{selection.NewTextOffer("after")}}

	bad := []byte{0x0a, 0xff} // offers field with a truncated length varint
	var stream []byte
	stream = binary.BigEndian.AppendUint32(stream, uint32(len(bad)))
	stream = append(stream, bad...)
	stream = AppendFrame(stream, good)

	var d Decoder
	got, err := d.Feed(stream)
	require.ErrorIs(t, err, ErrMalformed)
	require.Len(t, got, 1)
	assert.True(t, good.Equal(got[0]))
	assert.Zero(t, d.Buffered())
}

func TestDecoderEmptyPayload(t *testing.T) {
	var d Decoder
	got, err := d.Feed([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsClear())
}

func TestDecoderFrameTooLarge(t *testing.T) {
	after := selection.Selection{Offers: []selection.Offer{selection.NewTextOffer("after")}}
	const size = MaxFrameSize + 1024

	var d Decoder
	got, err := d.Feed(binary.BigEndian.AppendUint32(nil, size))
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Empty(t, got)
	assert.Zero(t, d.Buffered())
	assert.EqualValues(t, size, d.Skipping())

	// The payload arrives in chunks and is discarded without decoding.
	chunk := make([]byte, 64*1024)
	remaining := size
	for remaining > len(chunk) {
		got, err = d.Feed(chunk)
		require.NoError(t, err)
		require.Empty(t, got)
		remaining -= len(chunk)
	}

	// The last chunk of payload shares a read with the next frame.
	tail := append(make([]byte, remaining), AppendFrame(nil, after)...)
	got, err = d.Feed(tail)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, after.Equal(got[0]))
	assert.Zero(t, d.Skipping())
	assert.Zero(t, d.Buffered())
}

func TestDecoderFrameTooLargeInOneBuffer(t *testing.T) {
	after := selection.Selection{Offers: []selection.Offer{selection.NewTextOffer("after")}}

	stream := binary.BigEndian.AppendUint32(nil, MaxFrameSize+1)
	stream = append(stream, 1, 2, 3)
	stream = append(stream, make([]byte, MaxFrameSize+1-3)...)
	stream = AppendFrame(stream, after)

	var d Decoder
	var got []selection.Selection
	var errs []error
	err := d.ReadFrom(bytes.NewReader(stream), func(s selection.Selection) {
		got = append(got, s)
	}, func(err error) { errs = append(errs, err) })
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrFrameTooLarge)
	require.Len(t, got, 1)
	assert.True(t, after.Equal(got[0]))
}

func TestReadFrom(t *testing.T) {
	sels := sampleSelections()
	var stream []byte
	for _, s := range sels {
		stream = AppendFrame(stream, s)
	}

	var d Decoder
	var got []selection.Selection
	err := d.ReadFrom(iotest.OneByteReader(bytes.NewReader(stream)), func(s selection.Selection) {
		got = append(got, s)
	}, func(err error) { t.Errorf("unexpected decode error: %v", err) })
	require.NoError(t, err)
	assert.Len(t, got, len(sels))
}

func TestReadFromPropagatesReadError(t *testing.T) {
	boom := errors.New("boom")
	var d Decoder
	err := d.ReadFrom(iotest.ErrReader(boom), func(selection.Selection) {}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestWriter(t *testing.T) {
	pr, pw := io.Pipe()
	w := NewWriter(pw)

	sels := sampleSelections()
	go func() {
		for _, s := range sels {
			_ = w.WriteSelection(s)
		}
		_ = pw.Close()
	}()

	var d Decoder
	var got []selection.Selection
	require.NoError(t, d.ReadFrom(pr, func(s selection.Selection) { got = append(got, s) }, nil))
	require.Len(t, got, len(sels))
	assert.Equal(t, "org.example.Editor", got[0].Source)
}
