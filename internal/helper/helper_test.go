package helper

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipvault/internal/clip"
	"go.klb.dev/clipvault/internal/selection"
	"go.klb.dev/clipvault/internal/wire"
)

func TestPollSkipsRepeats(t *testing.T) {
	pr, pw := io.Pipe()
	m := clip.NewMemory()
	w := New(m, pw, "test")

	frames := make(chan selection.Selection, 8)
	go func() {
		var d wire.Decoder
		_ = d.ReadFrom(pr, func(s selection.Selection) { frames <- s }, nil)
		close(frames)
	}()

	m.Set([]selection.Offer{selection.NewTextOffer("a")})
	require.NoError(t, w.Poll())
	require.NoError(t, w.Poll())
	m.Set([]selection.Offer{selection.NewTextOffer("b")})
	require.NoError(t, w.Poll())
	m.Set(nil)
	require.NoError(t, w.Poll())
	require.NoError(t, pw.Close())

	var got []selection.Selection
	for s := range frames {
		got = append(got, s)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "a", string(got[0].Offers[0].Data))
	assert.Equal(t, "test", got[0].Source)
	assert.Equal(t, "b", string(got[1].Offers[0].Data))
	assert.True(t, got[2].IsClear())
}

func TestRunForwardsChanges(t *testing.T) {
	pr, pw := io.Pipe()
	m := clip.NewMemory()
	w := New(m, pw, "")

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	m.Set([]selection.Offer{selection.NewTextOffer("copied")})

	var d wire.Decoder
	buf := make([]byte, 256)
	var got []selection.Selection
	for len(got) == 0 {
		n, err := pr.Read(buf)
		require.NoError(t, err)
		sels, err := d.Feed(buf[:n])
		require.NoError(t, err)
		got = append(got, sels...)
	}
	assert.Equal(t, "copied", string(got[0].Offers[0].Data))

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStopsWhenHostGoesAway(t *testing.T) {
	pr, pw := io.Pipe()
	require.NoError(t, pr.Close())

	m := clip.NewMemory()
	m.Set([]selection.Offer{selection.NewTextOffer("x")})

	err := New(m, pw, "").Run(context.Background())
	assert.Error(t, err)
}
