package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipvault/internal/grpcservice"
	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/keystore"
	"go.klb.dev/clipvault/internal/selection"
)

func TestBindViperPrecedence(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "clipvault.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("data-dir = \"/from/config\"\nkeyring = \"file\"\nquery-workers = 2\n"), 0o600))

	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfg, "--query-workers", "8"}))
	t.Setenv("CLIPVAULT_KEYRING", "none")

	v := viper.New()
	require.NoError(t, bindViper(cmd, v))

	assert.Equal(t, "/from/config", v.GetString("data-dir"), "config beats default")
	assert.Equal(t, "none", v.GetString("keyring"), "env beats config")
	assert.Equal(t, 8, v.GetInt("query-workers"), "flag beats config")
	assert.True(t, v.GetBool("monitor"), "default")
}

func TestBindViperEnvWithDash(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(cfg, nil, 0o600))
	t.Setenv("CLIPVAULT_DATA_DIR", "/from/env")

	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("data-dir", "default", "")
	addConfigFlag(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfg}))

	v := viper.New()
	require.NoError(t, bindViper(cmd, v))
	assert.Equal(t, "/from/env", v.GetString("data-dir"))
}

func TestOpenKeystore(t *testing.T) {
	dir := t.TempDir()

	ks, err := openKeystore("os", dir)
	require.NoError(t, err)
	assert.IsType(t, keystore.Keyring{}, ks)

	ks, err = openKeystore("file", dir)
	require.NoError(t, err)
	assert.Equal(t, keystore.File{Dir: filepath.Join(dir, "keys")}, ks)

	ks, err = openKeystore("none", dir)
	require.NoError(t, err)
	_, err = ks.Read("anything")
	assert.Error(t, err)

	_, err = openKeystore("vault", dir)
	assert.Error(t, err)
}

func TestParseOnOff(t *testing.T) {
	on, err := parseOnOff("ON")
	require.NoError(t, err)
	assert.True(t, on)

	on, err = parseOnOff("off")
	require.NoError(t, err)
	assert.False(t, on)

	_, err = parseOnOff("maybe")
	assert.Error(t, err)
}

func TestWriteOffer(t *testing.T) {
	resp := &grpcservice.RetrieveResponse{Offers: []grpcservice.Offer{
		{MimeType: "text/html", Data: []byte("<b>hi</b>")},
		{MimeType: "text/plain", Data: []byte("hi")},
	}}
	sel := resp.Selection()

	var buf bytes.Buffer
	require.NoError(t, writeOffer(&buf, sel, ""))
	assert.Equal(t, "hi", buf.String(), "preferred offer")

	buf.Reset()
	require.NoError(t, writeOffer(&buf, sel, "text/html"))
	assert.Equal(t, "<b>hi</b>", buf.String())

	err := writeOffer(&buf, sel, "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text/html, text/plain")

	buf.Reset()
	require.NoError(t, writeOffer(&buf, selection.Selection{}, ""))
	assert.Empty(t, buf.String())
}

func TestPrintList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pinned := now.Add(-time.Hour)

	var buf bytes.Buffer
	printList(&buf, &grpcservice.QueryResponse{
		Items: []grpcservice.Summary{
			{ID: "a", Kind: "link", Preview: "https://example.com", URLHost: "example.com", UpdatedAt: now.Add(-30 * time.Second), PinnedAt: &pinned},
			{ID: "b", Kind: "text", Preview: "hello", UpdatedAt: now.Add(-5 * time.Minute)},
		},
		TotalCount: 2,
		TotalPages: 1,
	}, 1, now)

	out := buf.String()
	assert.Contains(t, out, "https://example.com (example.com)")
	assert.Contains(t, out, "30s ago")
	assert.Contains(t, out, "5m ago")
	assert.Contains(t, out, "page 1 of 1 (2 selections)")

	buf.Reset()
	printList(&buf, &grpcservice.QueryResponse{}, 1, now)
	assert.Equal(t, "No selections.\n", buf.String())
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &grpcservice.StatusResponse{
		Status: history.Status{
			Monitoring:       true,
			EncryptionProbed: true,
			EncryptionError:  "crypto: encryption unavailable",
			Capture:          "clipboard-helper",
			Selections:       3,
		},
		Version: "1.2.3",
	}, "/run/clipvault.sock")

	out := buf.String()
	assert.Contains(t, out, "Monitoring:  on")
	assert.Contains(t, out, "unavailable (crypto: encryption unavailable)")
	assert.Contains(t, out, "clipboard-helper (exited)")
	assert.Contains(t, out, "Selections:  3")
}
