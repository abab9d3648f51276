package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/italolelis/apphub_installer/internal/catalog"
	"github.com/italolelis/apphub_installer/internal/config"
	"github.com/italolelis/apphub_installer/internal/installstate"
	"github.com/italolelis/apphub_installer/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type versions map[string]string

func (v versions) InstalledVersion(_ context.Context, bundleID string) (string, bool, error) {
	ver, ok := v[bundleID]

	return ver, ok, nil
}

func TestPrintStates(t *testing.T) {
	c := &catalog.Catalog{Apps: []catalog.AppRecord{
		{ID: "editor", Name: "Editor", Version: "2.0.0", BundleID: "com.example.editor", DownloadSize: 2 * 1000 * 1000},
		{ID: "player", Name: "Player", Version: "1.1.0", BundleID: "com.example.player"},
	}}

	registry := installstate.NewRegistry(versions{"com.example.player": "1.0.0"}, nil)
	require.NoError(t, registry.RefreshAll(context.Background(), c.Apps))

	var out bytes.Buffer
	require.NoError(t, printStates(&out, c, registry))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "STATE")
	assert.Contains(t, string(lines[1]), "editor")
	assert.Contains(t, string(lines[1]), registry.StateFor("editor").String())
	assert.Contains(t, string(lines[2]), registry.StateFor("player").String())
}

func TestBuildNotifier(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		n, closeAll, err := buildNotifier(context.Background(), &config.Config{})
		require.NoError(t, err)
		assert.Nil(t, n)
		closeAll()
	})

	t.Run("discord", func(t *testing.T) {
		n, closeAll, err := buildNotifier(context.Background(), &config.Config{DiscordWebhookURL: "http://127.0.0.1:1/hook"})
		require.NoError(t, err)
		defer closeAll()

		multi, ok := n.(notifier.Multi)
		require.True(t, ok)
		require.Len(t, multi, 1)
		assert.IsType(t, &notifier.DiscordNotifier{}, multi[0])
	})
}
