package clients

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/oauth2-device-server/internal/deviceflow"
)

func TestStaticDirectoryLookup(t *testing.T) {
	directory := NewStaticDirectory(
		deviceflow.Client{ID: "cli", Name: "CLI", Scopes: []string{"read"}},
		deviceflow.Client{ID: "tv", Name: "TV App"},
	)
	ctx := context.Background()

	client, err := directory.Lookup(ctx, "cli")
	require.NoError(t, err)
	assert.Equal(t, "CLI", client.Name)
	assert.Equal(t, []string{"read"}, client.Scopes)

	_, err = directory.Lookup(ctx, "nobody")
	assert.ErrorIs(t, err, deviceflow.ErrInvalidClient)
}

func TestStaticDirectoryLookupReturnsCopy(t *testing.T) {
	directory := NewStaticDirectory(deviceflow.Client{ID: "cli", Name: "CLI"})
	ctx := context.Background()

	first, err := directory.Lookup(ctx, "cli")
	require.NoError(t, err)
	first.Name = "mutated"

	second, err := directory.Lookup(ctx, "cli")
	require.NoError(t, err)
	assert.Equal(t, "CLI", second.Name)
}

func TestRegister(t *testing.T) {
	directory := NewStaticDirectory()
	directory.Register(deviceflow.Client{ID: "cli", Name: "CLI"})

	client, err := directory.Lookup(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, "CLI", client.Name)

	directory.Register(deviceflow.Client{ID: "cli", Name: "CLI v2"})
	client, err = directory.Lookup(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, "CLI v2", client.Name)
}

func TestLoadFile(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "clients.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("valid file", func(t *testing.T) {
		path := writeFile(t, `[
			{"client_id": "cli", "client_name": "CLI",
			 "scopes": ["read", "write"],
			 "grant_types": ["urn:ietf:params:oauth:grant-type:device_code"]},
			{"client_id": "tv", "client_name": "TV App"}
		]`)

		directory, err := LoadFile(path)
		require.NoError(t, err)

		client, err := directory.Lookup(context.Background(), "cli")
		require.NoError(t, err)
		assert.Equal(t, []string{"read", "write"}, client.Scopes)
		assert.True(t, client.AllowsGrant(deviceflow.GrantType))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, `{"not": "an array"}`))
		assert.Error(t, err)
	})

	t.Run("empty client_id", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, `[{"client_name": "anonymous"}]`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty client_id")
	})
}

var _ deviceflow.ClientDirectory = (*StaticDirectory)(nil)
