package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrascience/shallfs/journal"
)

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
[journal]
options = "commit=2:65536,overflow=drop"

[control]
socket_dir = "/tmp/shallfs"
socket_mode = "0660"

[metrics]
address = "127.0.0.1:9108"

[log]
level = "debug"
format = "json"
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/shallfs", c.Control.SocketDir)
	assert.Equal(t, "127.0.0.1:9108", c.Metrics.Address)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)

	mode, err := c.Control.Mode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o660), mode)

	o, err := c.MountOptions("fs=/srv/data,overflow=wait")
	require.NoError(t, err)
	assert.Equal(t, "/srv/data", o.FS)
	assert.Equal(t, 2*time.Second, o.CommitInterval)
	assert.Equal(t, 65536, o.CommitSize)
	assert.Equal(t, journal.OverflowWait, o.Overflow)
}

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("[metrics]\naddress = \":9108\"\n"))
	require.NoError(t, err)
	want := Default()
	want.Metrics.Address = ":9108"
	assert.Equal(t, want, c)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "syntax", data: "[journal"},
		{name: "journal options", data: "[journal]\noptions = \"overflow=sometimes\"\n"},
		{name: "hash logging", data: "[journal]\noptions = \"data=hash\"\n"},
		{name: "socket mode", data: "[control]\nsocket_mode = \"rw\"\n"},
		{name: "socket mode range", data: "[control]\nsocket_mode = \"1777\"\n"},
		{name: "log level", data: "[log]\nlevel = \"loud\"\n"},
		{name: "log format", data: "[log]\nformat = \"xml\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shallfs.toml")
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format)
}
