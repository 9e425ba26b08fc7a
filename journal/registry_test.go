package journal

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	base := time.Unix(1700000000, 0)
	first := mount(t, newDevice(t), testOptions(), WithClock(func() time.Time { return base.Add(time.Hour) }))
	second := mount(t, newDevice(t), testOptions(), WithClock(func() time.Time { return base }))
	r.Add(first)
	r.Add(second)

	got, ok := r.Get(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)
	_, ok = r.Get(uuid.New())
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 2)
	assert.Same(t, second, list[0])
	assert.Same(t, first, list[1])

	r.Remove(second.ID())
	assert.Len(t, r.List(), 1)
}

func TestInfo(t *testing.T) {
	opts := testOptions()
	opts.FS = "/srv/data"
	mounted := time.Unix(1700000000, 250)
	j := mount(t, newDevice(t), opts, WithClock(func() time.Time { return mounted }))

	info := j.Info()
	assert.Equal(t, mounted, info.Mounted)
	assert.Equal(t, int64(testDevSize), info.DeviceSize)
	assert.Equal(t, 8, info.Superblocks)
	assert.Equal(t, "/srv/data", info.FS)
	assert.Equal(t, int64(0), info.CommitForced)

	require.NoError(t, j.Commit())
	info = j.Info()
	assert.Equal(t, int64(1), info.CommitForced)

	lines := strings.Split(strings.TrimSuffix(info.String(), "\n"), "\n")
	var keys []string
	for _, l := range lines {
		k, _, ok := strings.Cut(l, ": ")
		require.True(t, ok, l)
		keys = append(keys, k)
	}
	assert.Equal(t, []string{
		"mounted", "logged", "maxsize", "size", "space", "devsize", "start",
		"commit_size", "commit_time", "commit_forced", "version", "flags",
		"nsuper", "align", "dropped", "fs",
	}, keys)
	assert.Equal(t, "mounted: 1700000000.000000250", lines[0])
	assert.Equal(t, "fs: /srv/data", lines[len(lines)-1])
}
