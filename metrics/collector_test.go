package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrascience/shallfs/blockdev"
	"github.com/dendrascience/shallfs/journal"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func mounted(t *testing.T, reg *journal.Registry) *journal.Journal {
	t.Helper()
	dev := blockdev.NewMemory(1024 * journal.BlockSize)
	_, err := journal.Format(dev, journal.FormatOptions{})
	require.NoError(t, err)
	opts := journal.DefaultOptions()
	opts.CommitInterval = time.Hour
	opts.FS = "/srv/data"
	j, err := journal.Open(dev, opts, journal.WithLogger(quietLog()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	reg.Add(j)
	return j
}

// collect returns the metrics of c by name.
func collect(t *testing.T, c prometheus.Collector) map[string][]*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	out := make(map[string][]*dto.Metric)
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		name := m.Desc().String()
		name = name[strings.Index(name, `"`)+1:]
		name = name[:strings.Index(name, `"`)]
		out[name] = append(out[name], &pb)
	}
	return out
}

func TestCollectorEmpty(t *testing.T) {
	c := NewCollector(journal.NewRegistry())
	assert.Equal(t, 1, testutil.CollectAndCount(c))
	assert.Equal(t, 0.0, testutil.ToFloat64(c))
}

func TestCollectorReportsJournals(t *testing.T) {
	reg := journal.NewRegistry()
	j := mounted(t, reg)
	mounted(t, reg)
	require.NoError(t, j.Control(context.Background(), "commit"))

	c := NewCollector(reg)
	assert.Equal(t, 1+2*11, testutil.CollectAndCount(c))
	assert.Equal(t, 2, testutil.CollectAndCount(c, "shallfs_journal_space_bytes"))

	got := collect(t, c)
	var forced float64
	for _, m := range got["shallfs_journal_commits_total"] {
		lv := map[string]string{}
		for _, l := range m.GetLabel() {
			lv[l.GetName()] = l.GetValue()
		}
		assert.Equal(t, "/srv/data", lv["fs"])
		if lv["journal"] == j.ID().String() && lv["reason"] == "forced" {
			forced = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, forced)

	for _, m := range got["shallfs_journal_space_bytes"] {
		assert.Equal(t, float64(1016*journal.BlockSize), m.GetGauge().GetValue())
	}
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(`
# HELP shallfs_journals_mounted Journals mounted by this process.
# TYPE shallfs_journals_mounted gauge
shallfs_journals_mounted 2
`), "shallfs_journals_mounted"))
}

func TestServer(t *testing.T) {
	reg := journal.NewRegistry()
	mounted(t, reg)
	s, err := NewServer("127.0.0.1:0", NewRegistry(reg), quietLog())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "shallfs_journal_size_bytes{")
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
