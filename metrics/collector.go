// Package metrics exports the state of mounted journals to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dendrascience/shallfs/journal"
)

const namespace = "shallfs"

var labels = []string{"journal", "fs"}

func desc(name, help string, extra ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "journal", name), help, append(labels, extra...), nil)
}

var (
	sizeDesc     = desc("size_bytes", "Bytes of records stored in the ring.")
	spaceDesc    = desc("space_bytes", "Capacity of the ring in bytes.")
	maxSizeDesc  = desc("max_size_bytes", "Largest ring occupancy seen.")
	versionDesc  = desc("superblock_version", "Version of the last superblock written.")
	mountedDesc  = desc("mounted_timestamp_seconds", "Time the journal was mounted.")
	loggedDesc   = desc("logged_records_total", "Records accepted since mount.")
	droppedDesc  = desc("dropped_records_total", "Records dropped because the ring was full.")
	lostDesc     = desc("lost_bytes_total", "Bytes of dropped records.")
	commitsDesc  = desc("commits_total", "Commits by reason.", "reason")
	mountedCount = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "journals_mounted"), "Journals mounted by this process.", nil, nil)
)

// Collector reports every journal in a registry.
type Collector struct {
	reg *journal.Registry
}

// NewCollector returns a collector over reg.
func NewCollector(reg *journal.Registry) *Collector {
	return &Collector{reg: reg}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		sizeDesc, spaceDesc, maxSizeDesc, versionDesc, mountedDesc,
		loggedDesc, droppedDesc, lostDesc, commitsDesc, mountedCount,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	list := c.reg.List()
	ch <- prometheus.MustNewConstMetric(mountedCount, prometheus.GaugeValue, float64(len(list)))
	for _, j := range list {
		info := j.Info()
		lv := []string{j.ID().String(), info.FS}
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, lv...)
		}
		counter := func(d *prometheus.Desc, v float64, extra ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, append(lv, extra...)...)
		}
		gauge(sizeDesc, float64(info.Size))
		gauge(spaceDesc, float64(info.Space))
		gauge(maxSizeDesc, float64(info.MaxSize))
		gauge(versionDesc, float64(info.Version))
		gauge(mountedDesc, float64(info.Mounted.UnixNano())/1e9)
		counter(loggedDesc, float64(info.Logged))
		counter(droppedDesc, float64(info.Dropped))
		counter(lostDesc, float64(info.Lost))
		counter(commitsDesc, float64(info.CommitSize), "size")
		counter(commitsDesc, float64(info.CommitTime), "time")
		counter(commitsDesc, float64(info.CommitForced), "forced")
	}
}
