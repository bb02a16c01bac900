package storage

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
)

// StoreCollector exports the engine metrics of one workspace's item
// store, labeled by workspace so every workspace can register against
// the same registry.
type StoreCollector struct {
	metrics   func() *pebble.Metrics
	workspace string

	compactionCount *prometheus.Desc
	compactionDebt  *prometheus.Desc
	memtableSize    *prometheus.Desc
	memtableCount   *prometheus.Desc
	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc
	diskUsage       *prometheus.Desc
}

// NewStoreCollector wraps a Manager; the second result is false when
// the driver does not expose engine metrics.
func NewStoreCollector(m Manager, workspace string) (*StoreCollector, bool) {
	pm, ok := m.(*pebbleManager)
	if !ok {
		return nil, false
	}
	labels := []string{"workspace"}
	return &StoreCollector{
		metrics:   pm.Metrics,
		workspace: workspace,

		compactionCount: prometheus.NewDesc(
			"jackrabbit_store_compaction_count_total",
			"Total number of store compactions performed",
			labels, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"jackrabbit_store_compaction_estimated_debt_bytes",
			"Estimated bytes to compact to reach a stable state",
			labels, nil,
		),
		memtableSize: prometheus.NewDesc(
			"jackrabbit_store_memtable_size_bytes",
			"Current memtable size in bytes",
			labels, nil,
		),
		memtableCount: prometheus.NewDesc(
			"jackrabbit_store_memtable_count",
			"Current count of memtables",
			labels, nil,
		),
		walFiles: prometheus.NewDesc(
			"jackrabbit_store_wal_files",
			"Number of live WAL files",
			labels, nil,
		),
		walSize: prometheus.NewDesc(
			"jackrabbit_store_wal_size_bytes",
			"Size of live WAL data in bytes",
			labels, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"jackrabbit_store_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			labels, nil,
		),
		diskUsage: prometheus.NewDesc(
			"jackrabbit_store_disk_usage_bytes",
			"Total disk space used by the item store",
			labels, nil,
		),
	}, true
}

func (sc *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.compactionCount
	ch <- sc.compactionDebt
	ch <- sc.memtableSize
	ch <- sc.memtableCount
	ch <- sc.walFiles
	ch <- sc.walSize
	ch <- sc.walBytesWritten
	ch <- sc.diskUsage
}

func (sc *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	m := sc.metrics()

	ch <- prometheus.MustNewConstMetric(
		sc.compactionCount, prometheus.CounterValue,
		float64(m.Compact.Count), sc.workspace,
	)
	ch <- prometheus.MustNewConstMetric(
		sc.compactionDebt, prometheus.GaugeValue,
		float64(m.Compact.EstimatedDebt), sc.workspace,
	)
	ch <- prometheus.MustNewConstMetric(
		sc.memtableSize, prometheus.GaugeValue,
		float64(m.MemTable.Size), sc.workspace,
	)
	ch <- prometheus.MustNewConstMetric(
		sc.memtableCount, prometheus.GaugeValue,
		float64(m.MemTable.Count), sc.workspace,
	)
	ch <- prometheus.MustNewConstMetric(
		sc.walFiles, prometheus.GaugeValue,
		float64(m.WAL.Files), sc.workspace,
	)
	ch <- prometheus.MustNewConstMetric(
		sc.walSize, prometheus.GaugeValue,
		float64(m.WAL.Size), sc.workspace,
	)
	ch <- prometheus.MustNewConstMetric(
		sc.walBytesWritten, prometheus.CounterValue,
		float64(m.WAL.BytesWritten), sc.workspace,
	)
	ch <- prometheus.MustNewConstMetric(
		sc.diskUsage, prometheus.GaugeValue,
		float64(m.DiskSpaceUsage()), sc.workspace,
	)
}
