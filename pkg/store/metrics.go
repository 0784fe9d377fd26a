package store

import (
	"io/fs"
	"path/filepath"
)

// CacheMetrics is a compact view of the cache database surfaced by the
// status endpoint and the ops listener.
type CacheMetrics struct {
	DiskBytes      uint64 `json:"diskBytes"`
	WALBytes       uint64 `json:"walBytes"`
	L0Files        int64  `json:"l0Files"`
	L0Bytes        int64  `json:"l0Bytes"`
	CompactionDebt uint64 `json:"compactionDebt"`
	MemtableBytes  uint64 `json:"memtableBytes"`
}

// Metrics reports best-effort metrics about the cache database. Disk
// usage is computed by walking the DB directory so it stays meaningful
// even before the first flush.
func (p *Pebble) Metrics() CacheMetrics {
	var out CacheMetrics
	if p == nil || p.db == nil {
		return out
	}
	if p.path != "" {
		out.DiskBytes = dirBytes(p.path)
	}
	m := p.db.Metrics()
	if m == nil {
		return out
	}
	out.WALBytes = m.WAL.Size
	out.L0Files = m.Levels[0].NumFiles
	out.L0Bytes = m.Levels[0].Size
	out.CompactionDebt = m.Compact.EstimatedDebt
	out.MemtableBytes = m.MemTable.Size
	return out
}

func dirBytes(root string) uint64 {
	var total uint64
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		total += uint64(fi.Size())
		return nil
	})
	return total
}
