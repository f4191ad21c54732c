package store

import (
	"io/fs"
	"path/filepath"
)

// PebbleMetrics is a compact view of storage health for the health and
// metrics endpoints.
type PebbleMetrics struct {
	DiskBytes     uint64
	WALBytes      uint64
	L0Files       int
	MemtableBytes uint64
}

// GetPebbleMetrics returns best-effort metrics about the pebble DB. Disk
// usage is computed from the DB directory; the rest comes straight from
// pebble's own metrics.
func GetPebbleMetrics() PebbleMetrics {
	var m PebbleMetrics
	if db == nil || dbPath == "" {
		return m
	}
	var total uint64
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	m.DiskBytes = total
	if metrics := db.Metrics(); metrics != nil {
		m.WALBytes = uint64(metrics.WAL.Size)
		m.L0Files = int(metrics.Levels[0].NumFiles)
		m.MemtableBytes = uint64(metrics.MemTable.Size)
	}
	return m
}
