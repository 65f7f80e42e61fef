package collection

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gbchill/piramid/pkg/index"
	"github.com/gbchill/piramid/pkg/metric"
)

// Stats is the admin snapshot returned by the registry's stats() operation
// (§6 "stats(name) -> counts, memory, index type, last checkpoint time").
type Stats struct {
	Name           string
	State          State
	Count          int
	Dim            int
	Metric         metric.Metric
	IndexPolicy    index.Policy
	MemoryUsage    int64
	BytesOnDisk    int64
	LastCheckpoint time.Time
}

// Stats snapshots this collection's current counters.
func (c *Collection) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var mem int64
	if c.idx != nil {
		mem = c.idx.MemoryUsage()
	}
	return Stats{
		Name:           c.name,
		State:          c.state,
		Count:          c.offsets.Len(),
		Dim:            int(c.data.Descriptor().Dim),
		Metric:         c.kernel.Metric,
		IndexPolicy:    c.policy,
		MemoryUsage:    mem,
		BytesOnDisk:    c.bytesOnDiskLocked(),
		LastCheckpoint: c.lastCheckpoint,
	}
}

func (c *Collection) bytesOnDiskLocked() int64 {
	var total int64
	for _, name := range [...]string{dataFileName, walFileName, offsetsFileName, indexFileName} {
		if info, err := os.Stat(filepath.Join(c.dir, name)); err == nil {
			total += info.Size()
		}
	}
	return total
}
