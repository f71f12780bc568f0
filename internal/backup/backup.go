// Package backup keeps rolling local copies of notebook content and edit
// history so work survives disconnects and client crashes. Backups are
// bucketed by calendar day with bounded retention per notebook path.
package backup

import (
	"reflect"
	"time"

	"github.com/nbsync/nbclient/internal/protocol"
)

// Retention limits.
const (
	// BackupsPerNotebook bounds the number of day-buckets kept per path.
	BackupsPerNotebook = 100
	// BackupsPerDay bounds the number of snapshots kept within one bucket.
	BackupsPerDay = 10
)

// Cell is a cell snapshot with transient execution state stripped.
type Cell struct {
	ID       int                         `json:"id"`
	Language string                      `json:"language"`
	Content  string                      `json:"content"`
	Metadata map[string]interface{}      `json:"metadata,omitempty"`
	Comments map[string]protocol.Comment `json:"comments,omitempty"`
}

// Update is one incremental edit recorded after a snapshot was taken.
type Update struct {
	Timestamp int64             `json:"timestamp"`
	Message   *protocol.Message `json:"message"`
}

// Backup is an immutable snapshot of a notebook plus the updates that
// arrived after it.
type Backup struct {
	Path      string                  `json:"path"`
	Cells     []Cell                  `json:"cells"`
	Config    protocol.NotebookConfig `json:"config"`
	Timestamp int64                   `json:"timestamp"`
	Updates   []Update                `json:"updates,omitempty"`
}

// Backups is the per-path container: day-bucket timestamp (UTC midnight,
// milliseconds) to the snapshots recorded that day, oldest first.
type Backups struct {
	Path    string              `json:"path"`
	Buckets map[int64][]*Backup `json:"backups"`
}

// NewBackups creates an empty container for a path.
func NewBackups(path string) *Backups {
	return &Backups{Path: path, Buckets: make(map[int64][]*Backup)}
}

// DayStamp returns the UTC-midnight millisecond timestamp bucketing t.
func DayStamp(t time.Time) int64 {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
}

// Equal compares two snapshots structurally: path, stripped cells and
// config. Updates are excluded so a snapshot that accumulated updates still
// equals a fresh snapshot of the same content. The original client compared
// slice references here, which silently disabled dedup after a reload; deep
// comparison is a deliberate behavior change.
func (b *Backup) Equal(o *Backup) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.Path == o.Path &&
		reflect.DeepEqual(b.Cells, o.Cells) &&
		reflect.DeepEqual(b.Config, o.Config)
}

// Add applies the retention policy and appends nb:
//
//  1. Today's bucket is created if missing; when full, its oldest entry
//     slides out before nb is appended.
//  2. Oldest buckets are then dropped entirely until the bucket count is
//     back within BackupsPerNotebook, so the cap holds after every add.
//
// It reports whether a bucket and/or an entry was evicted.
func (bs *Backups) Add(nb *Backup, now time.Time) (bucketEvicted, entryEvicted bool) {
	if bs.Buckets == nil {
		bs.Buckets = make(map[int64][]*Backup)
	}

	today := DayStamp(now)
	bucket := bs.Buckets[today]
	if len(bucket) >= BackupsPerDay {
		bucket = bucket[1:]
		entryEvicted = true
	}
	bs.Buckets[today] = append(bucket, nb)

	for len(bs.Buckets) > BackupsPerNotebook {
		oldest := int64(0)
		first := true
		for day := range bs.Buckets {
			if first || day < oldest {
				oldest = day
				first = false
			}
		}
		delete(bs.Buckets, oldest)
		bucketEvicted = true
	}
	return bucketEvicted, entryEvicted
}

// Latest resolves the most recent snapshot: today's last entry if today has
// a bucket, otherwise the last entry of the numerically largest bucket, or
// nil when no buckets exist.
func (bs *Backups) Latest(now time.Time) *Backup {
	if len(bs.Buckets) == 0 {
		return nil
	}

	if bucket, ok := bs.Buckets[DayStamp(now)]; ok && len(bucket) > 0 {
		return bucket[len(bucket)-1]
	}

	var newest int64
	found := false
	for day, bucket := range bs.Buckets {
		if len(bucket) == 0 {
			continue
		}
		if !found || day > newest {
			newest = day
			found = true
		}
	}
	if !found {
		return nil
	}
	bucket := bs.Buckets[newest]
	return bucket[len(bucket)-1]
}

// Count returns the total number of snapshots across all buckets.
func (bs *Backups) Count() int {
	n := 0
	for _, bucket := range bs.Buckets {
		n += len(bucket)
	}
	return n
}
