// Package journal keeps a bounded on-disk history of bridge commands.
// Only command metadata is stored; extracted payloads never are.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/WebviewBridge/internal/logger"
	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

var bucketCommands = []byte("commands")

const (
	// DefaultMaxEntries bounds the journal when no limit is given.
	DefaultMaxEntries = 10000
	// queueSize is how many records may wait for the writer.
	queueSize = 256
)

// Journal implements bridge.Observer on top of BoltDB. Observed records
// are queued and written by a single background writer.
type Journal struct {
	db         *bolt.DB
	path       string
	maxEntries int
	log        *logger.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan item
	done    chan struct{}
	dropped atomic.Int64
}

// item is a record to write, or a flush marker when rec is nil.
type item struct {
	rec     *bridge.CommandRecord
	flushed chan struct{}
}

// Open opens or creates the journal at path.
func Open(path string, maxEntries int, log *logger.Logger) (*Journal, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if log == nil {
		log = logger.Nop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCommands)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	j := &Journal{
		db:         db,
		path:       path,
		maxEntries: maxEntries,
		log:        log.WithComponent("journal"),
		queue:      make(chan item, queueSize),
		done:       make(chan struct{}),
	}
	go j.writeLoop()

	return j, nil
}

func (j *Journal) writeLoop() {
	defer close(j.done)
	for it := range j.queue {
		if it.rec == nil {
			close(it.flushed)
			continue
		}
		if err := j.Append(*it.rec); err != nil {
			j.log.WithError(err).Warn("Failed to journal command")
		}
	}
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}

// ObserveCommand queues rec for the writer and returns at once. When the
// queue is full or the journal is closed the record is dropped and counted.
// Write failures are logged, never returned.
func (j *Journal) ObserveCommand(rec bridge.CommandRecord) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if !j.closed {
		select {
		case j.queue <- item{rec: &rec}:
			return
		default:
		}
	}
	j.dropped.Add(1)
	j.log.WithField("command_id", rec.ID).Warn("Journal record dropped")
}

// Flush waits until every record queued so far has been written.
func (j *Journal) Flush() {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return
	}
	flushed := make(chan struct{})
	j.queue <- item{flushed: flushed}
	j.mu.RUnlock()

	<-flushed
}

// Dropped returns how many observed records were never queued.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Append stores rec and trims the oldest entries beyond the limit.
func (j *Journal) Append(rec bridge.CommandRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommands)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}

		// sequences only grow, so everything at or below the cutoff is surplus
		if seq <= uint64(j.maxEntries) {
			return nil
		}
		cutoff := seq - uint64(j.maxEntries)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(n int) ([]bridge.CommandRecord, error) {
	var records []bridge.CommandRecord

	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommands)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil && (n <= 0 || len(records) < n); k, v = c.Prev() {
			var rec bridge.CommandRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Count returns how many records are stored.
func (j *Journal) Count() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommands)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close writes out queued records and closes the database.
// Later calls are no-ops.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
