package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Ensure Badger implements Journal
var _ Journal = (*Badger)(nil)

// Keys are prefixTransitions + big-endian uint16 seat length + seat +
// big-endian wall nanos + seq, so a reverse prefix scan yields a seat's newest
// transitions first and no seat name is a prefix of another seat's keys.
const prefixTransitions = "tr:"

// Badger persists transitions in a Badger database. Observe only queues the
// record; a writer goroutine commits batches.
type Badger struct {
	config Config
	db     *badger.DB
	seq    atomic.Uint64

	started atomic.Bool

	mu      sync.Mutex
	pending []Record
	// inflight is the batch being written; it stays visible to List until
	// the write has committed
	inflight []Record
	signal   chan struct{}
	flushed  chan struct{}
	done     chan struct{}
	once     sync.Once

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewBadger opens the journal database under config.DataDir
func NewBadger(config Config) (*Badger, error) {
	logger := log.With().Str("component", "journal-badger").Logger()

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultConfig().SyncInterval
	}

	dbPath := filepath.Join(config.DataDir, "journal")
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	options := badger.DefaultOptions(dbPath)
	options = options.WithLoggingLevel(badger.WARNING)
	options = options.WithSyncWrites(config.SyncWrites)

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger: %w", err)
	}

	j := &Badger{
		config:  config,
		db:      db,
		signal:  make(chan struct{}, 1),
		flushed: make(chan struct{}),
		done:    make(chan struct{}),
		metrics: metrics.GetMetrics(),
		logger:  logger,
	}
	j.seq.Store(uint64(time.Now().UnixNano()))
	return j, nil
}

// Observe queues event for the next batch
func (j *Badger) Observe(event domain.Event) {
	record := newRecord(j.seq.Add(1), event, time.Now())

	j.mu.Lock()
	j.pending = append(j.pending, record)
	full := len(j.pending) >= j.config.BatchSize
	j.mu.Unlock()

	if full {
		select {
		case j.signal <- struct{}{}:
		default:
		}
	}
}

// Start runs the batch writer until ctx is done or Shutdown is called
func (j *Badger) Start(ctx context.Context) error {
	j.logger.Info().Str("data_dir", j.config.DataDir).Msg("Starting transition journal")
	j.started.Store(true)
	defer close(j.flushed)

	ticker := time.NewTicker(j.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.signal:
			j.flush()
		case <-ticker.C:
			j.flush()
		case <-ctx.Done():
			j.flush()
			return nil
		case <-j.done:
			j.flush()
			return nil
		}
	}
}

// flush writes every pending record in one batch
func (j *Badger) flush() {
	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	j.inflight = batch
	j.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	defer func() {
		j.mu.Lock()
		j.inflight = nil
		j.mu.Unlock()
	}()

	j.metrics.JournalBatchSize.Observe(float64(len(batch)))
	timer := prometheus.NewTimer(j.metrics.JournalSyncDuration)
	defer timer.ObserveDuration()

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()

	for _, record := range batch {
		data, err := json.Marshal(record)
		if err != nil {
			j.logger.Error().Err(err).Uint64("seq", record.Seq).Msg("Failed to marshal transition")
			continue
		}
		entry := badger.NewEntry(transitionKey(record), data)
		if j.config.Retention > 0 {
			entry = entry.WithTTL(j.config.Retention)
		}
		if err := wb.SetEntry(entry); err != nil {
			j.logger.Error().Err(err).Msg("Failed to queue transition write")
			j.metrics.JournalOperations.WithLabelValues("append", "false").Inc()
			return
		}
	}

	if err := wb.Flush(); err != nil {
		j.logger.Error().Err(err).Int("records", len(batch)).Msg("Failed to write transitions")
		j.metrics.JournalOperations.WithLabelValues("append", "false").Add(float64(len(batch)))
		return
	}
	j.metrics.JournalOperations.WithLabelValues("append", "true").Add(float64(len(batch)))
}

// List returns up to limit records of seat, newest first. Records not yet
// written are included.
func (j *Badger) List(ctx context.Context, seat domain.SeatID, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultConfig().ListLimit
	}

	// Unwritten records are collected before reading the database: a record
	// that leaves memory has already been committed.
	unwritten := j.unwritten(seat)

	records := make([]Record, 0, limit)
	prefix := seatPrefix(seat)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the prefix range
		seek := make([]byte, len(prefix)+16)
		copy(seek, prefix)
		for i := len(prefix); i < len(seek); i++ {
			seek[i] = 0xFF
		}

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(records) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				j.logger.Error().Err(err).Msg("Failed to decode transition")
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		j.metrics.JournalOperations.WithLabelValues("list", "false").Inc()
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}

	j.metrics.JournalOperations.WithLabelValues("list", "true").Inc()
	return mergeNewest(records, unwritten, limit), nil
}

func (j *Badger) unwritten(seat domain.SeatID) []Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Record
	for _, batch := range [][]Record{j.inflight, j.pending} {
		for _, record := range batch {
			if record.Seat == seat {
				out = append(out, record)
			}
		}
	}
	return out
}

// mergeNewest adds unwritten records missing from stored and returns up to
// limit records in key order, newest first
func mergeNewest(stored, unwritten []Record, limit int) []Record {
	if len(unwritten) == 0 {
		return stored
	}
	seen := make(map[uint64]struct{}, len(stored))
	for _, record := range stored {
		seen[record.Seq] = struct{}{}
	}
	for _, record := range unwritten {
		if _, ok := seen[record.Seq]; !ok {
			stored = append(stored, record)
		}
	}
	sort.Slice(stored, func(a, b int) bool {
		return bytes.Compare(transitionKey(stored[a]), transitionKey(stored[b])) > 0
	})
	if len(stored) > limit {
		stored = stored[:limit]
	}
	return stored
}

// Shutdown stops the writer, flushes and closes the database
func (j *Badger) Shutdown(ctx context.Context) error {
	j.once.Do(func() { close(j.done) })

	if j.started.Load() {
		select {
		case <-j.flushed:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		j.flush()
	}

	if err := j.db.Close(); err != nil {
		j.logger.Error().Err(err).Msg("Error closing Badger database")
		return err
	}
	return nil
}

func seatPrefix(seat domain.SeatID) []byte {
	prefix := make([]byte, 0, len(prefixTransitions)+2+len(seat))
	prefix = append(prefix, prefixTransitions...)
	prefix = binary.BigEndian.AppendUint16(prefix, uint16(len(seat)))
	return append(prefix, seat...)
}

func transitionKey(record Record) []byte {
	key := seatPrefix(record.Seat)
	var suffix [16]byte
	binary.BigEndian.PutUint64(suffix[:8], uint64(record.Time.UnixNano()))
	binary.BigEndian.PutUint64(suffix[8:], record.Seq)
	return append(key, suffix[:]...)
}
