package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyncPolicy controls how aggressively a Manager pushes writes to disk,
// per spec.md §4.7's flush policy enum.
type SyncPolicy int

const (
	// SyncNone neither fsyncs nor flushes on append: records stay in the
	// segment's in-process buffer until it fills, Flush, or Shutdown.
	SyncNone SyncPolicy = iota
	// SyncAsync flushes the buffered writer on every append but defers
	// fsync to a background goroutine on a timer.
	SyncAsync
	// SyncSync fsyncs after every append. Slowest, strongest guarantee.
	SyncSync
	// SyncEveryN fsyncs once every N appends.
	SyncEveryN
)

const defaultMaxSegmentSize int64 = 64 << 20 // 64 MiB
const defaultAsyncInterval = 200 * time.Millisecond

// Config configures a Manager.
type Config struct {
	Dir            string
	MaxSegmentSize int64 // 0 => defaultMaxSegmentSize
	Policy         SyncPolicy
	EveryN         uint32        // used when Policy == SyncEveryN; 0 => 1
	AsyncInterval  time.Duration // used when Policy == SyncAsync; 0 => default
	Logger         *zap.Logger   // nil => zap.NewNop()
}

func (c Config) normalized() Config {
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = defaultMaxSegmentSize
	}
	if c.AsyncInterval <= 0 {
		c.AsyncInterval = defaultAsyncInterval
	}
	if c.EveryN == 0 {
		c.EveryN = 1
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// RecoveryStats summarizes what Start found scanning the WAL directory.
type RecoveryStats struct {
	EntriesRecovered   int
	SegmentsScanned    int
	TruncatedTailBytes int64
}

// Manager owns the active segment and the append/flush/checkpoint lifecycle
// for one WAL directory. Append is serialized by an internal mutex — the
// spec calls out that the WAL is the one process-wide singleton every
// shard worker shares, so contention here is deliberate and expected to be
// cheap (append is a memcpy plus a varint, not the fsync).
type Manager struct {
	cfg Config

	mu         sync.Mutex
	current    *Segment
	nextSeq    int
	sinceFlush uint32
	closed     bool
	fatal      error

	group      *errgroup.Group
	cancelFlag context.CancelFunc
}

// Start opens dir (creating it if absent), replays every segment found in
// file-number order through applyRecord, and leaves the manager ready to
// append: either the highest-numbered segment reopened, or a fresh one if
// none exists or the last is full.
//
// applyRecord is called once per recovered record in log order and must
// apply it directly to the owning shard's store without re-appending to
// the WAL — spec.md §5's recovery hook contract.
func Start(cfg Config, applyRecord func(Record) error) (*Manager, RecoveryStats, error) {
	cfg = cfg.normalized()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, RecoveryStats{}, fmt.Errorf("wal: create dir %s: %w", cfg.Dir, err)
	}

	seqs, err := listSegmentSeqs(cfg.Dir)
	if err != nil {
		return nil, RecoveryStats{}, err
	}

	var stats RecoveryStats
	for i, seq := range seqs {
		path := segmentPath(cfg.Dir, seq)
		result, err := scanSegmentFile(path, func(rec Record) error {
			if err := applyRecord(rec); err != nil {
				return err
			}
			stats.EntriesRecovered++
			return nil
		})
		if err != nil {
			return nil, RecoveryStats{}, fmt.Errorf("wal: recover segment %s: %w", path, err)
		}
		stats.SegmentsScanned++
		if result.TruncatedTailBytes > 0 {
			stats.TruncatedTailBytes += result.TruncatedTailBytes
			cfg.Logger.Warn("wal: truncating corrupted tail",
				zap.String("segment", path),
				zap.Int64("bytes", result.TruncatedTailBytes))
			size, statErr := fileSize(path)
			if statErr != nil {
				return nil, RecoveryStats{}, statErr
			}
			if err := os.Truncate(path, size-result.TruncatedTailBytes); err != nil {
				return nil, RecoveryStats{}, fmt.Errorf("wal: truncate torn segment %s: %w", path, err)
			}
			// A torn tail can only be the very last segment; any segment
			// after this one would mean a later segment was started before
			// this one finished, which never happens in append order.
			if i != len(seqs)-1 {
				return nil, RecoveryStats{}, fmt.Errorf("wal: truncated tail found mid-log at segment %s", path)
			}
		}
	}

	m := &Manager{cfg: cfg}
	if len(seqs) > 0 {
		last := seqs[len(seqs)-1]
		seg, err := openSegmentForAppend(segmentPath(cfg.Dir, last), last)
		if err != nil {
			return nil, RecoveryStats{}, err
		}
		m.nextSeq = last + 1
		if seg.IsFull(cfg.MaxSegmentSize) {
			if err := seg.Close(); err != nil {
				return nil, RecoveryStats{}, err
			}
			seg, err = createSegment(segmentPath(cfg.Dir, m.nextSeq), m.nextSeq, nowMs())
			if err != nil {
				return nil, RecoveryStats{}, err
			}
			m.nextSeq++
		}
		m.current = seg
	} else {
		m.nextSeq = 1
		seg, err := createSegment(segmentPath(cfg.Dir, 1), 1, nowMs())
		if err != nil {
			return nil, RecoveryStats{}, err
		}
		m.current = seg
		m.nextSeq = 2
	}

	if cfg.Policy == SyncAsync {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancelFlag = cancel
		g, gctx := errgroup.WithContext(ctx)
		m.group = g
		g.Go(func() error { return m.runAsyncFlusher(gctx) })
	}

	return m, stats, nil
}

func (m *Manager) runAsyncFlusher(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.AsyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.mu.Lock()
			err := m.current.Sync()
			m.mu.Unlock()
			if err != nil {
				m.cfg.Logger.Error("wal: async fsync failed", zap.Error(err))
			}
		}
	}
}

// Append encodes rec, appends it to the current segment (rotating first if
// the segment is full), and applies the configured sync policy. Once a
// fatal I/O error has been recorded, Append refuses further mutating
// commands per spec.md §7's fatal-I/O rule.
func (m *Manager) Append(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fatal != nil {
		return fmt.Errorf("wal: refusing append after fatal I/O error: %w", m.fatal)
	}
	if m.closed {
		return fmt.Errorf("wal: append after shutdown")
	}

	if m.current.IsFull(m.cfg.MaxSegmentSize) {
		if err := m.rotateLocked(); err != nil {
			m.fatal = err
			return err
		}
	}

	body := Encode(rec)
	if _, err := m.current.Append(body); err != nil {
		if retryErr := m.retryAfterPartialWrite(body); retryErr != nil {
			m.fatal = retryErr
			return retryErr
		}
	}

	switch m.cfg.Policy {
	case SyncSync:
		if err := m.current.Sync(); err != nil {
			m.fatal = err
			return err
		}
	case SyncAsync:
		if err := m.current.Flush(); err != nil {
			m.fatal = err
			return err
		}
	case SyncEveryN:
		m.sinceFlush++
		if m.sinceFlush >= m.cfg.EveryN {
			if err := m.current.Sync(); err != nil {
				m.fatal = err
				return err
			}
			m.sinceFlush = 0
		} else if err := m.current.Flush(); err != nil {
			m.fatal = err
			return err
		}
	}
	return nil
}

// retryAfterPartialWrite implements spec.md §7's transient-I/O handling: a
// partial write during append closes the torn segment, opens a fresh one,
// and retries the append once before surfacing the failure as fatal.
func (m *Manager) retryAfterPartialWrite(body []byte) error {
	m.cfg.Logger.Warn("wal: retrying append after partial write", zap.Int("segment", m.current.Seq))
	if err := m.current.Close(); err != nil {
		return fmt.Errorf("wal: close torn segment: %w", err)
	}
	if err := m.rotateLocked(); err != nil {
		return err
	}
	if _, err := m.current.Append(body); err != nil {
		return fmt.Errorf("wal: append retry failed: %w", err)
	}
	return nil
}

func (m *Manager) rotateLocked() error {
	if err := m.current.Close(); err != nil {
		return fmt.Errorf("wal: close segment %d: %w", m.current.Seq, err)
	}
	seg, err := createSegment(segmentPath(m.cfg.Dir, m.nextSeq), m.nextSeq, nowMs())
	if err != nil {
		return err
	}
	m.cfg.Logger.Info("wal: rotated segment", zap.Int("seq", seg.Seq))
	m.current = seg
	m.nextSeq++
	return nil
}

// Flush forces the current segment's buffered writes to disk, independent
// of the configured sync policy. Used at shutdown.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Sync()
}

// Checkpoint deletes every segment file strictly older than keepFromSeq,
// per spec.md §4.7 — called only after the caller has durably persisted a
// snapshot covering everything in those segments. crabcache's core has no
// snapshot mechanism (spec.md reserves it), so Checkpoint exists for
// completeness and callers that checkpoint by other means (e.g. a full WAL
// replay into a fresh store followed by deleting the old directory).
func (m *Manager) Checkpoint(keepFromSeq int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seqs, err := listSegmentSeqs(m.cfg.Dir)
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		if seq >= keepFromSeq {
			continue
		}
		if err := os.Remove(segmentPath(m.cfg.Dir, seq)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("wal: checkpoint remove segment %d: %w", seq, err)
		}
	}
	return nil
}

// Shutdown flushes and closes the current segment and joins the background
// flusher goroutine, if one is running.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancelFlag
	group := m.group
	closeErr := m.current.Close()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var groupErr error
	if group != nil {
		groupErr = group.Wait()
	}
	if closeErr != nil {
		return closeErr
	}
	return groupErr
}

func segmentPath(dir string, seq int) string {
	return filepath.Join(dir, fmt.Sprintf("%07d.wal", seq))
}

func listSegmentSeqs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: list dir %s: %w", dir, err)
	}
	var seqs []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wal") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".wal")
		seq, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("wal: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

func nowMs() int64 { return time.Now().UnixMilli() }
