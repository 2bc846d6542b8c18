package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RogerFelipeNsk/crabcache-sub001/internal/itemcodec"
)

func putRecord(shard int, key, value string) Record {
	return Record{ShardID: shard, Op: OpPut, Item: itemcodec.Item{Key: []byte(key), Value: []byte(value)}}
}

func TestStartCreatesFirstSegment(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m, stats, err := Start(Config{Dir: dir}, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Shutdown() })

	if stats.SegmentsScanned != 0 || stats.EntriesRecovered != 0 {
		t.Fatalf("expected empty recovery stats on fresh dir, got %+v", stats)
	}
	if _, err := os.Stat(filepath.Join(dir, "0000001.wal")); err != nil {
		t.Fatalf("expected segment file to exist: %v", err)
	}
}

func TestAppendThenRecoverReplaysRecords(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	m, _, err := Start(Config{Dir: dir, Policy: SyncSync}, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := m.Append(putRecord(0, "k", "v")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	var replayed []Record
	m2, stats, err := Start(Config{Dir: dir}, func(rec Record) error {
		replayed = append(replayed, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("Start (recovery): %v", err)
	}
	t.Cleanup(func() { m2.Shutdown() })

	if stats.EntriesRecovered != 5 {
		t.Fatalf("EntriesRecovered = %d, want 5", stats.EntriesRecovered)
	}
	if len(replayed) != 5 {
		t.Fatalf("replayed %d records, want 5", len(replayed))
	}
}

func TestSegmentRotatesWhenFull(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// A tiny max segment size forces rotation after just a couple records.
	m, _, err := Start(Config{Dir: dir, MaxSegmentSize: segmentHeaderSize + 32}, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Shutdown() })

	for i := 0; i < 10; i++ {
		if err := m.Append(putRecord(0, "key", "value")); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected multiple segment files after rotation, got %d", len(entries))
	}
}

// CRC truncation (spec.md §8 property 6): flipping one payload byte in the
// final record must cause recovery to replay everything before it and
// report the tail as truncated, not fail outright.
func TestRecoveryTruncatesCorruptedTail(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	m, _, err := Start(Config{Dir: dir, Policy: SyncSync}, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Append(putRecord(0, "k", "v")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	path := filepath.Join(dir, "0000001.wal")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-5] ^= 0xFF // corrupt the last payload byte of the final record, just before its 4-byte CRC
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var replayed int
	m2, stats, err := Start(Config{Dir: dir}, func(Record) error {
		replayed++
		return nil
	})
	if err != nil {
		t.Fatalf("Start (recovery): %v", err)
	}
	t.Cleanup(func() { m2.Shutdown() })

	if replayed != 2 {
		t.Fatalf("replayed %d records, want 2 (last one corrupted)", replayed)
	}
	if stats.TruncatedTailBytes == 0 {
		t.Fatal("expected TruncatedTailBytes > 0")
	}
}

func TestRecoveryAbortsOnHeaderMismatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "0000001.wal")
	if err := os.WriteFile(path, []byte("NOTWALHEADERBYTES"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := Start(Config{Dir: dir}, func(Record) error { return nil }); err == nil {
		t.Fatal("expected Start to fail on header mismatch")
	}
}

func TestCheckpointRemovesOlderSegments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m, _, err := Start(Config{Dir: dir, MaxSegmentSize: segmentHeaderSize + 16}, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { m.Shutdown() })

	for i := 0; i < 6; i++ {
		if err := m.Append(putRecord(0, "k", "v")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	before, _ := os.ReadDir(dir)
	if len(before) < 2 {
		t.Skip("not enough segments rotated to exercise checkpoint")
	}

	if err := m.Checkpoint(m.nextSeq - 1); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	after, _ := os.ReadDir(dir)
	if len(after) >= len(before) {
		t.Fatalf("expected fewer segments after checkpoint: before=%d after=%d", len(before), len(after))
	}
}

func TestAsyncPolicyBackgroundFlushDoesNotBlockAppend(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m, _, err := Start(Config{Dir: dir, Policy: SyncAsync}, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := m.Append(putRecord(0, "k", "v")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
