package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
)

const (
	segmentMagic      = "CWAL"
	segmentVersion    = byte(1)
	segmentHeaderSize = 16 // magic(4) + version(1) + created_ms(8) + reserved(3)
	maxRecordBody     = 64 << 20
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ErrHeaderMismatch means a segment file's header doesn't match the
// expected magic/version — recovery must abort rather than guess.
var ErrHeaderMismatch = errors.New("wal: segment header mismatch")

// ErrCRCMismatch flags a torn or corrupted record's checksum failure.
var ErrCRCMismatch = errors.New("wal: record crc mismatch")

// Segment is one `NNNNNNN.wal` file: a fixed header followed by
// length-prefixed, CRC32C-checked records appended in order.
type Segment struct {
	Seq       int
	path      string
	file      *os.File
	w         *bufio.Writer
	size      int64
	createdMs int64
}

// createSegment makes a brand-new segment file with seq and writes its
// header, positioned for appends.
func createSegment(path string, seq int, createdMs int64) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment %s: %w", path, err)
	}
	header := make([]byte, segmentHeaderSize)
	copy(header[0:4], segmentMagic)
	header[4] = segmentVersion
	binary.BigEndian.PutUint64(header[5:13], uint64(createdMs))
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: write segment header %s: %w", path, err)
	}
	return &Segment{
		Seq:       seq,
		path:      path,
		file:      f,
		w:         bufio.NewWriter(f),
		size:      segmentHeaderSize,
		createdMs: createdMs,
	}, nil
}

// openSegmentForAppend reopens an existing segment, validates its header,
// and seeks to end-of-file so new records append after whatever is there.
func openSegmentForAppend(path string, seq int) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	createdMs, err := validateHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	size, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: seek segment %s: %w", path, err)
	}
	return &Segment{
		Seq:       seq,
		path:      path,
		file:      f,
		w:         bufio.NewWriter(f),
		size:      size,
		createdMs: createdMs,
	}, nil
}

func validateHeader(f *os.File) (createdMs int64, err error) {
	header := make([]byte, segmentHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return 0, fmt.Errorf("wal: read header %s: %w", f.Name(), err)
	}
	if string(header[0:4]) != segmentMagic {
		return 0, fmt.Errorf("%w: bad magic in %s", ErrHeaderMismatch, f.Name())
	}
	if header[4] != segmentVersion {
		return 0, fmt.Errorf("%w: unsupported version %d in %s", ErrHeaderMismatch, header[4], f.Name())
	}
	return int64(binary.BigEndian.Uint64(header[5:13])), nil
}

// Append writes one record's already-encoded body, returning the number of
// bytes added to the segment (len-prefix + body + crc).
func (s *Segment) Append(body []byte) (int64, error) {
	if len(body) > maxRecordBody {
		return 0, fmt.Errorf("wal: record body %d exceeds max %d", len(body), maxRecordBody)
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(body)))

	crc := crc32.Checksum(body, crc32cTable)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)

	if _, err := s.w.Write(lenBuf[:n]); err != nil {
		return 0, fmt.Errorf("wal: write record length: %w", err)
	}
	if _, err := s.w.Write(body); err != nil {
		return 0, fmt.Errorf("wal: write record body: %w", err)
	}
	if _, err := s.w.Write(crcBuf[:]); err != nil {
		return 0, fmt.Errorf("wal: write record crc: %w", err)
	}

	written := int64(n) + int64(len(body)) + 4
	s.size += written
	return written, nil
}

// Flush pushes buffered writes to the OS; Sync additionally fsyncs to disk.
func (s *Segment) Flush() error {
	return s.w.Flush()
}

func (s *Segment) Sync() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Segment) SizeBytes() int64 { return s.size }

func (s *Segment) IsFull(maxSegmentSize int64) bool { return s.size >= maxSegmentSize }

func (s *Segment) Close() error {
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// ScanResult summarizes a single segment's replay.
type ScanResult struct {
	RecordsScanned     int
	TruncatedTailBytes int64
}

// scanSegmentFile opens path read-only and replays its records into visit,
// stopping at the first CRC mismatch (the remaining bytes are reported as
// the truncated tail) and returning ErrHeaderMismatch untouched if the
// header itself doesn't check out — recovery must abort in that case, not
// truncate and continue.
func scanSegmentFile(path string, visit func(Record) error) (ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ScanResult{}, fmt.Errorf("wal: open segment for scan %s: %w", path, err)
	}
	defer f.Close()

	if _, err := validateHeader(f); err != nil {
		return ScanResult{}, err
	}

	data, err := readAllFrom(f, segmentHeaderSize)
	if err != nil {
		return ScanResult{}, fmt.Errorf("wal: read segment %s: %w", path, err)
	}

	var result ScanResult
	off := 0
	for off < len(data) {
		l, n := binary.Uvarint(data[off:])
		if n <= 0 {
			result.TruncatedTailBytes = int64(len(data) - off)
			break
		}
		start := off + n
		end := start + int(l)
		crcEnd := end + 4
		if crcEnd > len(data) {
			result.TruncatedTailBytes = int64(len(data) - off)
			break
		}
		body := data[start:end]
		wantCRC := binary.BigEndian.Uint32(data[end:crcEnd])
		if crc32.Checksum(body, crc32cTable) != wantCRC {
			result.TruncatedTailBytes = int64(len(data) - off)
			break
		}
		rec, err := Decode(body)
		if err != nil {
			result.TruncatedTailBytes = int64(len(data) - off)
			break
		}
		if err := visit(rec); err != nil {
			return result, err
		}
		result.RecordsScanned++
		off = crcEnd
	}
	return result, nil
}

func readAllFrom(f *os.File, offset int64) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size() - offset
	if size <= 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}
