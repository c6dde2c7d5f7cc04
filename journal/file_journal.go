package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const (
	journalFilePerm = 0600
	journalDirPerm  = 0700

	// maxRecordSize bounds a single record on disk. Auction records are
	// tiny; anything larger means a corrupt length prefix.
	maxRecordSize = 1 * 1024 * 1024

	defaultBufSize        = 64 * 1024
	defaultMaxSegmentSize = 16 * 1024 * 1024
)

// FileJournal is a segmented on-disk journal. Records are CBOR-encoded
// and framed as a 4-byte big-endian length, the payload, and a CRC32
// trailer. Segments are named journal-00000, journal-00001, ... and
// rotate at a size threshold; Checkpoint deletes segments that hold only
// already-persisted sequence numbers.
type FileJournal struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	buf  *bufio.Writer
	enc  *encoder

	closed       bool
	segmentIndex int
	segmentSize  int64
	maxSegSize   int64
	syncEach     bool
}

var _ Journal = (*FileJournal)(nil)

// NewFileJournal opens or creates a journal in dir with default options:
// 16MB segments and an fsync after every append.
func NewFileJournal(dir string) (*FileJournal, error) {
	return NewFileJournalWithOptions(dir, defaultMaxSegmentSize, true)
}

// NewFileJournalWithOptions opens or creates a journal in dir. With
// syncEachAppend false, appends are buffered and reach disk on rotation
// and Close; a crash can then lose the tail.
func NewFileJournalWithOptions(dir string, maxSegSize int64, syncEachAppend bool) (*FileJournal, error) {
	if err := os.MkdirAll(dir, journalDirPerm); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if maxSegSize <= 0 {
		maxSegSize = defaultMaxSegmentSize
	}

	j := &FileJournal{
		dir:        dir,
		maxSegSize: maxSegSize,
		syncEach:   syncEachAppend,
	}

	segments := findSegments(dir)
	if len(segments) > 0 {
		j.segmentIndex = segments[len(segments)-1]
	}
	if err := j.openSegment(j.segmentIndex); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *FileJournal) segmentPath(index int) string {
	return filepath.Join(j.dir, fmt.Sprintf("journal-%05d", index))
}

// openSegment opens a segment file for appending. Callers hold j.mu or
// have exclusive access during construction.
func (j *FileJournal) openSegment(index int) error {
	file, err := os.OpenFile(j.segmentPath(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, journalFilePerm)
	if err != nil {
		return fmt.Errorf("open journal segment %d: %w", index, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat journal segment %d: %w", index, err)
	}

	j.file = file
	j.buf = bufio.NewWriterSize(file, defaultBufSize)
	j.enc = newEncoder(j.buf)
	j.segmentSize = info.Size()
	return nil
}

// Append durably records one accepted command, rotating to a fresh
// segment when the current one has reached the size threshold.
func (j *FileJournal) Append(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	if j.segmentSize >= j.maxSegSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	n, err := j.enc.Encode(rec)
	if err != nil {
		return err
	}
	j.segmentSize += int64(n)

	if j.syncEach {
		return j.flushAndSync()
	}
	return nil
}

// rotate seals the current segment and opens the next one. Callers hold
// j.mu.
func (j *FileJournal) rotate() error {
	if err := j.flushAndSync(); err != nil {
		return err
	}
	if err := j.file.Close(); err != nil {
		return err
	}
	j.segmentIndex++
	return j.openSegment(j.segmentIndex)
}

// flushAndSync pushes buffered records to disk. Callers hold j.mu.
func (j *FileJournal) flushAndSync() error {
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Replay streams every record across all segments, oldest first. A
// record whose checksum does not match fails the replay with
// ErrJournalCorrupt. A segment that ends mid-record is tolerated only at
// the journal tail, where it marks an append cut short by a crash;
// everything before the tear is replayed.
func (j *FileJournal) Replay(fn func(Record) error) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrJournalClosed
	}
	if err := j.flushAndSync(); err != nil {
		j.mu.Unlock()
		return err
	}
	segments := findSegments(j.dir)
	j.mu.Unlock()

	for i, idx := range segments {
		last := i == len(segments)-1
		if err := j.replaySegment(idx, last, fn); err != nil {
			return err
		}
	}
	return nil
}

func (j *FileJournal) replaySegment(index int, last bool, fn func(Record) error) error {
	file, err := os.Open(j.segmentPath(index))
	if err != nil {
		return fmt.Errorf("open journal segment %d: %w", index, err)
	}
	defer file.Close()

	dec := newDecoder(bufio.NewReader(file))
	for {
		rec, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			if last {
				// Torn tail from a crash mid-append.
				return nil
			}
			return fmt.Errorf("%w: segment %d truncated", ErrJournalCorrupt, index)
		}
		if err != nil {
			return fmt.Errorf("replay segment %d: %w", index, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Checkpoint deletes segments that contain only records with sequence
// numbers at or below seq. The current segment is never deleted. Call it
// after downstream state has been safely persisted through seq.
func (j *FileJournal) Checkpoint(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}
	if err := j.flushAndSync(); err != nil {
		return err
	}

	segments := findSegments(j.dir)
	for _, idx := range segments {
		if idx >= j.segmentIndex {
			break
		}
		disposable, err := j.segmentBelow(idx, seq)
		if err != nil || !disposable {
			// Keep this and everything after it; segments are ordered.
			break
		}
		if err := os.Remove(j.segmentPath(idx)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete journal segment %d: %w", idx, err)
		}
	}
	return nil
}

// segmentBelow reports whether every record in the segment has Seq <= seq.
func (j *FileJournal) segmentBelow(index int, seq uint64) (bool, error) {
	file, err := os.Open(j.segmentPath(index))
	if err != nil {
		return false, err
	}
	defer file.Close()

	dec := newDecoder(bufio.NewReader(file))
	for {
		rec, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if rec.Seq > seq {
			return false, nil
		}
	}
}

// SegmentCount returns how many segment files the journal currently holds.
func (j *FileJournal) SegmentCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(findSegments(j.dir))
}

// Close flushes, syncs, and closes the journal. Further appends fail with
// ErrJournalClosed.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.buf.Flush(); err != nil {
		return err
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}

// findSegments returns the segment indices present in dir, ascending.
func findSegments(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var segments []int
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), "journal-%05d", &idx); n == 1 {
			segments = append(segments, idx)
		}
	}
	sort.Ints(segments)
	return segments
}

// encoder frames CBOR records as length prefix + payload + CRC32 trailer.
type encoder struct {
	w   io.Writer
	buf []byte
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{w: w, buf: make([]byte, 4)}
}

// Encode writes one record and returns the number of bytes written.
func (e *encoder) Encode(rec Record) (int, error) {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode journal record: %w", err)
	}

	binary.BigEndian.PutUint32(e.buf, uint32(len(data)))
	if _, err := e.w.Write(e.buf); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(data); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(e.buf, crc32.ChecksumIEEE(data))
	if _, err := e.w.Write(e.buf); err != nil {
		return 0, err
	}
	return 4 + len(data) + 4, nil
}

type decoder struct {
	r   io.Reader
	buf []byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: r, buf: make([]byte, 4)}
}

func (d *decoder) Decode() (Record, error) {
	var rec Record

	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return rec, err
	}
	length := binary.BigEndian.Uint32(d.buf)
	if length > maxRecordSize {
		return rec, fmt.Errorf("%w: record length %d", ErrJournalCorrupt, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return rec, err
	}

	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return rec, err
	}
	expected := binary.BigEndian.Uint32(d.buf)
	if actual := crc32.ChecksumIEEE(data); actual != expected {
		return rec, fmt.Errorf("%w: CRC mismatch (expected %08x, got %08x)", ErrJournalCorrupt, expected, actual)
	}

	if err := cbor.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrJournalCorrupt, err)
	}
	return rec, nil
}
