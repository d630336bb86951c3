package recorder

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/adred-codev/busline/bus"
)

const indexMagic uint32 = 0x58444952 // "RIDX" read little-endian, per the wire grammar
const indexHeaderLen = 28
const indexEntryLen = 24
const defaultIndexInterval = 1000

// IndexEntry is one (message_number, file_offset, timestamp) sample.
type IndexEntry struct {
	MessageNumber int64
	FileOffset    int64
	Timestamp     int64
}

// IndexWriter builds the sparse seek index sidecar in lock-step with a
// Recorder. The header is written with placeholder totals by
// NewIndexWriter and
// rewritten with final totals at Finalize, which requires w to support
// Seek.
type IndexWriter struct {
	w             io.WriteSeeker
	interval      int32
	totalMessages int64
	entryCount    int64
}

// NewIndexWriter writes the index header and returns a writer ready to
// accept entries.
func NewIndexWriter(w io.WriteSeeker, interval int32) (*IndexWriter, error) {
	if interval <= 0 {
		interval = defaultIndexInterval
	}
	iw := &IndexWriter{w: w, interval: interval}
	if err := iw.writeHeader(); err != nil {
		return nil, err
	}
	return iw, nil
}

func (iw *IndexWriter) writeHeader() error {
	var hdr [indexHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], indexMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], 1)
	binary.LittleEndian.PutUint16(hdr[6:8], 0)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(iw.interval))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(iw.totalMessages))
	binary.LittleEndian.PutUint64(hdr[20:28], uint64(iw.entryCount))
	_, err := iw.w.Write(hdr[:])
	return err
}

// WriteEntry appends one sparse index sample.
func (iw *IndexWriter) WriteEntry(msgNumber, fileOffset, timestamp int64) error {
	var e [indexEntryLen]byte
	binary.LittleEndian.PutUint64(e[0:8], uint64(msgNumber))
	binary.LittleEndian.PutUint64(e[8:16], uint64(fileOffset))
	binary.LittleEndian.PutUint64(e[16:24], uint64(timestamp))
	if _, err := iw.w.Write(e[:]); err != nil {
		return err
	}
	iw.entryCount++
	return nil
}

// Finalize rewrites the header with the final total_messages and
// entry_count, per §4.6's dispose sequence.
func (iw *IndexWriter) Finalize(totalMessages int64) error {
	iw.totalMessages = totalMessages
	if _, err := iw.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return iw.writeHeader()
}

// ReadIndex parses an index sidecar fully into memory.
func ReadIndex(r io.Reader) (interval int32, totalMessages int64, entries []IndexEntry, err error) {
	var hdr [indexHeaderLen]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, fmt.Errorf("recorder: read index header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != indexMagic {
		return 0, 0, nil, fmt.Errorf("recorder: %w: bad index magic %x", bus.ErrIndex, magic)
	}
	version := binary.LittleEndian.Uint16(hdr[4:6])
	if version != 1 {
		return 0, 0, nil, fmt.Errorf("recorder: %w: unsupported index version %d", bus.ErrIndex, version)
	}
	interval = int32(binary.LittleEndian.Uint32(hdr[8:12]))
	totalMessages = int64(binary.LittleEndian.Uint64(hdr[12:20]))
	entryCount := int64(binary.LittleEndian.Uint64(hdr[20:28]))

	entries = make([]IndexEntry, 0, entryCount)
	var buf [indexEntryLen]byte
	for i := int64(0); i < entryCount; i++ {
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, nil, fmt.Errorf("recorder: %w: truncated index entries: %v", bus.ErrIndex, err)
		}
		entries = append(entries, IndexEntry{
			MessageNumber: int64(binary.LittleEndian.Uint64(buf[0:8])),
			FileOffset:    int64(binary.LittleEndian.Uint64(buf[8:16])),
			Timestamp:     int64(binary.LittleEndian.Uint64(buf[16:24])),
		})
	}
	return interval, totalMessages, entries, nil
}

// seekEntry returns the largest entry with MessageNumber <= n (for
// seek_to_message) or the largest entry with Timestamp <= t (for
// seek_to_timestamp, pass byTimestamp=true and n ignored).
func seekEntry(entries []IndexEntry, n int64, t int64, byTimestamp bool) (IndexEntry, bool) {
	idx := sort.Search(len(entries), func(i int) bool {
		if byTimestamp {
			return entries[i].Timestamp > t
		}
		return entries[i].MessageNumber > n
	})
	if idx == 0 {
		return IndexEntry{}, false
	}
	return entries[idx-1], true
}
