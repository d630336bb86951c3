// Package recorder implements the binary frame codec, Recorder,
// Player, Indexed Player, and recording utilities that durably capture
// and replay a bus channel's message stream.
package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/adred-codev/busline/bus"
	"github.com/adred-codev/busline/internal/bufpool"
	"github.com/adred-codev/busline/serialize"
)

// fixedHeaderLen is bytes [4..28) of the frame: body_offset, msg_type,
// msg_version, options, msg_id, msg_timestamp.
const fixedHeaderLen = 24

var defaultPool = bufpool.New()

// EncodeFrame writes m as one framed record into a pooled buffer
// (length-prefixed/-suffixed per the wire grammar) and returns it. The
// caller must ReleaseFrame the buffer once it has been flushed to the
// sink so the output buffer is reused. Encoding is not allocation-free:
// the body is serialised into a fresh bytes.Buffer and the key and from
// strings are copied to byte slices on every call.
//
// total_len (the value written into both the 4-byte prefix and the
// trailing 4-byte suffix) counts everything in the record after the
// prefix itself, i.e. recordLen-4, not recordLen: a reader computing
// an expected byte count from total_len must still add 4 for the
// prefix field it already consumed.
func EncodeFrame[B any](m bus.Msg[B], ser serialize.Serializer[B]) (*[]byte, error) {
	var bodyBuf bytes.Buffer
	if m.Type == bus.ChannelUpdate {
		if err := ser.Serialize(m.Body, &bodyBuf); err != nil {
			return nil, fmt.Errorf("recorder: serialize body: %w", err)
		}
	}

	var keyBytes, fromBytes []byte
	if m.HasKey {
		keyBytes = []byte(m.Key)
	}
	if m.From != "" {
		fromBytes = []byte(m.From)
	}

	bodyOffset := 28 + 4 + len(keyBytes) + 4 + len(fromBytes)
	writtenBytes := fixedHeaderLen + 4 + len(keyBytes) + 4 + len(fromBytes) + bodyBuf.Len()
	totalLen := writtenBytes + 4
	recordLen := 4 + totalLen

	buf := defaultPool.Get(recordLen)
	*buf = (*buf)[:recordLen]
	out := *buf

	binary.LittleEndian.PutUint32(out[0:4], uint32(totalLen))
	binary.LittleEndian.PutUint16(out[4:6], uint16(bodyOffset))
	out[6] = byte(m.Type)
	out[7] = 1 // msg_version

	ver := ser.Version()
	out[8] = 0
	out[9] = 0
	out[10] = ver.Major
	out[11] = ver.Minor

	binary.LittleEndian.PutUint64(out[12:20], uint64(m.ID))
	binary.LittleEndian.PutUint64(out[20:28], uint64(m.Timestamp))

	off := 28
	binary.LittleEndian.PutUint32(out[off:off+4], uint32(len(keyBytes)))
	off += 4
	copy(out[off:], keyBytes)
	off += len(keyBytes)

	binary.LittleEndian.PutUint32(out[off:off+4], uint32(len(fromBytes)))
	off += 4
	copy(out[off:], fromBytes)
	off += len(fromBytes)

	if bodyBuf.Len() > 0 {
		copy(out[off:], bodyBuf.Bytes())
		off += bodyBuf.Len()
	}

	binary.LittleEndian.PutUint32(out[recordLen-4:recordLen], uint32(totalLen))

	return buf, nil
}

// DecodeFrame reads one framed record from r and decodes it with ser.
// Returns bus.ErrFrameCorrupt (wrapped) on any prefix/suffix mismatch,
// out-of-range body_offset, or a truncated length-prefixed string.
func DecodeFrame[B any](r io.Reader, ser serialize.Serializer[B]) (bus.Msg[B], error) {
	var zero bus.Msg[B]

	var prefixBuf [4]byte
	if _, err := io.ReadFull(r, prefixBuf[:]); err != nil {
		return zero, err // EOF or real I/O error propagates as-is
	}
	totalLen := binary.LittleEndian.Uint32(prefixBuf[:])
	if totalLen < fixedHeaderLen+8+4 {
		return zero, fmt.Errorf("recorder: %w: implausible total_len %d", bus.ErrFrameCorrupt, totalLen)
	}

	rest := make([]byte, totalLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return zero, fmt.Errorf("recorder: %w: truncated record: %v", bus.ErrFrameCorrupt, err)
	}

	suffix := binary.LittleEndian.Uint32(rest[len(rest)-4:])
	if suffix != totalLen {
		return zero, fmt.Errorf("recorder: %w: prefix %d != suffix %d", bus.ErrFrameCorrupt, totalLen, suffix)
	}

	record := append(prefixBuf[:], rest...)

	bodyOffset := int(binary.LittleEndian.Uint16(record[4:6]))
	if bodyOffset < 28 || bodyOffset > len(record)-4 {
		return zero, fmt.Errorf("recorder: %w: body_offset %d out of range", bus.ErrFrameCorrupt, bodyOffset)
	}
	msgType := bus.MsgType(record[6])
	serMajor := record[10]
	serMinor := record[11]
	_ = serMinor
	if serMajor != ser.Version().Major {
		return zero, fmt.Errorf("recorder: %w: serializer major version %d != reader's %d", bus.ErrFrameCorrupt, serMajor, ser.Version().Major)
	}
	msgID := int64(binary.LittleEndian.Uint64(record[12:20]))
	msgTimestamp := int64(binary.LittleEndian.Uint64(record[20:28]))

	off := 28
	key, newOff, err := readLenPrefixed(record, off)
	if err != nil {
		return zero, err
	}
	off = newOff
	from, newOff, err := readLenPrefixed(record, off)
	if err != nil {
		return zero, err
	}
	off = newOff

	if off != bodyOffset {
		return zero, fmt.Errorf("recorder: %w: computed body offset %d != declared %d", bus.ErrFrameCorrupt, off, bodyOffset)
	}

	bodyEnd := len(record) - 4
	var body B
	if msgType == bus.ChannelUpdate && bodyEnd > off {
		body, err = ser.Deserialize(record[off:bodyEnd])
		if err != nil {
			return zero, fmt.Errorf("recorder: deserialize body: %w", err)
		}
	}

	return bus.Msg[B]{
		ID:        msgID,
		Timestamp: msgTimestamp,
		Type:      msgType,
		Key:       key,
		HasKey:    key != "",
		From:      from,
		Body:      body,
	}, nil
}

// readLenPrefixed reads a u32 length prefix followed by that many UTF-8
// bytes starting at off, returning the decoded string and the offset
// just past it. Length 0 decodes to the empty string (NULL and empty
// are indistinguishable on the wire, per the boundary behaviour §8).
func readLenPrefixed(record []byte, off int) (string, int, error) {
	if off+4 > len(record) {
		return "", 0, fmt.Errorf("recorder: %w: truncated length prefix at %d", bus.ErrFrameCorrupt, off)
	}
	n := int(binary.LittleEndian.Uint32(record[off : off+4]))
	off += 4
	if n < 0 || off+n > len(record) {
		return "", 0, fmt.Errorf("recorder: %w: declared length %d exceeds remaining bytes", bus.ErrFrameCorrupt, n)
	}
	s := string(record[off : off+n])
	return s, off + n, nil
}

// ReleaseFrame returns a buffer obtained from EncodeFrame to the pool.
func ReleaseFrame(buf *[]byte) { defaultPool.Put(buf) }
