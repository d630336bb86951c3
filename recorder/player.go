package recorder

import (
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/adred-codev/busline/bus"
	"github.com/adred-codev/busline/serialize"
)

// PacingMode controls how Player.Messages spaces out yields.
type PacingMode int

const (
	AsFastAsPossible PacingMode = iota
	RespectOriginalMessageIntervals
)

// Player reads frames sequentially from src and yields a lazy,
// finite, non-restartable message sequence.
type Player[B any] struct {
	src  io.Reader
	ser  serialize.Serializer[B]
	mode PacingMode

	prevTimestamp int64
	hasPrev       bool
}

// NewPlayer creates a Player reading from src with ser.
func NewPlayer[B any](src io.Reader, ser serialize.Serializer[B], mode PacingMode) *Player[B] {
	return &Player[B]{src: src, ser: ser, mode: mode}
}

// Messages returns a lazy iterator over the decoded message sequence.
// Iteration stops at EOF (yields nothing further) or on the first
// decode error (yielded once, then the sequence ends).
func (p *Player[B]) Messages() iter.Seq2[bus.Msg[B], error] {
	return func(yield func(bus.Msg[B], error) bool) {
		for {
			m, err := DecodeFrame(p.src, p.ser)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(bus.Msg[B]{}, err)
				return
			}
			if p.mode == RespectOriginalMessageIntervals && p.hasPrev {
				if delta := m.Timestamp - p.prevTimestamp; delta > 0 {
					time.Sleep(time.Duration(delta))
				}
			}
			p.prevTimestamp = m.Timestamp
			p.hasPrev = true
			if !yield(m, nil) {
				return
			}
		}
	}
}

// IndexedPlayer wraps a seekable source and a loaded index, adding
// seek_to_message/seek_to_timestamp on top of ordinary Player decoding.
type IndexedPlayer[B any] struct {
	*Player[B]
	src           io.ReadSeeker
	entries       []IndexEntry
	totalMessages int64
}

// NewIndexedPlayer loads indexSrc fully and wraps src for seeking.
func NewIndexedPlayer[B any](src io.ReadSeeker, indexSrc io.Reader, ser serialize.Serializer[B], mode PacingMode) (*IndexedPlayer[B], error) {
	_, total, entries, err := ReadIndex(indexSrc)
	if err != nil {
		return nil, err
	}
	return &IndexedPlayer[B]{
		Player:        NewPlayer[B](src, ser, mode),
		src:           src,
		entries:       entries,
		totalMessages: total,
	}, nil
}

// TotalMessages reports the recording's total message count, from the
// index header.
func (ip *IndexedPlayer[B]) TotalMessages() int64 { return ip.totalMessages }

// SeekToMessage seeks to the sparse entry with the largest
// message_number <= n and returns that message_number.
func (ip *IndexedPlayer[B]) SeekToMessage(n int64) (int64, error) {
	if n < 0 || n >= ip.totalMessages {
		return 0, fmt.Errorf("recorder: %w: message number %d out of range [0,%d)", bus.ErrArgument, n, ip.totalMessages)
	}
	return ip.seekTo(n, 0, false)
}

// SeekToTimestamp seeks to the sparse entry with the largest
// timestamp <= t and returns that entry's message_number.
func (ip *IndexedPlayer[B]) SeekToTimestamp(t int64) (int64, error) {
	return ip.seekTo(0, t, true)
}

func (ip *IndexedPlayer[B]) seekTo(n, t int64, byTimestamp bool) (int64, error) {
	e, ok := seekEntry(ip.entries, n, t, byTimestamp)
	offset, msgNum := int64(0), int64(0)
	if ok {
		offset, msgNum = e.FileOffset, e.MessageNumber
	}
	if _, err := ip.src.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	ip.Player.hasPrev = false
	return msgNum, nil
}
