package recorder

import (
	"io"
	"sort"

	"github.com/adred-codev/busline/bus"
	"github.com/adred-codev/busline/serialize"
)

// DuplicatePolicy resolves id collisions during Merge.
type DuplicatePolicy int

const (
	// KeepFirst keeps, for each colliding id, the occurrence that sorts
	// first by (timestamp, source index).
	KeepFirst DuplicatePolicy = iota
	// KeepLast keeps, for each colliding id, the occurrence that sorts
	// last by (timestamp, source index).
	KeepLast
	// KeepAll emits every occurrence, duplicates included.
	KeepAll
)

type mergeItem[B any] struct {
	msg      bus.Msg[B]
	srcIndex int
}

// Merge combines sources in timestamp order into sink (ties broken by
// source index, matching the order sources were supplied in),
// resolving id collisions per dup. Under KeepFirst/KeepLast, which
// occurrence of a colliding id wins depends on its position in that
// merged order. When colliding occurrences share a timestamp, the
// source index decides, so the kept body then depends on the order of
// sources and the merge is not commutative in content. Deciding KeepLast
// requires knowing every occurrence of an id before emitting any of
// them, so Merge reads every source fully into memory before writing
// anything to sink; this is a batch utility, not a streaming one.
func Merge[B any](sources []io.Reader, ser serialize.Serializer[B], dup DuplicatePolicy, sink io.Writer) (int64, error) {
	var all []mergeItem[B]
	for i, s := range sources {
		p := NewPlayer[B](s, ser, AsFastAsPossible)
		for m, err := range p.Messages() {
			if err != nil {
				return 0, err
			}
			all = append(all, mergeItem[B]{msg: m, srcIndex: i})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].msg.Timestamp != all[j].msg.Timestamp {
			return all[i].msg.Timestamp < all[j].msg.Timestamp
		}
		return all[i].srcIndex < all[j].srcIndex
	})

	keep := make([]bool, len(all))
	switch dup {
	case KeepFirst:
		seen := make(map[int64]bool, len(all))
		for i, item := range all {
			if seen[item.msg.ID] {
				continue
			}
			seen[item.msg.ID] = true
			keep[i] = true
		}
	case KeepLast:
		lastIndex := make(map[int64]int, len(all))
		for i, item := range all {
			lastIndex[item.msg.ID] = i
		}
		for i, item := range all {
			if lastIndex[item.msg.ID] == i {
				keep[i] = true
			}
		}
	case KeepAll:
		for i := range keep {
			keep[i] = true
		}
	}

	var written int64
	for i, item := range all {
		if !keep[i] {
			continue
		}
		buf, err := EncodeFrame(item.msg, ser)
		if err != nil {
			return written, err
		}
		_, err = sink.Write(*buf)
		ReleaseFrame(buf)
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Filter copies messages matching pred from src to sink.
func Filter[B any](src io.Reader, ser serialize.Serializer[B], pred func(bus.Msg[B]) bool, sink io.Writer) (int64, error) {
	p := NewPlayer[B](src, ser, AsFastAsPossible)
	var written int64
	for m, err := range p.Messages() {
		if err != nil {
			return written, err
		}
		if !pred(m) {
			continue
		}
		buf, err := EncodeFrame(m, ser)
		if err != nil {
			return written, err
		}
		_, err = sink.Write(*buf)
		ReleaseFrame(buf)
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Convert re-serialises a recording from oldSer to newSer, decoding
// bodies with oldSer and re-encoding (with newSer's version tag) into
// sink.
func Convert[B any](src io.Reader, oldSer, newSer serialize.Serializer[B], sink io.Writer) (int64, error) {
	p := NewPlayer[B](src, oldSer, AsFastAsPossible)
	var written int64
	for m, err := range p.Messages() {
		if err != nil {
			return written, err
		}
		buf, err := EncodeFrame(m, newSer)
		if err != nil {
			return written, err
		}
		_, err = sink.Write(*buf)
		ReleaseFrame(buf)
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// SplitBy selects the chunking boundary for Split.
type SplitBy int

const (
	ByMessageCount SplitBy = iota
	ByTimeDuration // ticks
	ByFileSize     // bytes
)

// Split partitions src into chunks, opening a new sink via newSink for
// each chunk boundary crossed. limit is interpreted per by.
func Split[B any](src io.Reader, ser serialize.Serializer[B], by SplitBy, limit int64, newSink func(chunkIndex int) (io.Writer, error)) (chunks int, err error) {
	p := NewPlayer[B](src, ser, AsFastAsPossible)

	chunkIndex := 0
	cur, err := newSink(chunkIndex)
	if err != nil {
		return 0, err
	}
	var count, bytesInChunk, firstTimestamp int64
	started := false

	flush := func() {
		chunkIndex++
		count, bytesInChunk = 0, 0
		started = false
	}

	for m, derr := range p.Messages() {
		if derr != nil {
			return chunkIndex + 1, derr
		}
		if !started {
			firstTimestamp = m.Timestamp
			started = true
		}

		boundary := false
		switch by {
		case ByMessageCount:
			boundary = count >= limit
		case ByTimeDuration:
			boundary = m.Timestamp-firstTimestamp >= limit
		case ByFileSize:
			boundary = bytesInChunk >= limit
		}
		if boundary && count > 0 {
			flush()
			cur, err = newSink(chunkIndex)
			if err != nil {
				return chunkIndex, err
			}
			firstTimestamp = m.Timestamp
			started = true
		}

		buf, err := EncodeFrame(m, ser)
		if err != nil {
			return chunkIndex + 1, err
		}
		n, err := cur.Write(*buf)
		bytesInChunk += int64(n)
		ReleaseFrame(buf)
		if err != nil {
			return chunkIndex + 1, err
		}
		count++
	}
	return chunkIndex + 1, nil
}
