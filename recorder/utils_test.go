package recorder

import (
	"bytes"
	"io"
	"testing"

	"github.com/adred-codev/busline/bus"
	"github.com/adred-codev/busline/serialize"
)

func encodeAll(t *testing.T, ser serialize.Serializer[int], msgs []bus.Msg[int]) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		b, err := EncodeFrame(m, ser)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := buf.Write(*b); err != nil {
			t.Fatalf("write: %v", err)
		}
		ReleaseFrame(b)
	}
	return &buf
}

func decodeAll(t *testing.T, ser serialize.Serializer[int], r io.Reader) []bus.Msg[int] {
	t.Helper()
	p := NewPlayer[int](r, ser, AsFastAsPossible)
	var out []bus.Msg[int]
	for m, err := range p.Messages() {
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, m)
	}
	return out
}

// Two sources whose id=1 entries collide: A's sorts first by
// (timestamp, source index), B's sorts last.
func mergeFixtures(t *testing.T, ser serialize.Serializer[int]) (a, b *bytes.Buffer) {
	a = encodeAll(t, ser, []bus.Msg[int]{
		{ID: 1, Timestamp: 10, Type: bus.ChannelUpdate, Body: 100},
		{ID: 3, Timestamp: 30, Type: bus.ChannelUpdate, Body: 300},
	})
	b = encodeAll(t, ser, []bus.Msg[int]{
		{ID: 1, Timestamp: 20, Type: bus.ChannelUpdate, Body: 999}, // collides with a's id=1
		{ID: 2, Timestamp: 15, Type: bus.ChannelUpdate, Body: 200},
	})
	return a, b
}

func TestMergeKeepFirstResolvesIDCollision(t *testing.T) {
	ser := serialize.JSON[int]{}
	a, b := mergeFixtures(t, ser)

	var sink bytes.Buffer
	written, err := Merge[int]([]io.Reader{a, b}, ser, KeepFirst, &sink)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if written != 3 {
		t.Fatalf("written = %d, want 3 (one id=1 dropped)", written)
	}

	got := decodeAll(t, ser, bytes.NewReader(sink.Bytes()))
	if len(got) != 3 {
		t.Fatalf("decoded %d messages, want 3", len(got))
	}
	// a's id=1 (timestamp 10) sorts before b's id=1 (timestamp 20), so
	// KeepFirst must keep a's body (100), not b's (999).
	for _, m := range got {
		if m.ID == 1 && m.Body != 100 {
			t.Fatalf("KeepFirst kept body %d for id=1, want 100", m.Body)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("output not timestamp-ordered: %+v", got)
		}
	}
}

func TestMergeKeepLastResolvesIDCollision(t *testing.T) {
	ser := serialize.JSON[int]{}
	a, b := mergeFixtures(t, ser)

	var sink bytes.Buffer
	written, err := Merge[int]([]io.Reader{a, b}, ser, KeepLast, &sink)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if written != 3 {
		t.Fatalf("written = %d, want 3 (one id=1 dropped)", written)
	}

	got := decodeAll(t, ser, bytes.NewReader(sink.Bytes()))
	for _, m := range got {
		if m.ID == 1 && m.Body != 999 {
			t.Fatalf("KeepLast kept body %d for id=1, want 999 (b's later occurrence)", m.Body)
		}
	}
}

func TestMergeKeepAllEmitsEveryOccurrence(t *testing.T) {
	ser := serialize.JSON[int]{}
	a, b := mergeFixtures(t, ser)

	var sink bytes.Buffer
	written, err := Merge[int]([]io.Reader{a, b}, ser, KeepAll, &sink)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if written != 4 {
		t.Fatalf("written = %d, want 4 (both id=1 occurrences kept)", written)
	}
}

func TestFilterCopiesMatchingMessages(t *testing.T) {
	ser := serialize.JSON[int]{}
	src := encodeAll(t, ser, []bus.Msg[int]{
		{ID: 1, Timestamp: 1, Type: bus.ChannelUpdate, Body: 1},
		{ID: 2, Timestamp: 2, Type: bus.ChannelUpdate, Body: 2},
		{ID: 3, Timestamp: 3, Type: bus.ChannelUpdate, Body: 3},
	})

	var sink bytes.Buffer
	written, err := Filter[int](src, ser, func(m bus.Msg[int]) bool { return m.Body%2 == 1 }, &sink)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if written != 2 {
		t.Fatalf("written = %d, want 2", written)
	}
	got := decodeAll(t, ser, bytes.NewReader(sink.Bytes()))
	if len(got) != 2 || got[0].Body != 1 || got[1].Body != 3 {
		t.Fatalf("unexpected filtered output: %+v", got)
	}
}
